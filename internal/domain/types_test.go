package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		p    float64
		want RiskTier
	}{
		{0, TierLow},
		{0.2499, TierLow},
		{0.25, TierModerate},
		{0.4999, TierModerate},
		{0.5, TierHigh},
		{0.7499, TierHigh},
		{0.75, TierSevere},
		{1, TierSevere},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.p), "p=%v", tt.p)
	}
}

func TestParseSex(t *testing.T) {
	tests := []struct {
		in   string
		want Sex
	}{
		{"M", SexMale},
		{"female", SexFemale},
		{"Other", SexOther},
		{"", SexUnknown},
		{"unknown", SexUnknown},
	}
	for _, tt := range tests {
		got, err := ParseSex(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSex("x")
	assert.True(t, errors.Is(err, ErrInvalidSex))
}

func TestSeverity(t *testing.T) {
	assert.Less(t, SeverityHigh.Rank(), SeverityModerate.Rank())
	assert.Less(t, SeverityModerate.Rank(), SeverityMinor.Rank())
	assert.True(t, SeverityMinor.IsValid())
	assert.False(t, Severity("Critical").IsValid())
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, IncreasesRisk, DirectionOf(0.01))
	assert.Equal(t, DecreasesRisk, DirectionOf(-0.01))
	assert.Equal(t, Neutral, DirectionOf(0))
}
