package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"out of range", &OutOfRangeError{Field: "age", Value: 140, Min: 18, Max: 120}, ErrOutOfRangeInput},
		{"insufficient", &InsufficientDataError{Class: true, Count: 3, Required: 5, Stage: "cross-validation"}, ErrInsufficientData},
		{"degenerate", &DegenerateFeatureError{Features: []string{"bmi"}}, ErrDegenerateFeature},
		{"timeout", &TrainingTimeoutError{Elapsed: time.Second, FitsLimit: 10}, ErrTrainingTimeout},
		{"schema", &SchemaMismatchError{Reason: "different bins"}, ErrSchemaMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("record 3: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestOutOfRangeError_Message(t *testing.T) {
	bounded := &OutOfRangeError{Field: "age", Value: 140, Min: 18, Max: 120}
	assert.Equal(t, "field 'age' out of range: 140 not in [18, 120]", bounded.Error())

	open := &OutOfRangeError{Field: "medication_count", Value: -1, Min: 0, Max: math.MaxFloat64}
	assert.Equal(t, "field 'medication_count' out of range: -1 is below 0", open.Error())
}

func TestTrainingTimeoutError_Unwrap(t *testing.T) {
	err := &TrainingTimeoutError{Elapsed: time.Minute, FitsDone: 4, Cause: context.DeadlineExceeded}
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrTrainingTimeout))
	assert.Contains(t, err.Error(), "4 fits")
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("server.port", "must be between 1 and 65535", 0)
	assert.Equal(t, "validation error for field 'server.port': must be between 1 and 65535", err.Error())

	var target *ValidationError
	assert.True(t, errors.As(fmt.Errorf("load: %w", err), &target))
	assert.Equal(t, "server.port", target.Field)
}

func TestUnknownDrugWarning(t *testing.T) {
	w := UnknownDrugWarning{Input: "Unobtainium ", Normalized: "unobtainium"}
	assert.Equal(t, `unknown drug "Unobtainium " (normalized "unobtainium")`, w.String())
}
