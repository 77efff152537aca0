package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Sentinel errors for the failure kinds of the engine. Typed errors below
// match these through errors.Is so callers can branch without type switches.
var (
	ErrOutOfRangeInput   = errors.New("out of range input")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrDegenerateFeature = errors.New("degenerate feature")
	ErrTrainingTimeout   = errors.New("training timeout")
	ErrSchemaMismatch    = errors.New("schema mismatch")
)

// OutOfRangeError rejects a single malformed record field.
type OutOfRangeError struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
	Min   float64     `json:"min"`
	Max   float64     `json:"max"`
}

// Error implements the error interface
func (e *OutOfRangeError) Error() string {
	if e.Max >= math.MaxFloat64 {
		return fmt.Sprintf("field '%s' out of range: %v is below %g", e.Field, e.Value, e.Min)
	}
	return fmt.Sprintf("field '%s' out of range: %v not in [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

// Is matches ErrOutOfRangeInput.
func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRangeInput }

// InsufficientDataError means cross-validation cannot stratify the cohort.
type InsufficientDataError struct {
	Class    bool   `json:"class"`
	Count    int    `json:"count"`
	Required int    `json:"required"`
	Stage    string `json:"stage"`
}

// Error implements the error interface
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data in %s: class %t has %d examples, need at least %d",
		e.Stage, e.Class, e.Count, e.Required)
}

// Is matches ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// DegenerateFeatureError reports features with zero variance on the training split.
type DegenerateFeatureError struct {
	Features []string `json:"features"`
}

// Error implements the error interface
func (e *DegenerateFeatureError) Error() string {
	return fmt.Sprintf("zero-variance features in training split: %s", strings.Join(e.Features, ", "))
}

// Is matches ErrDegenerateFeature.
func (e *DegenerateFeatureError) Is(target error) bool { return target == ErrDegenerateFeature }

// TrainingTimeoutError is returned when a fit exceeds its deadline or fit cap.
type TrainingTimeoutError struct {
	Elapsed   time.Duration `json:"elapsed"`
	FitsDone  int           `json:"fits_done"`
	FitsLimit int           `json:"fits_limit,omitempty"`
	Cause     error         `json:"-"`
}

// Error implements the error interface
func (e *TrainingTimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("training stopped after %s (%d fits): %v", e.Elapsed, e.FitsDone, e.Cause)
	}
	return fmt.Sprintf("training stopped after %s: fit cap %d reached", e.Elapsed, e.FitsLimit)
}

// Is matches ErrTrainingTimeout.
func (e *TrainingTimeoutError) Is(target error) bool { return target == ErrTrainingTimeout }

// Unwrap exposes the context error, if any.
func (e *TrainingTimeoutError) Unwrap() error { return e.Cause }

// SchemaMismatchError means a vector or bundle does not match the artifact schema.
type SchemaMismatchError struct {
	Expected []string `json:"expected,omitempty"`
	Got      []string `json:"got,omitempty"`
	Reason   string   `json:"reason"`
}

// Error implements the error interface
func (e *SchemaMismatchError) Error() string {
	return "schema mismatch: " + e.Reason
}

// Is matches ErrSchemaMismatch.
func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// UnknownDrugWarning is a non-fatal notice that a medication name could not be
// resolved. Lookups carry these next to their findings.
type UnknownDrugWarning struct {
	Input      string `json:"input"`
	Normalized string `json:"normalized"`
}

// String renders the warning for logs.
func (w UnknownDrugWarning) String() string {
	return fmt.Sprintf("unknown drug %q (normalized %q)", w.Input, w.Normalized)
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
