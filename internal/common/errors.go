package common

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")

	// Pipeline errors
	ErrInput             = errors.New("invalid input image")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrConfiguration     = errors.New("invalid configuration")

	// Resource-specific errors
	ErrAnalysisNotFound = fmt.Errorf("analysis %w", ErrNotFound)
	ErrFileNotFound     = fmt.Errorf("file %w", ErrNotFound)
	ErrJobNotFound      = fmt.Errorf("job %w", ErrNotFound)
	ErrPresetNotFound   = fmt.Errorf("preset %w", ErrNotFound)

	ErrAnalysisInProgress = fmt.Errorf("analysis in progress: %w", ErrConflict)

	// Validation errors
	ErrValidation = errors.New("validation error")
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InputError reports an image source that could not be read or decoded.
type InputError struct {
	Source string
	Err    error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrInput, e.Source)
	}
	return fmt.Sprintf("%s %s: %v", ErrInput, e.Source, e.Err)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInput
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// DimensionError reports two rasters that were expected to share bounds.
type DimensionError struct {
	Want image.Point
	Got  image.Point
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: want %dx%d, got %dx%d", ErrDimensionMismatch, e.Want.X, e.Want.Y, e.Got.X, e.Got.Y)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// ConfigError names a single invalid parameter.
type ConfigError struct {
	Field   string
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Message)
}

func (e ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConfigErrors collects every problem found in one validation pass.
type ConfigErrors []ConfigError

func (e ConfigErrors) Error() string {
	parts := make([]string, len(e))
	for i, ce := range e {
		parts[i] = ce.Field + ": " + ce.Message
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, strings.Join(parts, "; "))
}

func (e ConfigErrors) Is(target error) bool {
	return target == ErrConfiguration
}

// Err returns nil for an empty list so callers can return it directly.
func (e ConfigErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// NewInputError wraps err as an InputError for source.
func NewInputError(source string, err error) error {
	return &InputError{Source: source, Err: err}
}

// CheckSameBounds returns a DimensionError when a and b differ in size.
func CheckSameBounds(a, b image.Rectangle) error {
	if a.Size() != b.Size() {
		return &DimensionError{Want: a.Size(), Got: b.Size()}
	}
	return nil
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized checks if error is an unauthorized error
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if error is a forbidden error
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInput checks if error is an unreadable or corrupt image error
func IsInput(err error) bool {
	return errors.Is(err, ErrInput)
}

// IsDimensionMismatch checks if error is a raster shape mismatch
func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}

// IsConfiguration checks if error is an invalid parameter error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
