package common

import (
	"errors"
	"fmt"
	"image"
	"io"
	"testing"
)

func TestInputError_IsAndUnwrap(t *testing.T) {
	err := fmt.Errorf("load: %w", NewInputError("eye.png", io.ErrUnexpectedEOF))

	if !IsInput(err) {
		t.Fatalf("expected IsInput to match %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if IsConfiguration(err) {
		t.Fatalf("input error must not match configuration")
	}
}

func TestCheckSameBounds(t *testing.T) {
	a := image.Rect(0, 0, 10, 20)

	if err := CheckSameBounds(a, image.Rect(5, 5, 15, 25)); err != nil {
		t.Fatalf("same size with different origin should pass, got %v", err)
	}

	err := CheckSameBounds(a, image.Rect(0, 0, 20, 10))
	if !IsDimensionMismatch(err) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DimensionError")
	}
	if de.Want != image.Pt(10, 20) || de.Got != image.Pt(20, 10) {
		t.Errorf("unexpected sizes in %v", de)
	}
}

func TestConfigErrors(t *testing.T) {
	var errs ConfigErrors
	if errs.Err() != nil {
		t.Fatalf("empty list should produce nil error")
	}

	errs = append(errs, ConfigError{Field: "dark.max_area", Message: "must be >= min_area"})
	err := errs.Err()
	if !IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if got := err.Error(); got != "invalid configuration: dark.max_area: must be >= min_area" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestResourceNotFound(t *testing.T) {
	if !IsNotFound(ErrAnalysisNotFound) || !IsNotFound(ErrPresetNotFound) {
		t.Fatalf("resource errors should wrap ErrNotFound")
	}
	if !IsConflict(ErrAnalysisInProgress) || IsNotFound(ErrAnalysisInProgress) {
		t.Fatalf("ErrAnalysisInProgress should only match ErrConflict")
	}
}
