package common

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidatorCollectsAllFailures(t *testing.T) {
	v := NewValidator().
		Field("latitude", 91.0, Latitude).
		Field("longitude", -181.0, Longitude).
		Field("source", strings.Repeat("x", 70), MaxLength(64)).
		Field("image", []byte{}, Required)

	if got := len(v.Errors()); got != 4 {
		t.Fatalf("expected 4 errors, got %d: %s", got, v.ErrorMessage())
	}
	err := ValidateAndReturnError(v)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidatorAcceptsGoodInput(t *testing.T) {
	v := NewValidator().
		Field("latitude", 41.88, Latitude).
		Field("longitude", -87.63, Longitude).
		Field("jobId", "6f1c1f43-7a53-4b8e-9b2f-6a4a3f4b1d21", UUID)
	if err := ValidateAndReturnError(v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLatitudeRejectsNaN(t *testing.T) {
	if Latitude("latitude", math.NaN()) == nil {
		t.Fatalf("NaN must be rejected")
	}
	if Latitude("latitude", "41") == nil {
		t.Fatalf("non-number must be rejected")
	}
}
