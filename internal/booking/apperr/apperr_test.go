package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("confirm booking 7: %w", InvalidTransition("booking is %s", "confirmed"))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected wrapped error to match ErrInvalidTransition")
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("kinds must not cross-match")
	}
	if got := HTTPStatus(err); got != http.StatusConflict {
		t.Fatalf("expected 409, got %d", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for untyped error, got %d", got)
	}
}

func TestValidationMessage(t *testing.T) {
	err := Validation("reason", "is required")
	if err.Error() != "reason: is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
}

func TestCodeNarrowing(t *testing.T) {
	windowErr := &Error{Kind: KindInvalidTransition, Code: "window", Message: "too late"}
	other := InvalidTransition("booking is cancelled")
	if !errors.Is(windowErr, ErrInvalidTransition) {
		t.Fatal("coded error still matches its kind")
	}
	if errors.Is(other, windowErr) {
		t.Fatal("uncoded error must not match a coded target")
	}
}
