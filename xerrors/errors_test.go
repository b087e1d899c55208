package xerrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestWrapKeepsBusinessCode(t *testing.T) {
	inner := ErrInvalidBounds.WithDetail("compile %q", "S *")
	err := Wrap(inner, ErrInternal, "init pricing service")

	if !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("errors.Is(%v, ErrInvalidBounds) = false", err)
	}
	if err.Code != ErrInvalidBounds.Code || err.Message != "init pricing service" {
		t.Errorf("wrapped = %+v", err)
	}
	if !errors.Is(errors.Unwrap(err), inner) {
		t.Error("cause should be the original error")
	}
	if ErrInvalidBounds.Message != "invalid sweep bounds" {
		t.Error("sentinel must not be modified")
	}
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("clock moved backwards")
	err := Wrap(cause, ErrInternal, "init id generator")
	if err.Type != ErrInternal || !errors.Is(err, cause) {
		t.Errorf("wrapped = %+v", err)
	}
	if err.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", err.HTTPStatus())
	}
	if Wrap(nil, ErrInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestInvalidArg(t *testing.T) {
	err := InvalidArg(`unknown side "puts"`)
	if err.HTTPStatus() != http.StatusBadRequest || err.Error() != `[InvalidArg] 400: unknown side "puts"` {
		t.Errorf("err = %v, status %d", err, err.HTTPStatus())
	}
}
