package errors

import (
	"errors"
	"fmt"
	"testing"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown"},
		{KindInvalidInput, "invalid_input"},
		{KindNotFound, "not_found"},
		{KindNetwork, "network"},
		{KindServer, "server"},
		{KindPartialFailure, "partial_failure"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "op and message and err",
			err:      &Error{Op: "api.Risks.Create", Message: "create failed", Err: fmt.Errorf("connection refused")},
			expected: "api.Risks.Create: create failed: connection refused",
		},
		{
			name:     "message and err",
			err:      &Error{Message: "create failed", Err: fmt.Errorf("connection refused")},
			expected: "create failed: connection refused",
		},
		{
			name:     "message only",
			err:      &Error{Message: "create failed"},
			expected: "create failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFailed(t *testing.T) {
	err := Failed("fetch", "findings", statusErr(503))
	if got, want := err.Error(), "Failed to fetch findings: http 503"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if GetKind(err) != KindServer {
		t.Errorf("GetKind() = %v, want server", GetKind(err))
	}
	if !IsRetryable(err) {
		t.Error("503 should be retryable")
	}
	if Failed("fetch", "findings", nil) != nil {
		t.Error("Failed(nil) should be nil")
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("Risk")
	if err.Error() != "Risk not found" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) should be true")
	}
	if !IsNotFoundError(Failed("fetch", "risk", statusErr(404))) {
		t.Error("wrapped 404 should be a not-found error")
	}
}

func TestRequireFields(t *testing.T) {
	if err := RequireFields("op", "name", "x", "impact", "high"); err != nil {
		t.Fatalf("RequireFields() = %v, want nil", err)
	}

	err := RequireFields("promote", "findingId", "", "name", "n", "impact", " ")
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(v.Missing) != 2 || v.Missing[0] != "findingId" || v.Missing[1] != "impact" {
		t.Errorf("Missing = %v", v.Missing)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) should be true")
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError should be true")
	}
}

func TestPartialFailureError(t *testing.T) {
	cause := errors.New("patch failed")
	err := Wrap(&PartialFailureError{
		Op: "promote", Step: "patch_assessment", OrphanKind: "risk", OrphanID: "risk-9",
		Err: cause, Compensate: errors.New("delete failed"),
	}, "promotion.PromoteToRisk")

	p, ok := IsPartialFailure(err)
	if !ok {
		t.Fatal("IsPartialFailure() = false")
	}
	if p.OrphanID != "risk-9" {
		t.Errorf("OrphanID = %q", p.OrphanID)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable")
	}
	if GetKind(err) != KindPartialFailure {
		t.Errorf("GetKind() = %v", GetKind(err))
	}
}

func TestKindFromStatus(t *testing.T) {
	tests := map[int]Kind{
		400: KindInvalidInput,
		401: KindAuthentication,
		403: KindAuthorization,
		404: KindNotFound,
		409: KindConflict,
		429: KindRateLimit,
		504: KindTimeout,
		500: KindServer,
		418: KindUnknown,
	}
	for status, want := range tests {
		if got := KindFromStatus(status); got != want {
			t.Errorf("KindFromStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{statusErr(429), true},
		{statusErr(500), true},
		{statusErr(501), false},
		{statusErr(404), false},
		{E(KindNetwork, "dial"), true},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
