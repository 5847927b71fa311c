// Package errors provides the error taxonomy for the GRC SDK.
//
// Errors fall into four groups: validation errors raised before any network
// call, transport errors wrapped as "Failed to <verb> <noun>: <cause>",
// not-found errors ("<Entity> not found"), and partial failures left behind
// by multi-step writes that could not be compensated.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all SDK errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "promotion.PromoteToRisk")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimit
	KindTimeout
	KindNetwork
	KindServer
	KindInternal
	KindPartialFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindInternal:
		return "internal"
	case KindPartialFailure:
		return "partial_failure"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Validation
// =============================================================================

// ValidationError lists the required fields that were missing from a request.
type ValidationError struct {
	Op      string
	Missing []string
}

func (e *ValidationError) Error() string {
	msg := "missing required fields: " + strings.Join(e.Missing, ", ")
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Is matches any *Error of KindInvalidInput so errors.Is(err, ErrInvalidInput) works.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindInvalidInput
}

// RequireFields returns a ValidationError naming every empty field, or nil.
// Fields are given as name/value pairs and reported in the order passed.
func RequireFields(op string, pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Op: op, Missing: missing}
}

// =============================================================================
// Partial failure
// =============================================================================

// PartialFailureError reports a multi-step write that failed midway and whose
// compensating action failed as well, leaving OrphanID behind on the backend.
type PartialFailureError struct {
	Op         string
	Step       string
	OrphanKind string
	OrphanID   string
	Err        error
	Compensate error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: step %q failed (%v); compensation failed (%v); orphaned %s %s",
		e.Op, e.Step, e.Err, e.Compensate, e.OrphanKind, e.OrphanID)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

func (e *PartialFailureError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindPartialFailure
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op or Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Kind: GetKind(err)}
}

// Failed wraps a transport error as "Failed to <verb> <noun>: <cause>".
// The kind of the cause is preserved so callers can still branch on it.
func Failed(verb, noun string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kindOf(err),
		Message: fmt.Sprintf("Failed to %s %s", verb, noun),
		Err:     err,
	}
}

// NotFound returns the "<Entity> not found" error.
func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return KindInvalidInput
	}
	var p *PartialFailureError
	if errors.As(err, &p) {
		return KindPartialFailure
	}
	return KindUnknown
}

// kindOf maps both SDK errors and HTTP status carriers onto a Kind.
func kindOf(err error) Kind {
	if k := GetKind(err); k != KindUnknown {
		return k
	}
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		return KindFromStatus(sc.HTTPStatus())
	}
	return KindUnknown
}

// KindFromStatus maps an HTTP status code onto a Kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindAuthorization
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	return kindOf(err) == KindInvalidInput
}

// IsNotFoundError checks if the error is a not found error.
func IsNotFoundError(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsPartialFailure returns the PartialFailureError carried by err, if any.
func IsPartialFailure(err error) (*PartialFailureError, bool) {
	var p *PartialFailureError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	switch kindOf(err) {
	case KindRateLimit, KindNetwork, KindTimeout:
		return true
	case KindServer:
		var sc interface{ HTTPStatus() int }
		if errors.As(err, &sc) {
			return sc.HTTPStatus() != http.StatusNotImplemented
		}
		return true
	}
	return false
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrInvalidInput matches any validation error via errors.Is.
	ErrInvalidInput = &Error{Kind: KindInvalidInput, Message: "invalid input"}

	// ErrNotFound matches any not-found error via errors.Is.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

	// ErrPartialFailure matches any uncompensated multi-step failure.
	ErrPartialFailure = &Error{Kind: KindPartialFailure, Message: "partial failure"}

	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = &Error{Kind: KindInvalidInput, Message: "invalid configuration"}

	// ErrMissingBaseURL is returned when the backend URL is missing.
	ErrMissingBaseURL = &Error{Kind: KindInvalidInput, Message: "base URL is required"}

	// ErrRiskBasedObjective is returned when a synthetic risk-based objective
	// reaches a persistence call.
	ErrRiskBasedObjective = &Error{Kind: KindInvalidInput, Message: "risk-based objectives cannot be persisted directly"}
)
