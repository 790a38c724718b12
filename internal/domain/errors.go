package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a failure for routing, retry, and quota decisions.
type ErrorKind string

const (
	KindProtocol            ErrorKind = "protocol_error"
	KindNoAvailableProvider ErrorKind = "no_available_provider"
	KindUpstreamAuth        ErrorKind = "upstream_auth"
	KindUpstreamQuota       ErrorKind = "upstream_quota"
	KindUpstreamCapacity    ErrorKind = "upstream_capacity"
	KindUpstreamTransient   ErrorKind = "upstream_transient"
	KindUpstreamIdleTimeout ErrorKind = "upstream_idle_timeout"
	KindToolPayloadInvalid  ErrorKind = "tool_payload_invalid"
	KindInternalConversion  ErrorKind = "internal_conversion_error"
	KindCancelled           ErrorKind = "cancelled"
)

// GatewayError is the single error type crossing component boundaries. It
// carries the taxonomy kind plus whatever the provider adapter learned from
// the upstream body.
type GatewayError struct {
	Kind       ErrorKind
	Status     int
	Code       string
	Message    string
	Details    map[string]any
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Recoverable reports whether the executor may fail over to another target.
func (e *GatewayError) Recoverable() bool {
	switch e.Kind {
	case KindUpstreamTransient, KindUpstreamCapacity, KindUpstreamQuota, KindUpstreamIdleTimeout:
		return true
	}
	return false
}

// HTTPStatus maps the kind to the status surfaced to the client.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindProtocol:
		return http.StatusBadRequest
	case KindToolPayloadInvalid:
		return http.StatusUnprocessableEntity
	case KindNoAvailableProvider:
		return http.StatusServiceUnavailable
	case KindUpstreamAuth:
		return http.StatusBadGateway
	case KindUpstreamQuota, KindUpstreamCapacity:
		return http.StatusTooManyRequests
	case KindUpstreamTransient, KindUpstreamIdleTimeout:
		return http.StatusBadGateway
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a GatewayError with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrorKind, err error, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the taxonomy kind from any error; unclassified errors are
// treated as transient so the executor keeps trying other targets.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUpstreamTransient
}

// AsGatewayError coerces any error into a GatewayError, classifying
// unknowns as transient.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.Canceled) {
		return &GatewayError{Kind: KindCancelled, Message: "request cancelled", Err: err}
	}
	return &GatewayError{Kind: KindUpstreamTransient, Message: err.Error(), Err: err}
}
