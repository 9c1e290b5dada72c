// Package errors provides unified error handling for the gateway core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of failure a ServiceError represents. Handlers
// map a Kind to an HTTP status; callers should branch on Kind, not on the
// HTTP status, so the mapping can change in one place.
type Kind string

const (
	KindAuthenticationFailed Kind = "AUTHENTICATION_FAILED"
	KindPermissionDenied     Kind = "PERMISSION_DENIED"
	KindNotFound             Kind = "NOT_FOUND"
	KindRateLimited          Kind = "RATE_LIMITED"
	KindBadRequest           Kind = "BAD_REQUEST"
	KindUpstreamUnavailable  Kind = "UPSTREAM_UNAVAILABLE"
	KindUpstreamTimeout      Kind = "UPSTREAM_TIMEOUT"
	KindUpstreamError        Kind = "UPSTREAM_ERROR"
	KindInternalError        Kind = "INTERNAL_ERROR"
)

var httpStatusByKind = map[Kind]int{
	KindAuthenticationFailed: http.StatusUnauthorized,
	KindPermissionDenied:     http.StatusForbidden,
	KindNotFound:             http.StatusNotFound,
	KindRateLimited:          http.StatusTooManyRequests,
	KindBadRequest:           http.StatusBadRequest,
	KindUpstreamUnavailable:  http.StatusServiceUnavailable,
	KindUpstreamTimeout:      http.StatusGatewayTimeout,
	KindUpstreamError:        http.StatusBadGateway,
	KindInternalError:        http.StatusInternalServerError,
}

// ServiceError is a structured error carrying an error Kind, a caller-safe
// message, and an optional set of JSON-able details (e.g. reset_time on a
// RateLimited error). It never leaks the wrapped internal error to clients.
type ServiceError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code associated with the error's Kind.
func (e *ServiceError) HTTPStatus() int {
	if status, ok := httpStatusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

func AuthenticationFailed(message string) *ServiceError {
	return New(KindAuthenticationFailed, message)
}

func PermissionDenied(permission string) *ServiceError {
	return New(KindPermissionDenied, "missing required permission").WithDetails("permission", permission)
}

func NotFound(resource string) *ServiceError {
	return New(KindNotFound, "resource not found").WithDetails("resource", resource)
}

// RateLimited reports an exhausted rate-limit budget. resetAt is carried as
// an RFC3339 timestamp so handlers can surface it verbatim in the response body.
func RateLimited(limit int, resetAt string) *ServiceError {
	return New(KindRateLimited, "rate limit exceeded").
		WithDetails("limit", limit).
		WithDetails("reset_time", resetAt)
}

func BadRequest(reason string) *ServiceError {
	return New(KindBadRequest, reason)
}

func UpstreamUnavailable(service string) *ServiceError {
	return New(KindUpstreamUnavailable, "no healthy instance available").WithDetails("service", service)
}

func UpstreamTimeout(service string, attempts int) *ServiceError {
	return New(KindUpstreamTimeout, "upstream call timed out after retries").
		WithDetails("service", service).
		WithDetails("attempts", attempts)
}

func UpstreamError(service string, err error) *ServiceError {
	return Wrap(KindUpstreamError, "upstream connection failed after retries", err).
		WithDetails("service", service)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternalError, message, err)
}

// IsServiceError reports whether err (or something it wraps) is a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// As extracts a *ServiceError from an error chain, if present.
func As(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// HTTPStatus returns the HTTP status for err: the Kind-mapped status if err
// wraps a *ServiceError, otherwise 500 (InternalError, never leaked).
func HTTPStatus(err error) int {
	if serviceErr := As(err); serviceErr != nil {
		return serviceErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsRetriable reports whether a proxy-layer error represents a timeout or
// connection failure the Proxy Engine should retry, as opposed to an
// application-level 4xx response that must be passed through untouched.
func IsRetriable(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrConnectionReset) || errors.Is(err, ErrConnectionRefused)
}

var (
	ErrConnectionReset   = errors.New("connection reset by peer")
	ErrConnectionRefused = errors.New("connection refused")
)
