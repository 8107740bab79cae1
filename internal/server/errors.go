package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	attestdomain "github.com/voxguard/voxguard/internal/attest/domain"
	"github.com/voxguard/voxguard/internal/broker"
	usageservice "github.com/voxguard/voxguard/internal/usage/service"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate_limited")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrInternal       = errors.New("internal_error")
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// requestError carries a caller-facing detail string alongside the
// sentinel used for status mapping.
type requestError struct {
	sentinel error
	details  string
}

func (e *requestError) Error() string {
	return e.sentinel.Error() + ": " + e.details
}

func (e *requestError) Unwrap() error {
	return e.sentinel
}

func withDetails(sentinel error, details string) error {
	return &requestError{sentinel: sentinel, details: details}
}

// ErrorHandlingMiddleware renders the last recorded error once the
// handler chain finishes, unless a response was already written.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	payload := errorResponse{}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		payload.Details = reqErr.details
	}

	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, usageservice.ErrUnknownService):
		payload.Error = "invalid_request"
		return http.StatusBadRequest, payload
	case errors.Is(err, ErrUnauthorized):
		payload.Error = "unauthorized"
		return http.StatusUnauthorized, payload
	case errors.Is(err, ErrForbidden),
		errors.Is(err, attestdomain.ErrVerificationFailed),
		errors.Is(err, attestdomain.ErrChallengeInvalid),
		errors.Is(err, attestdomain.ErrKeyNotFound):
		payload.Error = "forbidden"
		return http.StatusForbidden, payload
	case errors.Is(err, ErrNotFound):
		payload.Error = "not_found"
		return http.StatusNotFound, payload
	case errors.Is(err, ErrRateLimited):
		payload.Error = "rate_limited"
		return http.StatusTooManyRequests, payload
	case errors.Is(err, broker.ErrNotConfigured):
		payload.Error = "service_unavailable"
		return http.StatusServiceUnavailable, payload
	default:
		// Internal details stay in the logs, never in the response.
		return http.StatusInternalServerError, errorResponse{Error: "internal_error"}
	}
}

// classifyErrorForLog labels request errors for the access log.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusTooManyRequests:
		return "rate", payload.Error
	case status == http.StatusForbidden:
		return "trust", payload.Error
	case status == http.StatusUnauthorized:
		return "identity", payload.Error
	case status < http.StatusInternalServerError:
		return "request", payload.Error
	default:
		return "internal", payload.Error
	}
}
