package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	analysisdomain "github.com/smallbiznis/autora/internal/analysis/domain"
	comprehensivedomain "github.com/smallbiznis/autora/internal/comprehensive/domain"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	"github.com/smallbiznis/autora/internal/ratelimit"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

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
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "missing or invalid user identity",
		}

	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough credits for this analysis",
		}

	case errors.Is(err, ratelimit.ErrTooManyInFlight):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_analyses",
			Message: "too many analyses already running for this user",
		}

	case errors.Is(err, reportdomain.ErrNotFound),
		errors.Is(err, creditdomain.ErrAccountNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}

	case errors.Is(err, reportdomain.ErrInvalidTransition),
		errors.Is(err, reportdomain.ErrNotCompleted):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, analysisdomain.ErrUnknownModule),
		errors.Is(err, comprehensivedomain.ErrNoInputs),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidPageToken),
		errors.Is(err, reportdomain.ErrInvalidModule),
		errors.Is(err, reportdomain.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
