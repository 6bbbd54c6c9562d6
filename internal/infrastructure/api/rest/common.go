// Package rest exposes the orchestrator's HTTP surface: the approval
// loop, chain and job submission, fleet management, template discovery,
// and artifact serving.
package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/renderfleet/orchestrator/internal/application/approval"
	"github.com/renderfleet/orchestrator/internal/application/chain"
	"github.com/renderfleet/orchestrator/pkg/models"
)

const requestIDKey = "request_id"

// APIError is the wire shape of every error response.
type APIError struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Status    int      `json:"-"`
}

// NewAPIError builds an APIError.
func NewAPIError(code, message string, status int) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}

// Common errors.
var (
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
	ErrInvalidBody      = NewAPIError("INVALID_BODY", "Request body could not be parsed", http.StatusBadRequest)
)

// RequestIDMiddleware attaches a request id to every request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// GetRequestID returns the request id attached by the middleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func respondJSON(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func respondAPIError(c *gin.Context, apiErr *APIError) {
	apiErr.RequestID = GetRequestID(c)
	c.AbortWithStatusJSON(apiErr.Status, apiErr)
}

func bindJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		e := *ErrInvalidBody
		e.Details = []string{err.Error()}
		respondAPIError(c, &e)
		return err
	}
	return nil
}

// TranslateError maps domain errors onto API errors.
func TranslateError(err error) *APIError {
	var validation *models.ValidationError
	var chainValidation *chain.ValidationError
	var invalidParams *approval.InvalidParametersError

	switch {
	case errors.Is(err, models.ErrNotFound):
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)

	case errors.Is(err, models.ErrTokenUsed):
		return NewAPIError("TOKEN_USED", "Approval request already decided", http.StatusConflict)

	case errors.Is(err, models.ErrTokenExpired):
		return NewAPIError("TOKEN_EXPIRED", "Approval link expired", http.StatusGone)

	case errors.Is(err, models.ErrNoBackendAvailable):
		return NewAPIError("NO_BACKEND_AVAILABLE", "No render backend is online", http.StatusServiceUnavailable)

	case errors.As(err, &invalidParams):
		apiErr := NewAPIError("INVALID_PARAMETERS", "One or more parameters are invalid", http.StatusUnprocessableEntity)
		apiErr.Details = invalidParams.Problems
		return apiErr

	case errors.As(err, &validation):
		return NewAPIError("VALIDATION_ERROR", validation.Error(), http.StatusBadRequest)

	case errors.As(err, &chainValidation):
		return NewAPIError("CHAIN_VALIDATION_ERROR", chainValidation.Error(), http.StatusBadRequest)

	default:
		return NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	}
}
