package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/drowsiness-cv/server/features"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/san-kum/drowsiness-cv/server/processor"
	"github.com/san-kum/drowsiness-cv/server/session"
)

// ErrorFor maps a pipeline error to an HTTP status and the API error body.
func ErrorFor(err error) (int, models.APIError) {
	apiErr := models.APIError{
		Code:    processor.FailureReason(err),
		Message: err.Error(),
	}

	switch {
	case errors.Is(err, processor.ErrInvalidImage):
		return http.StatusBadRequest, apiErr
	case errors.Is(err, features.ErrMalformedLandmarks):
		return http.StatusUnprocessableEntity, apiErr
	case errors.Is(err, ml.ErrModelInput), errors.Is(err, ml.ErrInference):
		return http.StatusInternalServerError, apiErr
	case errors.Is(err, processor.ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, apiErr
	case errors.Is(err, processor.ErrDetector):
		return http.StatusBadGateway, apiErr
	case errors.Is(err, processor.ErrQueueFull), errors.Is(err, processor.ErrQueueClosed):
		return http.StatusServiceUnavailable, apiErr
	case errors.Is(err, session.ErrSessionNotFound):
		apiErr.Code = "session_not_found"
		return http.StatusNotFound, apiErr
	default:
		apiErr.Message = "internal error"
		return http.StatusInternalServerError, apiErr
	}
}

func respondError(c *gin.Context, err error) {
	status, apiErr := ErrorFor(err)
	c.JSON(status, models.ErrorResponse{Error: apiErr})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: models.APIError{
		Code:    "invalid_request",
		Message: message,
	}})
}
