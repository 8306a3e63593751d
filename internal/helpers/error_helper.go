package helpers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/capacity"
	"github.com/farellandr/gigboard/internal/occurrence"
	"github.com/farellandr/gigboard/internal/recurrence"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func HTTPStatusText(code int) string {
	return http.StatusText(code)
}

func RespondWithError(c *gin.Context, statusCode int, customMessage string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   HTTPStatusText(statusCode),
		Message: customMessage,
	})
}

// RespondWithDomainError maps an error from the occurrence and capacity
// layers to its HTTP status.
func RespondWithDomainError(c *gin.Context, err error) {
	var invalidDate *calendar.InvalidDateError
	var invalidTransition *capacity.InvalidTransitionError

	switch {
	case errors.As(err, &invalidDate),
		errors.Is(err, recurrence.ErrInvalidDescriptor),
		errors.Is(err, occurrence.ErrInvalidOverrideStatus),
		errors.Is(err, capacity.ErrNameRequired):
		RespondWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, occurrence.ErrEventNotFound),
		errors.Is(err, occurrence.ErrNotAnOccurrence),
		errors.Is(err, occurrence.ErrOverrideNotFound),
		errors.Is(err, capacity.ErrSignupNotFound):
		RespondWithError(c, http.StatusNotFound, err.Error())
	case errors.As(err, &invalidTransition),
		errors.Is(err, occurrence.ErrRescheduleConflict),
		errors.Is(err, capacity.ErrOccurrenceCancelled),
		errors.Is(err, capacity.ErrOccurrencePast),
		errors.Is(err, capacity.ErrAlreadySignedUp):
		RespondWithError(c, http.StatusConflict, err.Error())
	case errors.Is(err, capacity.ErrLockTimeout):
		c.Header("Retry-After", "1")
		RespondWithError(c, http.StatusServiceUnavailable, err.Error())
	default:
		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		RespondWithError(c, http.StatusInternalServerError, "Unexpected server error.")
	}
}
