package controllers

import (
	"errors"
	"net/http"

	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/services"
	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported without detail.
func respondError(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if ve.Kind == services.ValidationTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": ve.Message, "kind": ve.Kind})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, services.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Analysis has not finished yet"})
	case errors.Is(err, services.ErrJobInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Analysis is still processing and cannot be deleted"})
	case errors.Is(err, services.ErrServiceBusy):
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis service is busy, please retry shortly"})
	case errors.Is(err, services.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		logger.WithError(err, "controller").WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
