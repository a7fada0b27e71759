package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wcsconnector/core/pkg/gateway"
)

// writeGatewayError maps a Gateway rejection reason to an HTTP status and
// writes the JSON error envelope. Returns true if err was handled.
func writeGatewayError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, gateway.ErrUnknownDevice):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrCapabilityMismatch), errors.Is(err, gateway.ErrMalformedCommand), errors.Is(err, gateway.ErrLayoutViolation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrDeviceNotActivated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("unexpected gateway error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
	return true
}
