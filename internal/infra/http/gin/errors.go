package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"findit/internal/app/apperr"
)

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperr.ErrPermissionDenied:
		return http.StatusForbidden
	case apperr.ErrInvalidInput:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict:
		return http.StatusConflict
	case apperr.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the taxonomy status with its reason. Internal causes are only logged.
func respondError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(code, gin.H{"error": "internal error"})
		return
	}
	if logger != nil {
		logger.Debug("request rejected", append([]any{"action", action, "error", err}, attrs...)...)
	}
	c.JSON(code, gin.H{"error": apperr.Reason(err)})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}
