package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"findit/internal/app/dto"
	usersvc "findit/internal/app/services/users"
)

// AuthHandler serves the developer login. Production identity comes from an external
// provider that issues the same bearer tokens.
type AuthHandler struct {
	Service *usersvc.Service
	Enabled bool
	Logger  *slog.Logger
}

type devLoginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h AuthHandler) DevLogin(c *gin.Context) {
	if !h.Enabled || h.Service == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req devLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	result, err := h.Service.DevLogin(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		respondError(c, h.Logger, err, "dev login")
		return
	}
	c.JSON(http.StatusOK, dto.NewAuthResponse(result.User, result.Token))
}
