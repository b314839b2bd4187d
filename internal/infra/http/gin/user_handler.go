package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"findit/internal/app/dto"
	usersvc "findit/internal/app/services/users"
	domainuser "findit/internal/domain/user"
)

type UserHandler struct {
	Service *usersvc.Service
	Logger  *slog.Logger
}

// profilePatchRequest lists the only editable fields; anything else fails decoding.
type profilePatchRequest struct {
	Name       *string `json:"name"`
	Avatar     *string `json:"avatar"`
	Phone      *string `json:"phone"`
	AltEmail   *string `json:"alt_email"`
	Telegram   *string `json:"telegram"`
	Whatsapp   *string `json:"whatsapp"`
	Bio        *string `json:"bio"`
	Hostel     *string `json:"hostel"`
	Department *string `json:"department"`
	GradYear   *int    `json:"grad_year"`
}

func (r profilePatchRequest) toPatch() domainuser.ProfilePatch {
	return domainuser.ProfilePatch{
		Name:       r.Name,
		Avatar:     r.Avatar,
		Phone:      r.Phone,
		AltEmail:   r.AltEmail,
		Telegram:   r.Telegram,
		Whatsapp:   r.Whatsapp,
		Bio:        r.Bio,
		Hostel:     r.Hostel,
		Department: r.Department,
		GradYear:   r.GradYear,
	}
}

func (h UserHandler) Me(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	u, err := h.Service.Me(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, h.Logger, err, "load profile", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapUserProfile(u))
}

func (h UserHandler) UpdateMe(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req profilePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: only profile fields can be updated")
		return
	}
	u, err := h.Service.UpdateProfile(c.Request.Context(), p.ID, req.toPatch())
	if err != nil {
		respondError(c, h.Logger, err, "update profile", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapUserProfile(u))
}

func (h UserHandler) Profile(c *gin.Context) {
	u, err := h.Service.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.Logger, err, "load public profile", "user_id", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, dto.MapPublicProfile(u))
}
