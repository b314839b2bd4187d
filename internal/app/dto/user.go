package dto

import (
	"time"

	domainuser "findit/internal/domain/user"
)

type UserProfile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	AltEmail        string    `json:"alt_email,omitempty"`
	Telegram        string    `json:"telegram,omitempty"`
	Whatsapp        string    `json:"whatsapp,omitempty"`
	Bio             string    `json:"bio,omitempty"`
	Hostel          string    `json:"hostel,omitempty"`
	Department      string    `json:"department,omitempty"`
	GradYear        int       `json:"grad_year,omitempty"`
	Reputation      int       `json:"reputation"`
	Badges          []string  `json:"badges"`
	ProfileComplete bool      `json:"profile_complete"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PublicProfile omits private contact channels.
type PublicProfile struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Avatar     string   `json:"avatar,omitempty"`
	Bio        string   `json:"bio,omitempty"`
	Hostel     string   `json:"hostel,omitempty"`
	Department string   `json:"department,omitempty"`
	GradYear   int      `json:"grad_year,omitempty"`
	Reputation int      `json:"reputation"`
	Badges     []string `json:"badges"`
}

type AuthResponse struct {
	User  UserProfile `json:"user"`
	Token string      `json:"token"`
}

func MapUserProfile(user *domainuser.User) UserProfile {
	if user == nil {
		return UserProfile{}
	}
	return UserProfile{
		ID:              user.ID,
		Email:           user.Email,
		Name:            user.Name,
		Avatar:          user.Avatar,
		Phone:           user.Phone,
		AltEmail:        user.AltEmail,
		Telegram:        user.Telegram,
		Whatsapp:        user.Whatsapp,
		Bio:             user.Bio,
		Hostel:          user.Hostel,
		Department:      user.Department,
		GradYear:        user.GradYear,
		Reputation:      user.Reputation,
		Badges:          nonNil(user.Badges),
		ProfileComplete: user.ProfileComplete(),
		CreatedAt:       user.CreatedAt,
		UpdatedAt:       user.UpdatedAt,
	}
}

func MapPublicProfile(user *domainuser.User) PublicProfile {
	if user == nil {
		return PublicProfile{}
	}
	return PublicProfile{
		ID:         user.ID,
		Name:       user.Name,
		Avatar:     user.Avatar,
		Bio:        user.Bio,
		Hostel:     user.Hostel,
		Department: user.Department,
		GradYear:   user.GradYear,
		Reputation: user.Reputation,
		Badges:     nonNil(user.Badges),
	}
}

func MapCounterpart(user *domainuser.User) *Counterpart {
	if user == nil {
		return nil
	}
	return &Counterpart{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Avatar:     user.Avatar,
		Hostel:     user.Hostel,
		Department: user.Department,
		GradYear:   user.GradYear,
		Phone:      user.Phone,
		Whatsapp:   user.Whatsapp,
	}
}

func NewAuthResponse(user *domainuser.User, token string) AuthResponse {
	return AuthResponse{
		User:  MapUserProfile(user),
		Token: token,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
