package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired       = errors.New("user: id is required")
	ErrEmailRequired    = errors.New("user: email is required")
	ErrEmailNotAllowed  = errors.New("user: email domain is not allowed")
	ErrInvalidGradYear  = errors.New("user: grad_year is out of range")
	ErrEmailAlreadyUsed = errors.New("user: email already used")
	ErrNotFound         = errors.New("user: not found")
)

// User is a campus profile. Identity itself is owned by the auth provider.
type User struct {
	ID         string
	Email      string
	Name       string
	Avatar     string
	Phone      string
	AltEmail   string
	Telegram   string
	Whatsapp   string
	Bio        string
	Hostel     string
	Department string
	GradYear   int
	Reputation int
	Badges     []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Repository interface {
	ByID(ctx context.Context, id string) (*User, error)
	ByIDs(ctx context.Context, ids []string) (map[string]*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}

type CreateParams struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, ErrIDRequired
	}
	email := NormalizeEmail(params.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &User{
		ID:        id,
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ProfileComplete reports whether the user can be contacted outside the app.
func (u *User) ProfileComplete() bool {
	return u != nil && strings.TrimSpace(u.Phone) != ""
}

// ProfilePatch holds the editable fields; nil means unchanged.
type ProfilePatch struct {
	Name       *string
	Avatar     *string
	Phone      *string
	AltEmail   *string
	Telegram   *string
	Whatsapp   *string
	Bio        *string
	Hostel     *string
	Department *string
	GradYear   *int
}

func (u *User) ApplyPatch(patch ProfilePatch, now time.Time) error {
	if patch.GradYear != nil {
		if y := *patch.GradYear; y != 0 && (y < 1950 || y > 2100) {
			return ErrInvalidGradYear
		}
		u.GradYear = *patch.GradYear
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		set(&u.Name, patch.Name)
	}
	set(&u.Avatar, patch.Avatar)
	set(&u.Phone, patch.Phone)
	set(&u.AltEmail, patch.AltEmail)
	set(&u.Telegram, patch.Telegram)
	set(&u.Whatsapp, patch.Whatsapp)
	set(&u.Bio, patch.Bio)
	set(&u.Hostel, patch.Hostel)
	set(&u.Department, patch.Department)
	if now.IsZero() {
		now = time.Now()
	}
	u.UpdatedAt = now.UTC()
	return nil
}

// EmailAllowed checks the institutional domain. An empty domain allows everything.
func EmailAllowed(email, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	if domain == "" {
		return true
	}
	return strings.HasSuffix(NormalizeEmail(email), "@"+domain)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
