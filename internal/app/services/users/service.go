package users

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"findit/internal/app/apperr"
	domainuser "findit/internal/domain/user"
)

var ErrServiceNotConfigured = errors.New("users: service missing dependencies")

// TokenIssuer mints a bearer token for a user.
type TokenIssuer interface {
	IssueFor(user *domainuser.User) (string, error)
}

type Service struct {
	Users         domainuser.Repository
	Tokens        TokenIssuer
	AllowedDomain string
	Logger        *slog.Logger
	NewID         func() string
	Now           func() time.Time
}

type LoginResult struct {
	User  *domainuser.User
	Token string
}

func (s *Service) Me(ctx context.Context, userID string) (*domainuser.User, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.ErrUnauthorized
	}
	return s.load(ctx, userID)
}

// Profile returns any user's profile; callers decide which fields are public.
func (s *Service) Profile(ctx context.Context, userID string) (*domainuser.User, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	return s.load(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, patch domainuser.ProfilePatch) (*domainuser.User, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := u.ApplyPatch(patch, s.now()); err != nil {
		return nil, apperr.Invalid("grad_year is out of range")
	}
	if err := s.Users.Save(ctx, u); err != nil {
		return nil, apperr.Storage("save profile", err)
	}
	return u, nil
}

// DevLogin signs in by email alone, creating the profile on first use.
func (s *Service) DevLogin(ctx context.Context, email, name string) (*LoginResult, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if s.Tokens == nil {
		return nil, ErrServiceNotConfigured
	}
	email = domainuser.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Invalid("email is required")
	}
	if !domainuser.EmailAllowed(email, s.AllowedDomain) {
		return nil, apperr.Invalid("email domain is not allowed")
	}
	u, err := s.Users.ByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, domainuser.ErrNotFound):
		u, err = domainuser.NewUser(domainuser.CreateParams{ID: s.newID(), Email: email, Name: name, CreatedAt: s.now()})
		if err != nil {
			return nil, apperr.Invalid("invalid user")
		}
		if err := s.Users.Save(ctx, u); err != nil {
			if errors.Is(err, domainuser.ErrEmailAlreadyUsed) {
				// concurrent first login, use the stored profile
				if u, err = s.Users.ByEmail(ctx, email); err != nil {
					return nil, apperr.Storage("load user", err)
				}
				break
			}
			return nil, apperr.Storage("save user", err)
		}
		if s.Logger != nil {
			s.Logger.Info("user registered", "user_id", u.ID)
		}
	default:
		return nil, apperr.Storage("load user", err)
	}
	token, err := s.Tokens.IssueFor(u)
	if err != nil {
		return nil, apperr.Storage("issue token", err)
	}
	return &LoginResult{User: u, Token: token}, nil
}

func (s *Service) load(ctx context.Context, userID string) (*domainuser.User, error) {
	u, err := s.Users.ByID(ctx, strings.TrimSpace(userID))
	if err != nil {
		if errors.Is(err, domainuser.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Storage("load user", err)
	}
	return u, nil
}

func (s *Service) ensureDependencies() error {
	if s == nil || s.Users == nil {
		return ErrServiceNotConfigured
	}
	return nil
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
