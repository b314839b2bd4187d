package listings

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"findit/internal/app/apperr"
	"findit/internal/app/dto"
	appoutbox "findit/internal/app/outbox"
	domainlistings "findit/internal/domain/listings"
	domainuser "findit/internal/domain/user"
)

var ErrServiceNotConfigured = errors.New("listings: service missing dependencies")

type Service struct {
	Listings       domainlistings.Repository
	Comments       domainlistings.CommentRepository
	Users          domainuser.Repository
	Outbox         appoutbox.Outbox
	Encoder        appoutbox.EventEncoder
	Logger         *slog.Logger
	RequireProfile bool
	NewID          func() string
	Now            func() time.Time
}

type CreateInput struct {
	Type        string
	Title       string
	Description string
	Category    string
	Price       float64
	Condition   string
	Negotiable  bool
	Images      []string
	Tags        []string
	Pickup      string
	LostFound   string
	Location    string
}

func (s *Service) Search(ctx context.Context, params domainlistings.SearchParams) (dto.ListingCollection, error) {
	if err := s.ensureDependencies(); err != nil {
		return dto.ListingCollection{}, err
	}
	if params.Type != "" {
		t, err := domainlistings.ParseType(string(params.Type))
		if err != nil {
			return dto.ListingCollection{}, apperr.Invalid("type must be sale, lost or found")
		}
		params.Type = t
	}
	if params.MinPrice != nil && params.MaxPrice != nil && *params.MinPrice > *params.MaxPrice {
		return dto.ListingCollection{}, apperr.Invalid("min_price is above max_price")
	}
	items, err := s.Listings.Search(ctx, params)
	if err != nil {
		return dto.ListingCollection{}, apperr.Storage("search listings", err)
	}
	out := dto.ListingCollection{Items: make([]dto.Listing, 0, len(items))}
	for _, l := range items {
		out.Items = append(out.Items, dto.MapListing(l, nil))
	}
	return out, nil
}

// Get returns a listing with its owner's public profile.
func (s *Service) Get(ctx context.Context, id string) (dto.Listing, error) {
	if err := s.ensureDependencies(); err != nil {
		return dto.Listing{}, err
	}
	listing, err := s.load(ctx, id)
	if err != nil {
		return dto.Listing{}, err
	}
	owner, err := s.Users.ByID(ctx, listing.OwnerID)
	if err != nil && !errors.Is(err, domainuser.ErrNotFound) {
		return dto.Listing{}, apperr.Storage("load owner", err)
	}
	return dto.MapListing(listing, owner), nil
}

func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (dto.Listing, error) {
	if err := s.ensureDependencies(); err != nil {
		return dto.Listing{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return dto.Listing{}, apperr.ErrUnauthorized
	}
	owner, err := s.Users.ByID(ctx, ownerID)
	if err != nil && !errors.Is(err, domainuser.ErrNotFound) {
		return dto.Listing{}, apperr.Storage("load owner", err)
	}
	if s.RequireProfile && !owner.ProfileComplete() {
		return dto.Listing{}, apperr.Denied("profile incomplete: phone required")
	}
	listing, err := domainlistings.NewListing(domainlistings.CreateListingParams{
		ID:          domainlistings.ListingID(s.newID()),
		Type:        domainlistings.ListingType(input.Type),
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Price:       input.Price,
		Condition:   domainlistings.Condition(input.Condition),
		Negotiable:  input.Negotiable,
		Images:      input.Images,
		Tags:        input.Tags,
		Pickup:      input.Pickup,
		LostFound:   input.LostFound,
		Location:    input.Location,
		OwnerID:     ownerID,
		Now:         s.now(),
	})
	if err != nil {
		return dto.Listing{}, apperr.Invalid(domainReason(err))
	}
	if err := s.Listings.Save(ctx, listing); err != nil {
		return dto.Listing{}, apperr.Storage("save listing", err)
	}
	s.flushEvents(ctx, listing)
	if s.Logger != nil {
		s.Logger.Info("listing created", "listing_id", listing.ID, "owner_id", ownerID, "type", listing.Type)
	}
	return dto.MapListing(listing, owner), nil
}

func (s *Service) ChangeStatus(ctx context.Context, actorID, id, status string) (dto.Listing, error) {
	if err := s.ensureDependencies(); err != nil {
		return dto.Listing{}, err
	}
	listing, err := s.load(ctx, id)
	if err != nil {
		return dto.Listing{}, err
	}
	if err := listing.ChangeStatus(actorID, domainlistings.ListingStatus(status), s.now()); err != nil {
		if errors.Is(err, domainlistings.ErrNotOwner) {
			return dto.Listing{}, apperr.Denied("only the owner can change status")
		}
		return dto.Listing{}, apperr.Invalid(domainReason(err))
	}
	if err := s.Listings.Save(ctx, listing); err != nil {
		return dto.Listing{}, apperr.Storage("save listing", err)
	}
	s.flushEvents(ctx, listing)
	return dto.MapListing(listing, nil), nil
}

// Delete removes a listing. Conversations about it are kept.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	listing, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !listing.CanDelete(actorID) {
		return apperr.Denied("only the owner can delete a listing")
	}
	if err := s.Listings.Delete(ctx, listing.ID); err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			return apperr.NotFound("listing not found")
		}
		return apperr.Storage("delete listing", err)
	}
	return nil
}

// ListComments returns comments oldest first with author profiles.
func (s *Service) ListComments(ctx context.Context, listingID string) (dto.CommentList, error) {
	if err := s.ensureDependencies(); err != nil || s.Comments == nil {
		return dto.CommentList{}, ErrServiceNotConfigured
	}
	if _, err := s.load(ctx, listingID); err != nil {
		return dto.CommentList{}, err
	}
	comments, err := s.Comments.ForListing(ctx, domainlistings.ListingID(listingID))
	if err != nil {
		return dto.CommentList{}, apperr.Storage("list comments", err)
	}
	authorIDs := make([]string, 0, len(comments))
	for _, c := range comments {
		authorIDs = append(authorIDs, c.UserID)
	}
	authors, err := s.Users.ByIDs(ctx, authorIDs)
	if err != nil {
		return dto.CommentList{}, apperr.Storage("load authors", err)
	}
	out := dto.CommentList{Items: make([]dto.Comment, 0, len(comments))}
	for _, c := range comments {
		out.Items = append(out.Items, dto.MapComment(c, authors[c.UserID]))
	}
	return out, nil
}

func (s *Service) AddComment(ctx context.Context, userID, listingID, text string) (dto.Comment, error) {
	if err := s.ensureDependencies(); err != nil || s.Comments == nil {
		return dto.Comment{}, ErrServiceNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return dto.Comment{}, apperr.ErrUnauthorized
	}
	listing, err := s.load(ctx, listingID)
	if err != nil {
		return dto.Comment{}, err
	}
	comment, err := domainlistings.NewComment(s.newID(), listing.ID, userID, text, s.now())
	if err != nil {
		return dto.Comment{}, apperr.Invalid("text is required")
	}
	if err := s.Comments.Add(ctx, comment); err != nil {
		return dto.Comment{}, apperr.Storage("add comment", err)
	}
	author, err := s.Users.ByID(ctx, userID)
	if err != nil && !errors.Is(err, domainuser.ErrNotFound) {
		return dto.Comment{}, apperr.Storage("load author", err)
	}
	return dto.MapComment(*comment, author), nil
}

func (s *Service) load(ctx context.Context, id string) (*domainlistings.Listing, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Invalid("listing id is required")
	}
	listing, err := s.Listings.ByID(ctx, domainlistings.ListingID(id))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, apperr.Storage("load listing", err)
	}
	return listing, nil
}

func (s *Service) flushEvents(ctx context.Context, listing *domainlistings.Listing) {
	pending := listing.PendingEvents()
	listing.ClearEvents()
	if s.Outbox == nil || len(pending) == 0 {
		return
	}
	if err := appoutbox.RecordDomainEvents(context.WithoutCancel(ctx), s.Outbox, s.Encoder, pending...); err != nil && s.Logger != nil {
		s.Logger.Warn("outbox append failed", "listing_id", listing.ID, "error", err)
	}
}

func (s *Service) ensureDependencies() error {
	if s == nil || s.Listings == nil || s.Users == nil {
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

// domainReason strips the package prefix from a domain sentinel.
func domainReason(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}
