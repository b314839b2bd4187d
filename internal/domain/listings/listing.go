package listings

import (
	"context"
	"errors"
	"strings"
	"time"

	"findit/internal/domain/shared/events"
)

var (
	ErrNotFound          = errors.New("listings: listing not found")
	ErrIDRequired        = errors.New("listings: id is required")
	ErrOwnerRequired     = errors.New("listings: owner is required")
	ErrTitleRequired     = errors.New("listings: title is required")
	ErrInvalidType       = errors.New("listings: type must be sale, lost or found")
	ErrInvalidCondition  = errors.New("listings: condition must be new or used")
	ErrNegativePrice     = errors.New("listings: price must be non-negative")
	ErrInvalidTransition = errors.New("listings: invalid status for this listing type")
	ErrNotOwner          = errors.New("listings: only the owner can modify a listing")
)

type ListingID string

type ListingType string

const (
	TypeSale  ListingType = "sale"
	TypeLost  ListingType = "lost"
	TypeFound ListingType = "found"
)

type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusPending  ListingStatus = "pending"
	StatusClaimed  ListingStatus = "claimed"
	StatusSold     ListingStatus = "sold"
	StatusResolved ListingStatus = "resolved"
)

type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// Listing is a for-sale, lost or found post owned by one user.
type Listing struct {
	ID          ListingID
	Type        ListingType
	Title       string
	Description string
	Category    string
	Price       float64
	Condition   Condition
	Negotiable  bool
	Images      []string
	Tags        []string
	Pickup      string
	LostFound   string
	Location    string
	OwnerID     string
	Status      ListingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	events.EventRecorder
}

// PrimaryImage is the image shown in conversation lists.
func (l *Listing) PrimaryImage() string {
	if l == nil || len(l.Images) == 0 {
		return ""
	}
	return l.Images[0]
}

type Repository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	ByIDs(ctx context.Context, ids []ListingID) (map[ListingID]*Listing, error)
	Save(ctx context.Context, listing *Listing) error
	Delete(ctx context.Context, id ListingID) error
	Search(ctx context.Context, params SearchParams) ([]*Listing, error)
}

type CreateListingParams struct {
	ID          ListingID
	Type        ListingType
	Title       string
	Description string
	Category    string
	Price       float64
	Condition   Condition
	Negotiable  bool
	Images      []string
	Tags        []string
	Pickup      string
	LostFound   string
	Location    string
	OwnerID     string
	Now         time.Time
}

func NewListing(params CreateListingParams) (*Listing, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(params.OwnerID) == "" {
		return nil, ErrOwnerRequired
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, ErrTitleRequired
	}
	listingType, err := ParseType(string(params.Type))
	if err != nil {
		return nil, err
	}
	if params.Price < 0 {
		return nil, ErrNegativePrice
	}
	condition := Condition(strings.ToLower(strings.TrimSpace(string(params.Condition))))
	if condition != "" && condition != ConditionNew && condition != ConditionUsed {
		return nil, ErrInvalidCondition
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	listing := &Listing{
		ID:          params.ID,
		Type:        listingType,
		Title:       strings.TrimSpace(params.Title),
		Description: strings.TrimSpace(params.Description),
		Category:    strings.TrimSpace(params.Category),
		Condition:   condition,
		Images:      cleanTokens(params.Images),
		Tags:        cleanTokens(params.Tags),
		Location:    strings.TrimSpace(params.Location),
		OwnerID:     strings.TrimSpace(params.OwnerID),
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// price, condition and pickup only make sense for items on sale
	if listingType == TypeSale {
		listing.Price = params.Price
		listing.Negotiable = params.Negotiable
		listing.Pickup = strings.TrimSpace(params.Pickup)
	} else {
		listing.Condition = ""
		listing.LostFound = strings.TrimSpace(params.LostFound)
	}
	listing.Record(ListingCreatedEvent{
		ListingID: listing.ID,
		OwnerID:   listing.OwnerID,
		Type:      listing.Type,
		Title:     listing.Title,
		At:        now,
	})
	return listing, nil
}

// ParseType validates a listing type.
func ParseType(raw string) (ListingType, error) {
	switch ListingType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeSale:
		return TypeSale, nil
	case TypeLost:
		return TypeLost, nil
	case TypeFound:
		return TypeFound, nil
	default:
		return "", ErrInvalidType
	}
}

// AllowedStatuses lists the terminal statuses an owner may move a listing to.
func (l *Listing) AllowedStatuses() []ListingStatus {
	if l.Type == TypeSale {
		return []ListingStatus{StatusSold}
	}
	return []ListingStatus{StatusClaimed, StatusResolved}
}

// ChangeStatus moves a listing to a terminal status on behalf of its owner.
func (l *Listing) ChangeStatus(actorID string, status ListingStatus, now time.Time) error {
	if l.OwnerID != actorID {
		return ErrNotOwner
	}
	status = ListingStatus(strings.ToLower(strings.TrimSpace(string(status))))
	allowed := false
	for _, s := range l.AllowedStatuses() {
		if s == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}
	if now.IsZero() {
		now = time.Now()
	}
	l.Status = status
	l.UpdatedAt = now.UTC()
	l.Record(ListingStatusChangedEvent{ListingID: l.ID, Status: status, At: l.UpdatedAt})
	return nil
}

// CanDelete reports whether actorID owns the listing.
func (l *Listing) CanDelete(actorID string) bool {
	return l != nil && actorID != "" && l.OwnerID == actorID
}

func cleanTokens(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
