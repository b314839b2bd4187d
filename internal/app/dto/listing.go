package dto

import (
	"time"

	domainlistings "findit/internal/domain/listings"
	domainuser "findit/internal/domain/user"
)

type Listing struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Price       float64        `json:"price"`
	Condition   string         `json:"condition,omitempty"`
	Negotiable  bool           `json:"negotiable"`
	Images      []string       `json:"images"`
	Tags        []string       `json:"tags"`
	Pickup      string         `json:"pickup,omitempty"`
	LostFound   string         `json:"lost_found,omitempty"`
	Location    string         `json:"location,omitempty"`
	OwnerID     string         `json:"owner_id"`
	Owner       *PublicProfile `json:"owner,omitempty"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ListingCollection struct {
	Items []Listing `json:"items"`
}

type Comment struct {
	ID        string         `json:"id"`
	ListingID string         `json:"listing_id"`
	UserID    string         `json:"user_id"`
	User      *PublicProfile `json:"user,omitempty"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
}

type CommentList struct {
	Items []Comment `json:"items"`
}

func MapListing(l *domainlistings.Listing, owner *domainuser.User) Listing {
	if l == nil {
		return Listing{}
	}
	out := Listing{
		ID:          string(l.ID),
		Type:        string(l.Type),
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Price:       l.Price,
		Condition:   string(l.Condition),
		Negotiable:  l.Negotiable,
		Images:      nonNil(l.Images),
		Tags:        nonNil(l.Tags),
		Pickup:      l.Pickup,
		LostFound:   l.LostFound,
		Location:    l.Location,
		OwnerID:     l.OwnerID,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
	if owner != nil {
		profile := MapPublicProfile(owner)
		out.Owner = &profile
	}
	return out
}

func MapChatListing(l *domainlistings.Listing) *ChatListing {
	if l == nil {
		return nil
	}
	return &ChatListing{
		ID:    string(l.ID),
		Title: l.Title,
		Type:  string(l.Type),
		Image: l.PrimaryImage(),
	}
}

func MapComment(c domainlistings.Comment, author *domainuser.User) Comment {
	out := Comment{
		ID:        c.ID,
		ListingID: string(c.ListingID),
		UserID:    c.UserID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
	if author != nil {
		profile := MapPublicProfile(author)
		out.User = &profile
	}
	return out
}
