package listings

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrCommentTextRequired = errors.New("listings: comment text is required")

type Comment struct {
	ID        string
	ListingID ListingID
	UserID    string
	Text      string
	CreatedAt time.Time
}

func NewComment(id string, listingID ListingID, userID, text string, now time.Time) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrCommentTextRequired
	}
	if now.IsZero() {
		now = time.Now()
	}
	return &Comment{
		ID:        id,
		ListingID: listingID,
		UserID:    userID,
		Text:      text,
		CreatedAt: now.UTC(),
	}, nil
}

// CommentRepository returns comments oldest first.
type CommentRepository interface {
	Add(ctx context.Context, comment *Comment) error
	ForListing(ctx context.Context, listingID ListingID) ([]Comment, error)
}
