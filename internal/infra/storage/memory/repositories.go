package memory

import (
	"context"
	"sort"
	"sync"

	domainlistings "findit/internal/domain/listings"
	"findit/internal/domain/shared/events"
)

// ListingRepository is an in-memory implementation for demo purposes.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]*domainlistings.Listing
}

// NewListingRepository builds an empty repository.
func NewListingRepository() *ListingRepository {
	return &ListingRepository{
		items: make(map[domainlistings.ListingID]*domainlistings.Listing),
	}
}

// ByID returns a listing or domainlistings.ErrNotFound.
func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, domainlistings.ErrNotFound
	}
	return cloneListing(listing), nil
}

func (r *ListingRepository) ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domainlistings.ListingID]*domainlistings.Listing, len(ids))
	for _, id := range ids {
		if listing, ok := r.items[id]; ok {
			out[id] = cloneListing(listing)
		}
	}
	return out, nil
}

// Save stores/updates a listing entry.
func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil || listing.ID == "" {
		return domainlistings.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[listing.ID] = cloneListing(listing)
	return nil
}

func (r *ListingRepository) Delete(ctx context.Context, id domainlistings.ListingID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return domainlistings.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

// Search returns matches sorted by last update, newest first.
func (r *ListingRepository) Search(ctx context.Context, params domainlistings.SearchParams) ([]*domainlistings.Listing, error) {
	params = params.Normalized()
	pattern := params.QueryPattern()

	r.mu.RLock()
	out := make([]*domainlistings.Listing, 0)
	for _, listing := range r.items {
		if params.Matches(listing, pattern) {
			out = append(out, cloneListing(listing))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func cloneListing(l *domainlistings.Listing) *domainlistings.Listing {
	copyListing := *l
	copyListing.Images = append([]string(nil), l.Images...)
	copyListing.Tags = append([]string(nil), l.Tags...)
	copyListing.EventRecorder = events.EventRecorder{}
	return &copyListing
}

// CommentRepository keeps listing comments in insertion order.
type CommentRepository struct {
	mu        sync.RWMutex
	byListing map[domainlistings.ListingID][]domainlistings.Comment
}

func NewCommentRepository() *CommentRepository {
	return &CommentRepository{byListing: make(map[domainlistings.ListingID][]domainlistings.Comment)}
}

func (r *CommentRepository) Add(ctx context.Context, comment *domainlistings.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byListing[comment.ListingID] = append(r.byListing[comment.ListingID], *comment)
	return nil
}

func (r *CommentRepository) ForListing(ctx context.Context, listingID domainlistings.ListingID) ([]domainlistings.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domainlistings.Comment(nil), r.byListing[listingID]...), nil
}

var (
	_ domainlistings.Repository        = (*ListingRepository)(nil)
	_ domainlistings.CommentRepository = (*CommentRepository)(nil)
)
