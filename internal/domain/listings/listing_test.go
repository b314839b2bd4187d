package listings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSale(t *testing.T) *Listing {
	t.Helper()
	l, err := NewListing(CreateListingParams{
		ID:        "l1",
		Type:      TypeSale,
		Title:     " Desk lamp ",
		Price:     12.5,
		Condition: "USED",
		Images:    []string{"", "https://img/1.png"},
		Tags:      []string{"lamp", " "},
		OwnerID:   "alice",
		Now:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return l
}

func TestNewListing(t *testing.T) {
	l := newSale(t)

	assert.Equal(t, "Desk lamp", l.Title)
	assert.Equal(t, StatusActive, l.Status)
	assert.Equal(t, ConditionUsed, l.Condition)
	assert.Equal(t, "https://img/1.png", l.PrimaryImage())
	assert.Equal(t, []string{"lamp"}, l.Tags)

	pending := l.PendingEvents()
	require.Len(t, pending, 1)
	assert.Equal(t, "listing.created", pending[0].EventName())
	assert.Equal(t, "l1", pending[0].AggregateID())
}

func TestNewListingValidation(t *testing.T) {
	base := CreateListingParams{ID: "l1", Type: TypeLost, Title: "Keys", OwnerID: "alice"}

	cases := map[string]struct {
		mutate func(*CreateListingParams)
		want   error
	}{
		"missing title":  {func(p *CreateListingParams) { p.Title = " " }, ErrTitleRequired},
		"missing owner":  {func(p *CreateListingParams) { p.OwnerID = "" }, ErrOwnerRequired},
		"bad type":       {func(p *CreateListingParams) { p.Type = "rent" }, ErrInvalidType},
		"negative price": {func(p *CreateListingParams) { p.Price = -1 }, ErrNegativePrice},
		"bad condition":  {func(p *CreateListingParams) { p.Condition = "broken" }, ErrInvalidCondition},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			_, err := NewListing(params)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	lost, err := NewListing(CreateListingParams{ID: "l2", Type: TypeLost, Title: "Keys", Price: 10, OwnerID: "bob", LostFound: "library"})
	require.NoError(t, err)
	assert.Zero(t, lost.Price)
	assert.Equal(t, "library", lost.LostFound)
}

func TestChangeStatus(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	sale := newSale(t)
	assert.ErrorIs(t, sale.ChangeStatus("bob", StatusSold, now), ErrNotOwner)
	assert.ErrorIs(t, sale.ChangeStatus("alice", StatusClaimed, now), ErrInvalidTransition)
	require.NoError(t, sale.ChangeStatus("alice", StatusSold, now))
	assert.Equal(t, StatusSold, sale.Status)
	assert.Equal(t, now, sale.UpdatedAt)

	found, err := NewListing(CreateListingParams{ID: "l3", Type: TypeFound, Title: "Wallet", OwnerID: "carol"})
	require.NoError(t, err)
	assert.ErrorIs(t, found.ChangeStatus("carol", StatusSold, now), ErrInvalidTransition)
	require.NoError(t, found.ChangeStatus("carol", "Resolved", now))
	assert.Equal(t, StatusResolved, found.Status)

	events := found.PendingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "listing.status_changed", events[1].EventName())
}

func TestSearchParamsMatches(t *testing.T) {
	l := newSale(t)
	l.Category = "furniture"
	low, high := 10.0, 20.0
	tooHigh := 5.0

	tests := []struct {
		name   string
		params SearchParams
		want   bool
	}{
		{"defaults to active", SearchParams{}, true},
		{"type", SearchParams{Type: "SALE"}, true},
		{"other type", SearchParams{Type: TypeLost}, false},
		{"category", SearchParams{Category: "furniture"}, true},
		{"query title", SearchParams{Query: "desk"}, true},
		{"query tag", SearchParams{Query: "LAMP"}, true},
		{"query literal", SearchParams{Query: "d.sk"}, false},
		{"price range", SearchParams{MinPrice: &low, MaxPrice: &high}, true},
		{"price above max", SearchParams{MaxPrice: &tooHigh}, false},
		{"status sold", SearchParams{Status: StatusSold}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.params.Normalized()
			assert.Equal(t, tt.want, p.Matches(l, p.QueryPattern()))
		})
	}
}
