package listings

import (
	"time"
)

type ListingCreatedEvent struct {
	ListingID ListingID   `json:"listing_id"`
	OwnerID   string      `json:"owner_id"`
	Type      ListingType `json:"type"`
	Title     string      `json:"title"`
	At        time.Time   `json:"at"`
}

func (e ListingCreatedEvent) EventName() string     { return "listing.created" }
func (e ListingCreatedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingCreatedEvent) OccurredAt() time.Time { return e.At }

type ListingStatusChangedEvent struct {
	ListingID ListingID     `json:"listing_id"`
	Status    ListingStatus `json:"status"`
	At        time.Time     `json:"at"`
}

func (e ListingStatusChangedEvent) EventName() string     { return "listing.status_changed" }
func (e ListingStatusChangedEvent) AggregateID() string   { return string(e.ListingID) }
func (e ListingStatusChangedEvent) OccurredAt() time.Time { return e.At }
