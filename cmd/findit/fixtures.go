package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	domainlistings "findit/internal/domain/listings"
)

type listingFixture struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	Condition   string   `json:"condition"`
	Negotiable  bool     `json:"negotiable"`
	Images      []string `json:"images"`
	Tags        []string `json:"tags"`
	Pickup      string   `json:"pickup"`
	LostFound   string   `json:"lost_found"`
	Location    string   `json:"location"`
	OwnerID     string   `json:"owner_id"`
}

// loadListingFixtures imports listings from a JSON array. Invalid entries are logged and
// skipped; a missing file is not an error.
func loadListingFixtures(ctx context.Context, path string, repo domainlistings.Repository, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("listing fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("listing fixtures file empty", "path", path)
		return nil
	}
	var fixtures []listingFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now()
	imported := 0
	for _, fx := range fixtures {
		listing, err := domainlistings.NewListing(domainlistings.CreateListingParams{
			ID:          domainlistings.ListingID(fx.ID),
			Type:        domainlistings.ListingType(fx.Type),
			Title:       fx.Title,
			Description: fx.Description,
			Category:    fx.Category,
			Price:       fx.Price,
			Condition:   domainlistings.Condition(fx.Condition),
			Negotiable:  fx.Negotiable,
			Images:      fx.Images,
			Tags:        fx.Tags,
			Pickup:      fx.Pickup,
			LostFound:   fx.LostFound,
			Location:    fx.Location,
			OwnerID:     fx.OwnerID,
			Now:         now,
		})
		if err != nil {
			logger.Error("fixture invalid", "listing_id", fx.ID, "error", err)
			continue
		}
		listing.ClearEvents()
		if err := repo.Save(ctx, listing); err != nil {
			logger.Error("cannot store fixture listing", "listing_id", fx.ID, "error", err)
			continue
		}
		imported++
	}
	logger.Info("listing fixtures imported", "count", imported, "path", path)
	return nil
}
