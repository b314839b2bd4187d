package mongo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainlistings "findit/internal/domain/listings"
)

const listingsCollection = "listings"

type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(ctx context.Context, db *mongo.Database) (*ListingRepository, error) {
	repo := &ListingRepository{col: db.Collection(listingsCollection)}
	if err := ensureIndexes(ctx, repo.col,
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}, {Key: "updated_at", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "owner_id", Value: 1}}},
	); err != nil {
		return nil, err
	}
	return repo, nil
}

type listingDocument struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	Title       string    `bson:"title"`
	Description string    `bson:"description,omitempty"`
	Category    string    `bson:"category,omitempty"`
	Price       float64   `bson:"price"`
	Condition   string    `bson:"condition,omitempty"`
	Negotiable  bool      `bson:"negotiable"`
	Images      []string  `bson:"images,omitempty"`
	Tags        []string  `bson:"tags,omitempty"`
	Pickup      string    `bson:"pickup,omitempty"`
	LostFound   string    `bson:"lost_found,omitempty"`
	Location    string    `bson:"location,omitempty"`
	OwnerID     string    `bson:"owner_id"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func newListingDocument(l *domainlistings.Listing) listingDocument {
	return listingDocument{
		ID:          string(l.ID),
		Type:        string(l.Type),
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Price:       l.Price,
		Condition:   string(l.Condition),
		Negotiable:  l.Negotiable,
		Images:      l.Images,
		Tags:        l.Tags,
		Pickup:      l.Pickup,
		LostFound:   l.LostFound,
		Location:    l.Location,
		OwnerID:     l.OwnerID,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func (d listingDocument) toDomain() *domainlistings.Listing {
	return &domainlistings.Listing{
		ID:          domainlistings.ListingID(d.ID),
		Type:        domainlistings.ListingType(d.Type),
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		Price:       d.Price,
		Condition:   domainlistings.Condition(d.Condition),
		Negotiable:  d.Negotiable,
		Images:      d.Images,
		Tags:        d.Tags,
		Pickup:      d.Pickup,
		LostFound:   d.LostFound,
		Location:    d.Location,
		OwnerID:     d.OwnerID,
		Status:      domainlistings.ListingStatus(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainlistings.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ListingRepository) ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error) {
	out := make(map[domainlistings.ListingID]*domainlistings.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": raw}})
	if err != nil {
		return nil, err
	}
	var docs []listingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		l := doc.toDomain()
		out[l.ID] = l
	}
	return out, nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil || listing.ID == "" {
		return domainlistings.ErrIDRequired
	}
	doc := newListingDocument(listing)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *ListingRepository) Delete(ctx context.Context, id domainlistings.ListingID) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domainlistings.ErrNotFound
	}
	return nil
}

func (r *ListingRepository) Search(ctx context.Context, params domainlistings.SearchParams) ([]*domainlistings.Listing, error) {
	params = params.Normalized()
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(params.Limit))
	cur, err := r.col.Find(ctx, searchFilter(params), opts)
	if err != nil {
		return nil, err
	}
	var docs []listingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainlistings.Listing, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

func searchFilter(p domainlistings.SearchParams) bson.M {
	filter := bson.M{"status": string(p.Status)}
	if p.Type != "" {
		filter["type"] = string(p.Type)
	}
	if p.Category != "" {
		filter["category"] = p.Category
	}
	if p.OwnerID != "" {
		filter["owner_id"] = p.OwnerID
	}
	price := bson.M{}
	if p.MinPrice != nil {
		price["$gte"] = *p.MinPrice
	}
	if p.MaxPrice != nil {
		price["$lte"] = *p.MaxPrice
	}
	if len(price) > 0 {
		filter["price"] = price
	}
	if p.Query != "" {
		rx := primitive.Regex{Pattern: regexp.QuoteMeta(p.Query), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"title": rx},
			bson.M{"description": rx},
			bson.M{"tags": rx},
		}
	}
	return filter
}

var _ domainlistings.Repository = (*ListingRepository)(nil)
