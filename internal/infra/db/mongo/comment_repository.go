package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainlistings "findit/internal/domain/listings"
)

const commentsCollection = "comments"

type CommentRepository struct {
	col *mongo.Collection
}

func NewCommentRepository(ctx context.Context, db *mongo.Database) (*CommentRepository, error) {
	repo := &CommentRepository{col: db.Collection(commentsCollection)}
	if err := ensureIndexes(ctx, repo.col,
		mongo.IndexModel{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "created_at", Value: 1}}},
	); err != nil {
		return nil, err
	}
	return repo, nil
}

type commentDocument struct {
	ID        string    `bson:"_id"`
	ListingID string    `bson:"listing_id"`
	UserID    string    `bson:"user_id"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"created_at"`
}

func (r *CommentRepository) Add(ctx context.Context, c *domainlistings.Comment) error {
	_, err := r.col.InsertOne(ctx, commentDocument{
		ID:        c.ID,
		ListingID: string(c.ListingID),
		UserID:    c.UserID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	})
	return err
}

func (r *CommentRepository) ForListing(ctx context.Context, listingID domainlistings.ListingID) ([]domainlistings.Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"listing_id": string(listingID)}, opts)
	if err != nil {
		return nil, err
	}
	var docs []commentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domainlistings.Comment, 0, len(docs))
	for _, d := range docs {
		out = append(out, domainlistings.Comment{
			ID:        d.ID,
			ListingID: domainlistings.ListingID(d.ListingID),
			UserID:    d.UserID,
			Text:      d.Text,
			CreatedAt: d.CreatedAt.UTC(),
		})
	}
	return out, nil
}

var _ domainlistings.CommentRepository = (*CommentRepository)(nil)
