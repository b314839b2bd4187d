package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainuser "findit/internal/domain/user"
)

const usersCollection = "users"

type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{col: db.Collection(usersCollection)}
	if err := ensureIndexes(ctx, repo.col, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	}); err != nil {
		return nil, err
	}
	return repo, nil
}

type userDocument struct {
	ID         string    `bson:"_id"`
	Email      string    `bson:"email"`
	Name       string    `bson:"name"`
	Avatar     string    `bson:"avatar,omitempty"`
	Phone      string    `bson:"phone,omitempty"`
	AltEmail   string    `bson:"alt_email,omitempty"`
	Telegram   string    `bson:"telegram,omitempty"`
	Whatsapp   string    `bson:"whatsapp,omitempty"`
	Bio        string    `bson:"bio,omitempty"`
	Hostel     string    `bson:"hostel,omitempty"`
	Department string    `bson:"department,omitempty"`
	GradYear   int       `bson:"grad_year,omitempty"`
	Reputation int       `bson:"reputation"`
	Badges     []string  `bson:"badges,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func newUserDocument(u *domainuser.User) userDocument {
	return userDocument{
		ID:         u.ID,
		Email:      domainuser.NormalizeEmail(u.Email),
		Name:       u.Name,
		Avatar:     u.Avatar,
		Phone:      u.Phone,
		AltEmail:   u.AltEmail,
		Telegram:   u.Telegram,
		Whatsapp:   u.Whatsapp,
		Bio:        u.Bio,
		Hostel:     u.Hostel,
		Department: u.Department,
		GradYear:   u.GradYear,
		Reputation: u.Reputation,
		Badges:     u.Badges,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func (d userDocument) toDomain() *domainuser.User {
	return &domainuser.User{
		ID:         d.ID,
		Email:      d.Email,
		Name:       d.Name,
		Avatar:     d.Avatar,
		Phone:      d.Phone,
		AltEmail:   d.AltEmail,
		Telegram:   d.Telegram,
		Whatsapp:   d.Whatsapp,
		Bio:        d.Bio,
		Hostel:     d.Hostel,
		Department: d.Department,
		GradYear:   d.GradYear,
		Reputation: d.Reputation,
		Badges:     d.Badges,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

func (r *UserRepository) ByID(ctx context.Context, id string) (*domainuser.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepository) ByEmail(ctx context.Context, email string) (*domainuser.User, error) {
	return r.findOne(ctx, bson.M{"email": domainuser.NormalizeEmail(email)})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domainuser.User, error) {
	var doc userDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainuser.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) ByIDs(ctx context.Context, ids []string) (map[string]*domainuser.User, error) {
	out := make(map[string]*domainuser.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []userDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		out[doc.ID] = doc.toDomain()
	}
	return out, nil
}

func (r *UserRepository) Save(ctx context.Context, u *domainuser.User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return domainuser.ErrIDRequired
	}
	doc := newUserDocument(u)
	if doc.Email == "" {
		return domainuser.ErrEmailRequired
	}
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return domainuser.ErrEmailAlreadyUsed
	}
	return err
}

var _ domainuser.Repository = (*UserRepository)(nil)
