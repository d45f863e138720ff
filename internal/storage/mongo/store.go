// Package mongo stores users in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/storage"
)

const collectionName = "users"

var _ storage.UserStore = (*Store)(nil)

type userDocument struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	Name                 string             `bson:"name"`
	Email                string             `bson:"email"`
	Role                 string             `bson:"role"`
	Active               bool               `bson:"active"`
	Password             string             `bson:"password"`
	PasswordChangedAt    *time.Time         `bson:"passwordChangedAt,omitempty"`
	PasswordResetToken   *string            `bson:"passwordResetToken,omitempty"`
	PasswordResetExpires *time.Time         `bson:"passwordResetExpires,omitempty"`
	Version              int64              `bson:"version"`
	CreatedAt            time.Time          `bson:"createdAt"`
}

// Store is a MongoDB backed storage.UserStore.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

// NewUserStore connects to url, pings the server and ensures indexes on the
// users collection of database.
func NewUserStore(ctx context.Context, url, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{
		client: client,
		users:  client.Database(database).Collection(collectionName),
		now:    time.Now,
	}
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique email index and the reset token lookup index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "passwordResetToken", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// FindByID fetches an active user by its hex ObjectID.
func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid, "active": true})
}

// FindByEmail fetches an active user by normalized email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": models.NormalizeEmail(email), "active": true})
}

// FindByResetToken fetches the active user holding tokenHash with an open reset window.
func (s *Store) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return s.findOne(ctx, bson.M{
		"passwordResetToken":   tokenHash,
		"passwordResetExpires": bson.M{"$gte": now},
		"active":               true,
	})
}

// Create validates and inserts a new user document.
func (s *Store) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	doc := toDocument(user)
	doc.ID = primitive.NewObjectID()
	doc.Version = 1
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return doc.toModel(), nil
}

// SaveFull validates and replaces an existing user document.
func (s *Store) SaveFull(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return s.save(ctx, user)
}

// SavePartial replaces an existing user document without validation.
func (s *Store) SavePartial(ctx context.Context, user *models.User) (*models.User, error) {
	return s.save(ctx, user)
}

func (s *Store) save(ctx context.Context, user *models.User) (*models.User, error) {
	oid, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	doc := toDocument(user)
	doc.ID = oid
	doc.Version = user.Version + 1

	res, err := s.users.ReplaceOne(ctx, bson.M{"_id": oid, "version": user.Version}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, fmt.Errorf("replace user: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := s.users.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return nil, fmt.Errorf("check user existence: %w", err)
		}
		if count > 0 {
			return nil, storage.ErrConflict
		}
		return nil, storage.ErrNotFound
	}
	return doc.toModel(), nil
}

// Deactivate soft-deletes a user so lookups no longer return it.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return storage.ErrNotFound
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": oid, "active": true},
		bson.M{"$set": bson.M{"active": false}, "$inc": bson.M{"version": 1}})
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toModel(), nil
}

func toDocument(u *models.User) userDocument {
	return userDocument{
		Name:                 u.Name,
		Email:                models.NormalizeEmail(u.Email),
		Role:                 string(u.Role),
		Active:               u.Active,
		Password:             u.PasswordHash,
		PasswordChangedAt:    utcPtr(u.PasswordChangedAt),
		PasswordResetToken:   u.PasswordResetTokenHash,
		PasswordResetExpires: utcPtr(u.PasswordResetExpires),
		Version:              u.Version,
		CreatedAt:            u.CreatedAt.UTC(),
	}
}

func (d userDocument) toModel() *models.User {
	u := &models.User{
		ID:                     d.ID.Hex(),
		Name:                   d.Name,
		Email:                  d.Email,
		Role:                   models.Role(d.Role),
		Active:                 d.Active,
		PasswordHash:           d.Password,
		PasswordChangedAt:      d.PasswordChangedAt,
		PasswordResetTokenHash: d.PasswordResetToken,
		PasswordResetExpires:   d.PasswordResetExpires,
		Version:                d.Version,
		CreatedAt:              d.CreatedAt,
	}
	return u.Clone()
}

// utcPtr copies t in UTC; BSON dates carry millisecond precision only.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}
