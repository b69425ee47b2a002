package repository // package repository contains the profile and session stores

import (
	"context" // deadlines and cancellation for driver calls
	"errors"  // matching driver sentinel errors
	"fmt"     // wrapping driver errors with the failed operation
	"strings" // normalising usernames and emails
	"time"    // document timestamps

	"go.mongodb.org/mongo-driver/bson"           // filter and update documents
	"go.mongodb.org/mongo-driver/bson/primitive" // ObjectID handling
	"go.mongodb.org/mongo-driver/mongo"          // MongoDB client and collection API
	"go.mongodb.org/mongo-driver/mongo/options"  // index and count options

	"github.com/iliyamo/account-service/internal/model" // domain user type
)

// userDocument mirrors a document in the `users` collection. It is kept
// separate from model.User so the ObjectID stays a storage detail: callers
// only ever see the hex form. CoverImage is omitted from the document when
// empty, matching records created without a cover upload.
type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	Email        string             `bson:"email"`
	FullName     string             `bson:"fullName"`
	Avatar       string             `bson:"avatar"`
	CoverImage   string             `bson:"coverImage,omitempty"`
	PasswordHash string             `bson:"password"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d userDocument) toModel() model.User {
	return model.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		Email:        d.Email,
		FullName:     d.FullName,
		Avatar:       d.Avatar,
		CoverImage:   d.CoverImage,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// UserRepo is the profile store backed by MongoDB. Coll is the `users`
// collection; uniqueness of username and email is enforced by the indexes
// created in EnsureIndexes, so a racing duplicate insert surfaces as
// ErrUserExists rather than a second document. Now is overridable in tests.
type UserRepo struct {
	Coll *mongo.Collection
	Now  func() time.Time
}

// NewUserRepo binds a UserRepo to the `users` collection of db.
func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{Coll: db.Collection("users"), Now: time.Now}
}

// EnsureIndexes creates the unique username and email indexes that back the
// registration uniqueness check.
func (r *UserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.Coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_username")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
	})
	return err
}

// Normalize lower-cases and trims a username or email.
func Normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// usernameOrEmailFilter matches either field; blank inputs are left out so
// an empty email never matches documents by accident.
func usernameOrEmailFilter(username, email string) (bson.M, bool) {
	var or bson.A
	if u := Normalize(username); u != "" {
		or = append(or, bson.M{"username": u})
	}
	if e := Normalize(email); e != "" {
		or = append(or, bson.M{"email": e})
	}
	if len(or) == 0 {
		return nil, false
	}
	return bson.M{"$or": or}, true
}

// FindByUsernameOrEmail fetches the user matching either value. Both are
// normalised first, so lookups are case-insensitive. When both are blank
// nothing can match and ErrUserNotFound is returned without a query.
func (r *UserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (model.User, error) {
	filter, ok := usernameOrEmailFilter(username, email)
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return r.findOne(ctx, filter)
}

// ExistsByUsernameOrEmail reports whether either value is already taken.
// The count is limited to one document because only existence matters.
func (r *UserRepo) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	filter, ok := usernameOrEmailFilter(username, email)
	if !ok {
		return false, nil
	}
	n, err := r.Coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n > 0, nil
}

// FindByID fetches a user by hex id. Malformed ids are reported as not found.
func (r *UserRepo) FindByID(ctx context.Context, id string) (model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return model.User{}, ErrUserNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// findOne decodes the single document matching filter and maps the
// driver's "no documents" error onto ErrUserNotFound.
func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (model.User, error) {
	var doc userDocument
	err := r.Coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.toModel(), nil
}

// Create inserts u and fills in its id and timestamps. Username and email
// are normalised; the password hash must already be set.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	now := r.now()
	doc := userDocument{
		ID:           primitive.NewObjectID(),
		Username:     Normalize(u.Username),
		Email:        Normalize(u.Email),
		FullName:     strings.TrimSpace(u.FullName),
		Avatar:       u.Avatar,
		CoverImage:   u.CoverImage,
		PasswordHash: u.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.Coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	*u = doc.toModel()
	return nil
}

// UpdatePasswordHash sets only the password hash and updatedAt; no other
// field is validated or touched.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrUserNotFound
	}
	res, err := r.Coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"password": hash, "updatedAt": r.now()}})
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepo) now() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	// BSON dates carry millisecond precision
	return now().UTC().Truncate(time.Millisecond)
}
