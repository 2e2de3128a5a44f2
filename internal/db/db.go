// Package db is the document store used for the installation registry and
// for every installation's own data.
package db

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is a connection to the document server. Databases are namespaces;
// an installation owns exactly one.
type Store interface {
	Ping(ctx context.Context) error
	DatabaseNames(ctx context.Context) ([]string, error)
	Database(name string) Database
	Close(ctx context.Context) error
}

type Database interface {
	Name() string
	// CreateCollection is a no-op when the collection already exists.
	CreateCollection(ctx context.Context, name string) error
	CollectionNames(ctx context.Context) ([]string, error)
	Collection(name string) Collection
}

type Collection interface {
	InsertOne(ctx context.Context, doc any) (any, error)
	InsertMany(ctx context.Context, docs []any) error
	// FindOne decodes the first match into out, or returns ErrNotFound.
	FindOne(ctx context.Context, filter bson.M, out any) error
	// Find decodes all matches into out, which must point to a slice.
	Find(ctx context.Context, filter bson.M, out any) error
	// UpdateOne applies a $set update to the first match.
	UpdateOne(ctx context.Context, filter bson.M, set bson.M) error
	Count(ctx context.Context, filter bson.M) (int64, error)
	EnsureUniqueIndex(ctx context.Context, field string) error
}

// Exists reports whether at least one document matches filter.
func Exists(ctx context.Context, coll Collection, filter bson.M) (bool, error) {
	n, err := coll.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
