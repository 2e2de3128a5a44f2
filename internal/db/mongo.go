package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insights/internal/errmsg"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// namespaceExists is the server error code for creating a collection twice.
const namespaceExists = 48

// Mongo implements Store on top of a shared *mongo.Client. The driver owns
// connection pooling.
type Mongo struct {
	Client *mongo.Client
}

// Connect dials MongoDB and pings it. A failed ping is reported as
// ErrStoreUnavailable so the caller can abort startup.
func Connect(ctx context.Context, uri string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect: %v", errmsg.ErrStoreUnavailable, err)
	}

	m := &Mongo{Client: client}
	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return m, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.Client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", errmsg.ErrStoreUnavailable, err)
	}
	return nil
}

func (m *Mongo) DatabaseNames(ctx context.Context) ([]string, error) {
	return m.Client.ListDatabaseNames(ctx, bson.D{})
}

func (m *Mongo) Database(name string) Database {
	return &mongoDatabase{db: m.Client.Database(name)}
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string {
	return d.db.Name()
}

func (d *mongoDatabase) CreateCollection(ctx context.Context, name string) error {
	err := d.db.CreateCollection(ctx, name)

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == namespaceExists {
		return nil
	}

	return err
}

func (d *mongoDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	return d.db.ListCollectionNames(ctx, bson.D{})
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, translate(err)
	}
	return res.InsertedID, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []any) error {
	_, err := c.coll.InsertMany(ctx, docs)
	return translate(err)
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.M, out any) error {
	err := c.coll.FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.M, out any) error {
	cursor, err := c.coll.Find(ctx, filter)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter bson.M, set bson.M) error {
	res, err := c.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *mongoCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c *mongoCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}
