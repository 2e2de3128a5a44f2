package db

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory is an in-process Store. Documents go through the BSON codec on the
// way in and out, so decoding behaves like the Mongo store. It backs the test
// suites and local runs without a database server.
type Memory struct {
	// PingErr, when set, is returned by Ping.
	PingErr error

	mu  sync.Mutex
	dbs map[string]*memoryDatabase
}

func NewMemory() *Memory {
	return &Memory{dbs: make(map[string]*memoryDatabase)}
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.PingErr
}

// DatabaseNames lists databases holding at least one collection, which is
// when MongoDB starts reporting them too.
func (m *Memory) DatabaseNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.dbs))
	for name, d := range m.dbs {
		if len(d.colls) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

func (m *Memory) Database(name string) Database {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.dbs[name]
	if !ok {
		d = &memoryDatabase{store: m, name: name, colls: make(map[string]*memoryData)}
		m.dbs[name] = d
	}

	return d
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}

type memoryDatabase struct {
	store *Memory
	name  string
	colls map[string]*memoryData
}

type memoryData struct {
	docs   []bson.M
	unique []string
}

func (d *memoryDatabase) Name() string {
	return d.name
}

func (d *memoryDatabase) CreateCollection(ctx context.Context, name string) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	d.data(name)
	return nil
}

func (d *memoryDatabase) CollectionNames(ctx context.Context) ([]string, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	names := make([]string, 0, len(d.colls))
	for name := range d.colls {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (d *memoryDatabase) Collection(name string) Collection {
	return &memoryCollection{db: d, name: name}
}

// data returns the named collection, creating it. Callers hold store.mu.
func (d *memoryDatabase) data(name string) *memoryData {
	c, ok := d.colls[name]
	if !ok {
		c = &memoryData{}
		d.colls[name] = c
	}
	return c
}

type memoryCollection struct {
	db   *memoryDatabase
	name string
}

// lock returns the collection's data with the store locked. Reads of a
// missing collection see it empty without creating it, as in MongoDB.
func (c *memoryCollection) lock(create bool) (*memoryData, func()) {
	c.db.store.mu.Lock()
	if create {
		return c.db.data(c.name), c.db.store.mu.Unlock
	}
	if data, ok := c.db.colls[c.name]; ok {
		return data, c.db.store.mu.Unlock
	}
	return &memoryData{}, c.db.store.mu.Unlock
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	m, err := toDocument(doc)
	if err != nil {
		return nil, err
	}

	if id, ok := m["_id"]; !ok || id == primitive.NilObjectID {
		m["_id"] = primitive.NewObjectID()
	}

	data, unlock := c.lock(true)
	defer unlock()

	// A missing field is indexed as null, as in MongoDB.
	for _, field := range data.unique {
		value := m[field]
		for _, existing := range data.docs {
			if equal(existing[field], value) {
				return nil, fmt.Errorf("%w: %s.%s %v", ErrDuplicateKey, c.name, field, value)
			}
		}
	}

	data.docs = append(data.docs, m)

	return m["_id"], nil
}

func (c *memoryCollection) InsertMany(ctx context.Context, docs []any) error {
	for _, doc := range docs {
		if _, err := c.InsertOne(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter bson.M, out any) error {
	f, err := toDocument(filter)
	if err != nil {
		return err
	}

	data, unlock := c.lock(false)
	defer unlock()

	for _, doc := range data.docs {
		if matches(doc, f) {
			return decode(doc, out)
		}
	}

	return ErrNotFound
}

func (c *memoryCollection) Find(ctx context.Context, filter bson.M, out any) error {
	f, err := toDocument(filter)
	if err != nil {
		return err
	}

	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("find: out must be a pointer to a slice, got %T", out)
	}
	sliceType := rv.Elem().Type()

	data, unlock := c.lock(false)
	defer unlock()

	result := reflect.MakeSlice(sliceType, 0, len(data.docs))
	for _, doc := range data.docs {
		if !matches(doc, f) {
			continue
		}
		elem := reflect.New(sliceType.Elem())
		if err := decode(doc, elem.Interface()); err != nil {
			return err
		}
		result = reflect.Append(result, elem.Elem())
	}
	rv.Elem().Set(result)

	return nil
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter bson.M, set bson.M) error {
	f, err := toDocument(filter)
	if err != nil {
		return err
	}
	s, err := toDocument(set)
	if err != nil {
		return err
	}

	data, unlock := c.lock(false)
	defer unlock()

	for _, doc := range data.docs {
		if matches(doc, f) {
			for k, v := range s {
				doc[k] = v
			}
			return nil
		}
	}

	return ErrNotFound
}

func (c *memoryCollection) Count(ctx context.Context, filter bson.M) (int64, error) {
	f, err := toDocument(filter)
	if err != nil {
		return 0, err
	}

	data, unlock := c.lock(false)
	defer unlock()

	var n int64
	for _, doc := range data.docs {
		if matches(doc, f) {
			n++
		}
	}

	return n, nil
}

func (c *memoryCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	data, unlock := c.lock(true)
	defer unlock()

	for _, existing := range data.unique {
		if existing == field {
			return nil
		}
	}
	data.unique = append(data.unique, field)

	return nil
}

func toDocument(v any) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}

	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}

	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	return m, nil
}

func decode(doc bson.M, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

// equal compares BSON values, treating all integer widths alike.
func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}
