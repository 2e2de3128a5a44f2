// Package installations maps GitHub App installation ids to their storage,
// provisioning a tenant the first time an event names it.
package installations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"insights/internal/db"
	"insights/internal/errmsg"
	"insights/internal/metrics"
	"insights/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/singleflight"
)

const (
	RegistryDatabase   = "insights"
	RegistryCollection = "installations"

	lockPrefix = "insights:installation:"
	lockTTL    = 30 * time.Second
)

// Locker serializes installation creation across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type Option func(*Registry)

func WithLocker(l Locker) Option {
	return func(r *Registry) { r.locker = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry resolves installation ids to Installation handles. Whether an
// installation exists is decided by the store's database listing, so the
// answer survives restarts; creation is serialized per id.
type Registry struct {
	store   db.Store
	entries db.Collection
	locker  Locker
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	handles     map[int64]*Installation
	provisioned map[int64]bool
}

func NewRegistry(store db.Store, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		entries:     store.Database(RegistryDatabase).Collection(RegistryCollection),
		logger:      slog.Default(),
		now:         time.Now,
		handles:     make(map[int64]*Installation),
		provisioned: make(map[int64]bool),
	}

	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "installations")

	return r
}

// Init checks the store is reachable and prepares the registry collection.
func (r *Registry) Init(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		if errors.Is(err, errmsg.ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", errmsg.ErrStoreUnavailable, err)
	}

	if err := r.entries.EnsureUniqueIndex(ctx, "installation_id"); err != nil {
		return fmt.Errorf("index %s.%s: %w", RegistryDatabase, RegistryCollection, err)
	}

	r.logger.InfoContext(ctx, "database is available")

	return nil
}

// Get returns the installation with the given id, creating and registering
// it on first sight. The first Get for an id in this process also makes sure
// the installation's collections and indexes exist, since another process
// may still be provisioning them.
func (r *Registry) Get(ctx context.Context, id int64) (*Installation, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invalid installation id %d", errmsg.ErrMissingInstallation, id)
	}

	if inst, ok := r.ready(id); ok {
		return inst, nil
	}

	// Concurrent first sights share one resolution. It runs detached from the
	// caller so a cancelled request cannot abort it halfway for the others.
	ch := r.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		return nil, r.resolve(context.WithoutCancel(ctx), id)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
	}

	return r.handle(id), nil
}

func (r *Registry) resolve(ctx context.Context, id int64) error {
	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}

	if exists {
		err = r.handle(id).provision(ctx)
	} else {
		err = r.create(ctx, id)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.provisioned[id] = true
	r.mu.Unlock()

	return nil
}

// List returns every registered installation.
func (r *Registry) List(ctx context.Context) ([]models.InstallationEntry, error) {
	entries := []models.InstallationEntry{}
	if err := r.entries.Find(ctx, bson.M{}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkDeleted soft-deletes an installation. Its data is kept.
func (r *Registry) MarkDeleted(ctx context.Context, id int64) error {
	now := r.now().UTC()

	err := r.entries.UpdateOne(ctx,
		bson.M{"installation_id": id},
		bson.M{"deleted_at": now, "updated_at": now},
	)
	if err != nil {
		return fmt.Errorf("mark installation %d deleted: %w", id, err)
	}

	r.logger.InfoContext(ctx, "installation marked deleted", "installation_id", id)

	return nil
}

func (r *Registry) exists(ctx context.Context, id int64) (bool, error) {
	names, err := r.store.DatabaseNames(ctx)
	if err != nil {
		return false, fmt.Errorf("list databases: %w", err)
	}
	return slices.Contains(names, DatabaseName(id)), nil
}

// create registers the installation and provisions its database. The
// registry entry goes first: a crash in between leaves an entry without
// collections, which the next event for the id repairs.
func (r *Registry) create(ctx context.Context, id int64) error {
	if r.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, lockTTL)
		unlock, err := r.locker.Lock(lockCtx, lockPrefix+strconv.FormatInt(id, 10), lockTTL)
		cancel()
		if err != nil {
			return fmt.Errorf("lock installation %d: %w", id, err)
		}
		defer unlock()
	}

	entry := models.InstallationEntry{
		InstallationID: id,
		CreatedAt:      r.now().UTC(),
	}

	created := true
	newID, err := r.entries.InsertOne(ctx, entry)
	switch {
	case errors.Is(err, db.ErrDuplicateKey):
		created = false
		r.logger.DebugContext(ctx, "installation already registered", "installation_id", id)
	case err != nil:
		return fmt.Errorf("register installation %d: %w", id, err)
	}

	if err := r.handle(id).provision(ctx); err != nil {
		return err
	}

	if created {
		metrics.InstallationsCreated.Inc()
		r.logger.InfoContext(ctx, "new installation",
			"installation_id", id,
			"entry_id", newID,
		)
	}

	return nil
}

func (r *Registry) ready(id int64) (*Installation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.provisioned[id] {
		return nil, false
	}
	return r.handles[id], true
}

func (r *Registry) handle(id int64) *Installation {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.handles[id]
	if !ok {
		inst = newInstallation(id, r.store)
		r.handles[id] = inst
	}

	return inst
}
