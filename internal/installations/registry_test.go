package installations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"insights/internal/db"
	"insights/internal/errmsg"
	"insights/internal/models"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func newRegistry(t *testing.T, opts ...Option) (*Registry, *db.Memory) {
	t.Helper()

	store := db.NewMemory()
	r := NewRegistry(store, opts...)
	require.NoError(t, r.Init(context.Background()))

	return r, store
}

func TestInitStoreUnavailable(t *testing.T) {
	store := db.NewMemory()
	store.PingErr = errors.New("connection refused")

	err := NewRegistry(store).Init(context.Background())
	require.ErrorIs(t, err, errmsg.ErrStoreUnavailable)
}

func TestGetProvisionsOnce(t *testing.T) {
	r, store := newRegistry(t)
	ctx := context.Background()

	inst, err := r.Get(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, inst.ID)
	require.Equal(t, "installation-42", inst.Database().Name())

	names, err := store.DatabaseNames(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "installation-42")

	colls, err := inst.Database().CollectionNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{CollectionComments, CollectionIssues, CollectionProjects}, colls)

	again, err := r.Get(ctx, 42)
	require.NoError(t, err)
	require.Same(t, inst, again)

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 42, entries[0].InstallationID)
	require.False(t, entries[0].CreatedAt.IsZero())
}

func TestGetConcurrentFirstSight(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	const callers = 16

	var wg sync.WaitGroup
	results := make([]*Installation, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Get(ctx, 7)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i])
	}

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestGetSharedStoreAcrossRegistries(t *testing.T) {
	store := db.NewMemory()
	ctx := context.Background()

	first := NewRegistry(store)
	second := NewRegistry(store)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, second.Init(ctx))

	// A registration left behind by another process without its database.
	_, err := store.Database(RegistryDatabase).Collection(RegistryCollection).
		InsertOne(ctx, models.InstallationEntry{InstallationID: 9, CreatedAt: time.Now()})
	require.NoError(t, err)

	_, err = second.Get(ctx, 9)
	require.NoError(t, err)
	_, err = first.Get(ctx, 9)
	require.NoError(t, err)

	n, err := store.Database(RegistryDatabase).Collection(RegistryCollection).
		Count(ctx, bson.M{"installation_id": int64(9)})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	names, err := store.DatabaseNames(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "installation-9")
}

func TestGetRejectsInvalidID(t *testing.T) {
	r, _ := newRegistry(t)

	_, err := r.Get(context.Background(), 0)
	require.ErrorIs(t, err, errmsg.ErrMissingInstallation)
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)

	return func() {}, nil
}

func TestGetTakesCreationLock(t *testing.T) {
	locker := &recordingLocker{}
	r, _ := newRegistry(t, WithLocker(locker))
	ctx := context.Background()

	_, err := r.Get(ctx, 5)
	require.NoError(t, err)
	_, err = r.Get(ctx, 5)
	require.NoError(t, err)

	require.Equal(t, []string{"insights:installation:5"}, locker.keys)

	locker.err = db.ErrLockNotAcquired
	_, err = r.Get(ctx, 6)
	require.ErrorIs(t, err, db.ErrLockNotAcquired)
}

func TestMarkDeleted(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Get(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, r.MarkDeleted(ctx, 3))

	entries, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].DeletedAt)
	require.NotNil(t, entries[0].UpdatedAt)

	require.ErrorIs(t, r.MarkDeleted(ctx, 404), db.ErrNotFound)
}
