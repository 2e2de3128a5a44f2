package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"insights/internal/db"
	"insights/internal/metrics"
	"insights/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

var errWrite = errors.New("write concern timeout")

// flakyCollection fails a set number of writes before passing them through.
// A failing InsertMany first stores partialMany documents, like an ordered
// bulk insert stopping midway.
type flakyCollection struct {
	db.Collection

	mu          sync.Mutex
	failMany    int
	partialMany int
	failOne     int
}

func (c *flakyCollection) InsertMany(ctx context.Context, docs []any) error {
	c.mu.Lock()
	fail := c.failMany > 0
	if fail {
		c.failMany--
	}
	partial := min(c.partialMany, len(docs))
	c.mu.Unlock()

	if !fail {
		return c.Collection.InsertMany(ctx, docs)
	}
	for _, doc := range docs[:partial] {
		if _, err := c.Collection.InsertOne(ctx, doc); err != nil {
			return err
		}
	}
	return errWrite
}

func (c *flakyCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	c.mu.Lock()
	fail := c.failOne > 0
	if fail {
		c.failOne--
	}
	c.mu.Unlock()

	if fail {
		return nil, errWrite
	}
	return c.Collection.InsertOne(ctx, doc)
}

func newFlakySink(t *testing.T, coll *flakyCollection) *MongoSink {
	t.Helper()

	sink := NewMongoSink(coll, BatchConfig{Buffer: 10, BatchSize: 100, FlushEvery: time.Hour}, nil)
	sink.retryEvery = time.Millisecond
	require.NoError(t, sink.EnsureIndex(context.Background()))

	return sink
}

func writeWebhooks(t *testing.T, l *Log, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		require.NoError(t, l.Webhook(context.Background(), "issue_comment", nil, []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}
}

func TestMongoSinkFlushesOnClose(t *testing.T) {
	coll := db.NewMemory().Database("insights").Collection("eventlog")
	sink := NewMongoSink(coll, BatchConfig{Buffer: 10, BatchSize: 100, FlushEvery: time.Hour}, nil)
	l := New(sink, allFlags, nil)
	ctx := context.Background()

	require.NoError(t, l.Webhook(ctx, "issue_comment", nil, []byte(`{"action":"created"}`)))
	require.NoError(t, l.WebhookError(ctx, "issue_comment", nil, []byte(`{"action":`), "bad"))
	require.NoError(t, l.REST(ctx, "fetch_issue", nil, []byte(`[1,2]`)))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	n, err := coll.Count(ctx, bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	var stored []models.StoredLogEntry
	require.NoError(t, coll.Find(ctx, bson.M{"category": "webhook", "outcome": "event"}, &stored))
	require.Len(t, stored, 1)
	require.Equal(t, "issue_comment", stored[0].EventName)
	require.Equal(t, bson.D{{Key: "action", Value: "created"}}, stored[0].Payload)

	require.NoError(t, coll.Find(ctx, bson.M{"category": "rest"}, &stored))
	require.Len(t, stored, 1)
	require.Equal(t, `[1,2]`, stored[0].Payload)
}

func TestMongoSinkWritesThroughWhenFull(t *testing.T) {
	coll := db.NewMemory().Database("insights").Collection("eventlog")
	sink := &MongoSink{coll: coll, buf: make(chan models.StoredLogEntry), cfg: defaultBatchConfig}

	require.NoError(t, sink.Append(context.Background(), Record{Key: "k", Category: REST, Outcome: Error}))

	n, err := coll.Count(context.Background(), bson.M{"key": "k"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSelectBatchConfig(t *testing.T) {
	require.Equal(t, fastBatchConfig, SelectBatchConfig("test"))
	require.Equal(t, defaultBatchConfig, SelectBatchConfig("prod"))
}

func TestMongoSinkRecoversFailedBatch(t *testing.T) {
	coll := &flakyCollection{
		Collection:  db.NewMemory().Database("insights").Collection("eventlog"),
		failMany:    1,
		partialMany: 2,
		failOne:     1,
	}
	l := New(newFlakySink(t, coll), allFlags, nil)

	failures := testutil.ToFloat64(metrics.EventLogFailures.WithLabelValues("webhook", "event"))

	writeWebhooks(t, l, 5)
	require.NoError(t, l.Close())

	n, err := coll.Count(context.Background(), bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.Equal(t, failures, testutil.ToFloat64(metrics.EventLogFailures.WithLabelValues("webhook", "event")))
}

func TestMongoSinkCountsDroppedEntries(t *testing.T) {
	coll := &flakyCollection{
		Collection: db.NewMemory().Database("insights").Collection("eventlog"),
		failMany:   1,
		failOne:    1000,
	}
	l := New(newFlakySink(t, coll), allFlags, nil)

	failures := testutil.ToFloat64(metrics.EventLogFailures.WithLabelValues("webhook", "event"))

	writeWebhooks(t, l, 3)
	require.NoError(t, l.Close())

	require.Equal(t, failures+3, testutil.ToFloat64(metrics.EventLogFailures.WithLabelValues("webhook", "event")))
}

func TestMongoSinkAppendAfterClose(t *testing.T) {
	coll := db.NewMemory().Database("insights").Collection("eventlog")
	l := New(NewMongoSink(coll, defaultBatchConfig, nil), allFlags, nil)

	require.NoError(t, l.Close())

	require.NotPanics(t, func() {
		writeWebhooks(t, l, 2)
	})

	n, err := coll.Count(context.Background(), bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
