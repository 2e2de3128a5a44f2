package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"insights/internal/db"
	"insights/internal/metrics"
	"insights/internal/models"

	"go.mongodb.org/mongo-driver/bson"
)

// BatchConfig tunes the MongoSink writer.
type BatchConfig struct {
	Buffer     int
	BatchSize  int
	FlushEvery time.Duration
}

var (
	defaultBatchConfig = BatchConfig{
		Buffer:     1000,
		BatchSize:  50,
		FlushEvery: 2 * time.Second,
	}
	fastBatchConfig = BatchConfig{
		Buffer:     1000,
		BatchSize:  50,
		FlushEvery: 50 * time.Millisecond,
	}
)

const (
	writeTimeout     = 2 * time.Second
	maxWriteAttempts = 3
)

// SelectBatchConfig returns the flush profile for a deployment.
func SelectBatchConfig(deployment string) BatchConfig {
	switch deployment {
	case "test":
		return fastBatchConfig
	default:
		return defaultBatchConfig
	}
}

// MongoSink stores records in a collection. Appends are queued and written
// in batches by one goroutine. When the queue is full, or the sink has been
// closed, the record is written synchronously instead of being dropped.
type MongoSink struct {
	coll   db.Collection
	buf    chan models.StoredLogEntry
	cfg    BatchConfig
	logger *slog.Logger

	// retryEvery is the pause between write attempts of one document.
	retryEvery time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewMongoSink(coll db.Collection, cfg BatchConfig, logger *slog.Logger) *MongoSink {
	if logger == nil {
		logger = slog.Default()
	}

	s := &MongoSink{
		coll:       coll,
		buf:        make(chan models.StoredLogEntry, cfg.Buffer),
		cfg:        cfg,
		logger:     logger.With("component", "eventlog.mongo"),
		retryEvery: 100 * time.Millisecond,
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// EnsureIndex makes record keys unique, so a batch retried after a partial
// write does not store a record twice.
func (s *MongoSink) EnsureIndex(ctx context.Context) error {
	return s.coll.EnsureUniqueIndex(ctx, "key")
}

func (s *MongoSink) Append(ctx context.Context, rec Record) error {
	doc := models.StoredLogEntry{
		Key:       rec.Key,
		Category:  string(rec.Category),
		Outcome:   string(rec.Outcome),
		TimeStamp: rec.Time,
		EventName: rec.Entry.EventName,
		Headers:   rec.Entry.Event.Headers,
		Payload:   storedPayload(rec.Entry.Event.Payload),
		Msg:       rec.Entry.Msg,
	}

	s.mu.RLock()
	if !s.closed {
		select {
		case s.buf <- doc:
			s.mu.RUnlock()
			return nil
		default:
		}
	}
	s.mu.RUnlock()

	return s.insert(context.WithoutCancel(ctx), doc)
}

// Close flushes queued records and stops the writer. Later appends are
// written synchronously.
func (s *MongoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.buf)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *MongoSink) worker() {
	defer s.wg.Done()

	batch := make([]models.StoredLogEntry, 0, s.cfg.BatchSize)
	timer := time.NewTimer(s.cfg.FlushEvery)

	defer timer.Stop()

	flush := func() {
		if len(batch) > 0 {
			s.flush(batch)
			batch = batch[:0]
		}
		timer.Reset(s.cfg.FlushEvery)
	}

	for {
		select {
		case doc, ok := <-s.buf:
			if !ok {
				flush()
				return
			}

			batch = append(batch, doc)

			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

// flush writes batch in one round trip. On failure every document is retried
// on its own; documents that still fail are counted and reported.
func (s *MongoSink) flush(batch []models.StoredLogEntry) {
	docs := make([]any, len(batch))
	for i, doc := range batch {
		docs[i] = doc
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	err := s.coll.InsertMany(ctx, docs)
	cancel()
	if err == nil {
		return
	}

	s.logger.Warn("event log batch failed, writing records one by one", "size", len(batch), "error", err)

	for _, doc := range batch {
		if err := s.insert(context.Background(), doc); err != nil {
			metrics.EventLogFailures.WithLabelValues(doc.Category, doc.Outcome).Inc()
			s.logger.Error("dropped event log entry",
				"key", doc.Key,
				"event_name", doc.EventName,
				"error", err,
			)
		}
	}
}

// insert writes one document, retrying a bounded number of times. A key that
// is already stored counts as written.
func (s *MongoSink) insert(ctx context.Context, doc models.StoredLogEntry) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(s.retryEvery):
			}
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		_, err = s.coll.InsertOne(writeCtx, doc)
		cancel()

		if err == nil || errors.Is(err, db.ErrDuplicateKey) {
			return nil
		}
	}
	return err
}

// storedPayload converts a JSON payload into a BSON value. Objects become
// documents; anything else is kept as its JSON text.
func storedPayload(payload json.RawMessage) any {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(payload, false, &doc); err == nil {
		return doc
	}
	return string(payload)
}
