// Package eventlog is the write-only audit trail of every inbound webhook and
// outbound GitHub REST call, including the ones that failed. The running
// service never reads it back; the replay tool does.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"insights/internal/env"
	"insights/internal/metrics"
	"insights/internal/models"

	"github.com/google/uuid"
)

type Category string

const (
	Webhook Category = "webhook"
	REST    Category = "rest"
)

type Outcome string

const (
	Event Outcome = "event"
	Error Outcome = "error"
)

// TimeLayout is fixed width so that keys sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// maxKeyAttempts bounds retries when a generated key is already taken.
const maxKeyAttempts = 3

// Flags selects which category/outcome pairs are recorded. They are fixed
// when the Log is built.
type Flags struct {
	Webhook       bool
	WebhookErrors bool
	REST          bool
	RESTErrors    bool
}

func FlagsFrom(cfg env.EventLog) Flags {
	return Flags{
		Webhook:       cfg.LogWebhook,
		WebhookErrors: cfg.LogWebhookErrors,
		REST:          cfg.LogREST,
		RESTErrors:    cfg.LogRESTErrors,
	}
}

// Record is one append to the log.
type Record struct {
	Key      string
	Category Category
	Outcome  Outcome
	Time     time.Time
	Entry    models.LogEntry
}

// Sink is the backing medium of the log. Append must not overwrite an
// existing key; a taken key is reported with os.ErrExist.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

type Log struct {
	sink   Sink
	flags  Flags
	logger *slog.Logger

	now    func() time.Time
	suffix func() string
}

// New returns a Log writing to sink. A nil sink gives a Log that records
// nothing.
func New(sink Sink, flags Flags, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}

	return &Log{
		sink:   sink,
		flags:  flags,
		logger: logger.With("component", "eventlog"),
		now:    time.Now,
		suffix: func() string { return uuid.NewString()[:8] },
	}
}

// Enabled reports whether entries of the given kind are recorded.
func (l *Log) Enabled(category Category, outcome Outcome) bool {
	if l == nil || l.sink == nil {
		return false
	}

	switch {
	case category == Webhook && outcome == Event:
		return l.flags.Webhook
	case category == Webhook && outcome == Error:
		return l.flags.WebhookErrors
	case category == REST && outcome == Event:
		return l.flags.REST
	case category == REST && outcome == Error:
		return l.flags.RESTErrors
	}

	return false
}

// Webhook records a webhook that was parsed successfully.
func (l *Log) Webhook(ctx context.Context, eventName string, headers map[string][]string, body []byte) error {
	return l.append(ctx, Webhook, Event, eventName, HeaderPairs(headers), body, nil)
}

// WebhookError records a webhook that could not be verified or parsed.
func (l *Log) WebhookError(ctx context.Context, eventName string, headers map[string][]string, body []byte, msg string) error {
	return l.append(ctx, Webhook, Error, eventName, HeaderPairs(headers), body, &msg)
}

// REST records a successful outbound call by name.
func (l *Log) REST(ctx context.Context, callName string, headers map[string][]string, body []byte) error {
	return l.append(ctx, REST, Event, callName, HeaderPairs(headers), body, nil)
}

// RESTError records a failed outbound call.
func (l *Log) RESTError(ctx context.Context, callName string, headers map[string][]string, body []byte, msg string) error {
	return l.append(ctx, REST, Error, callName, HeaderPairs(headers), body, &msg)
}

func (l *Log) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func (l *Log) append(
	ctx context.Context,
	category Category,
	outcome Outcome,
	name string,
	headers [][]string,
	body []byte,
	msg *string,
) error {
	if !l.Enabled(category, outcome) {
		return nil
	}

	if headers == nil {
		headers = [][]string{}
	}

	rec := Record{
		Category: category,
		Outcome:  outcome,
		Time:     l.now().UTC(),
		Entry: models.LogEntry{
			EventName: name,
			Event: models.LogEvent{
				Headers: headers,
				Payload: Payload(body),
			},
			Msg: msg,
		},
	}

	var err error
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		rec.Key = Key(category, outcome, rec.Time, l.suffix())

		err = l.sink.Append(ctx, rec)
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}

	if err != nil {
		metrics.EventLogFailures.WithLabelValues(string(category), string(outcome)).Inc()
		l.logger.ErrorContext(ctx, "failed to write event log entry",
			"category", category,
			"outcome", outcome,
			"event_name", name,
			"error", err,
		)
		return err
	}

	metrics.EventLogWrites.WithLabelValues(string(category), string(outcome)).Inc()
	l.logger.DebugContext(ctx, "wrote event log entry",
		"key", rec.Key,
		"event_name", name,
	)

	return nil
}

// Key builds the storage key {category}/{outcome}/{category}-{outcome}-{time}-{suffix}.json.
func Key(category Category, outcome Outcome, t time.Time, suffix string) string {
	name := fmt.Sprintf("%s-%s-%s-%s.json", category, outcome, t.UTC().Format(TimeLayout), suffix)
	return path.Join(string(category), string(outcome), name)
}

// ParseKey extracts the fields encoded in a key or its base name.
func ParseKey(key string) (Category, Outcome, time.Time, error) {
	base := strings.TrimSuffix(path.Base(key), ".json")

	parts := strings.SplitN(base, "-", 3)
	if len(parts) != 3 || len(parts[2]) < len(TimeLayout) {
		return "", "", time.Time{}, fmt.Errorf("malformed event log key %q", key)
	}

	t, err := time.Parse(TimeLayout, parts[2][:len(TimeLayout)])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("malformed event log key %q: %w", key, err)
	}

	return Category(parts[0]), Outcome(parts[1]), t, nil
}

// Payload returns body as JSON. Bodies that are not valid JSON are kept as a
// JSON string so malformed deliveries are still captured verbatim. The
// result never aliases body.
func Payload(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}

	quoted, _ := json.Marshal(string(body))
	return quoted
}

// HeaderPairs flattens a header map into [name, value] pairs sorted by name.
// The strings are cloned: request headers may point into a reused buffer.
func HeaderPairs(headers map[string][]string) [][]string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][]string, 0, len(names))
	for _, name := range names {
		for _, value := range headers[name] {
			pairs = append(pairs, []string{strings.Clone(name), strings.Clone(value)})
		}
	}

	return pairs
}
