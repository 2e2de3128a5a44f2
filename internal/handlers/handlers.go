// Package handlers holds the per-event business logic run after an event has
// been parsed and its installation resolved.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"insights/internal/dispatch"
	"insights/internal/eventlog"
	"insights/internal/gh"
	"insights/internal/installations"

	"go.mongodb.org/mongo-driver/bson"
)

// IssueFetcher reads an issue from the GitHub REST API as an installation.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, installationID int64, owner, repo string, number int) (*gh.Response, error)
}

// InstallationMarker records installation lifecycle changes in the registry.
type InstallationMarker interface {
	MarkDeleted(ctx context.Context, id int64) error
}

type Handlers struct {
	github        IssueFetcher
	events        *eventlog.Log
	installations InstallationMarker
	logger        *slog.Logger
	now           func() time.Time
}

func New(github IssueFetcher, events *eventlog.Log, installations InstallationMarker, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handlers{
		github:        github,
		events:        events,
		installations: installations,
		logger:        logger.With("component", "handlers"),
		now:           time.Now,
	}
}

// Register installs every handler in r.
func (h *Handlers) Register(r *dispatch.Registry) {
	dispatch.On(r, h.IssueComment)
	dispatch.On(r, h.Installation)
}

// logREST writes the outcome of a REST call to the event log. Write failures
// are already reported by the log itself.
func (h *Handlers) logREST(ctx context.Context, call string, resp *gh.Response, callErr error) {
	var (
		headers http.Header
		body    json.RawMessage
	)
	if resp != nil {
		headers = resp.Header
		body = resp.Body
	}

	if callErr != nil {
		_ = h.events.RESTError(ctx, call, headers, body, callErr.Error())
		return
	}
	_ = h.events.REST(ctx, call, headers, body)
}

// document converts a GitHub payload into a BSON document through its JSON
// form, so stored fields keep GitHub's names.
func document(v any) (bson.M, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}

	var doc bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("convert payload to document: %w", err)
	}

	return doc, nil
}

func installationID(inst *installations.Installation) int64 {
	if inst == nil {
		return 0
	}
	return inst.ID
}
