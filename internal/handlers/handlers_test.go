package handlers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"insights/internal/db"
	"insights/internal/dispatch"
	"insights/internal/env"
	"insights/internal/errmsg"
	"insights/internal/eventlog"
	"insights/internal/fs"
	"insights/internal/gh"
	"insights/internal/installations"
	"insights/internal/models"

	"github.com/google/go-github/v63/github"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	body  string
	err   error
}

func (f *fakeFetcher) FetchIssue(ctx context.Context, installationID int64, owner, repo string, number int) (*gh.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("%d:%s/%s#%d", installationID, owner, repo, number))

	resp := &gh.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Github-Request-Id": {"req-1"}},
		Body:       json.RawMessage(f.body),
	}
	if f.err != nil {
		resp.StatusCode = http.StatusNotFound
		return resp, f.err
	}
	return resp, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	inst     *installations.Installation
	registry *installations.Registry
	fetcher  *fakeFetcher
	handlers *Handlers
	logDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	registry := installations.NewRegistry(db.NewMemory())
	require.NoError(t, registry.Init(ctx))

	inst, err := registry.Get(ctx, 42)
	require.NoError(t, err)

	logDir := t.TempDir()
	events := eventlog.New(eventlog.NewFileSink(logDir), eventlog.Flags{
		REST:       true,
		RESTErrors: true,
	}, nil)

	fetcher := &fakeFetcher{
		body: `{"id":7007,"node_id":"I_1","number":7,"state":"open",` +
			`"labels":["bug",{"name":"ui"},{"color":"fff"}],` +
			`"milestone":{"title":"v1","number":1}}`,
	}

	return &fixture{
		inst:     inst,
		registry: registry,
		fetcher:  fetcher,
		handlers: New(fetcher, events, registry, nil),
		logDir:   logDir,
	}
}

func commentEvent(action, commentID string) *github.IssueCommentEvent {
	return &github.IssueCommentEvent{
		Action: github.String(action),
		Comment: &github.IssueComment{
			NodeID:    github.String(commentID),
			Body:      github.String("looks good"),
			User:      &github.User{Login: github.String("octocat")},
			UpdatedAt: &github.Timestamp{Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		},
		Issue: &github.Issue{
			NodeID: github.String("I_1"),
			Number: github.Int(7),
		},
		Repo: &github.Repository{
			Name:  github.String("hello"),
			Owner: &github.User{Login: github.String("octo")},
		},
	}
}

func TestIssueCommentCachesIssueOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handlers.IssueComment(ctx, f.inst, commentEvent("created", "C_1")))
	require.NoError(t, f.handlers.IssueComment(ctx, f.inst, commentEvent("created", "C_1")))

	require.Equal(t, []string{"42:octo/hello#7"}, f.fetcher.Calls())

	var comments []models.CommentEntry
	require.NoError(t, f.inst.Comments().Find(ctx, bson.M{}, &comments))
	require.Len(t, comments, 2)
	require.Equal(t, "I_1", comments[0].IssueID)
	require.Equal(t, "C_1", comments[0].CommentID)
	require.Equal(t, "C_1", comments[1].CommentID)
	require.Equal(t, "octocat", comments[0].ByLogin)
	require.Equal(t, "created", comments[0].Action)
	require.Equal(t, "looks good", comments[0].Comment["body"])
	require.Equal(t, "hello", comments[0].Repository["name"])

	var issues []models.IssueEntry
	require.NoError(t, f.inst.Issues().Find(ctx, bson.M{}, &issues))
	require.Len(t, issues, 1)

	issue := issues[0]
	require.Equal(t, "I_1", issue.IssueID)
	require.Equal(t, 7, issue.IssueNumber)
	require.Equal(t, "octo", issue.RepoOwner)
	require.Equal(t, "hello", issue.RepoName)
	require.Equal(t, "open", issue.State)
	require.Equal(t, []string{"bug", "ui"}, issue.Labels)
	require.Empty(t, issue.Events)
	require.Equal(t, "v1", issue.Milestone["title"])
	require.Equal(t, "I_1", issue.Instance["node_id"])

	written, err := fs.ListFiles(filepath.Join(f.logDir, "rest", "event"), ".json")
	require.NoError(t, err)
	require.Len(t, written, 1)
}

func TestIssueCommentEveryActionAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, action := range []string{"created", "edited", "deleted"} {
		require.NoError(t, f.handlers.IssueComment(ctx, f.inst, commentEvent(action, "C_9")))
	}

	n, err := f.inst.Comments().Count(ctx, bson.M{"comment_id": "C_9"})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestIssueCommentFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.body = `{"message":"Not Found"}`
	f.fetcher.err = fmt.Errorf("%w: 404", errmsg.ErrEnrichment)
	ctx := context.Background()

	require.NoError(t, f.handlers.IssueComment(ctx, f.inst, commentEvent("created", "C_1")))

	n, err := f.inst.Comments().Count(ctx, bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = f.inst.Issues().Count(ctx, bson.M{})
	require.NoError(t, err)
	require.Zero(t, n)

	written, err := fs.ListFiles(filepath.Join(f.logDir, "rest", "error"), ".json")
	require.NoError(t, err)
	require.Len(t, written, 1)

	// Nothing was cached, so the next comment tries again.
	require.NoError(t, f.handlers.IssueComment(ctx, f.inst, commentEvent("created", "C_2")))
	require.Len(t, f.fetcher.Calls(), 2)
}

func TestIssueCommentDuplicateIssueIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Without an issue id there is no lookup, so the insert meets the entry
	// another delivery already cached.
	_, err := f.inst.Issues().InsertOne(ctx, models.IssueEntry{IssueID: "I_1"})
	require.NoError(t, err)

	require.NoError(t, f.handlers.maybeAddIssue(ctx, f.inst, "octo", "hello", 7, ""))
	require.Len(t, f.fetcher.Calls(), 1)

	n, err := f.inst.Issues().Count(ctx, bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestLabelNormalization(t *testing.T) {
	var issue fetchedIssue
	require.NoError(t, json.Unmarshal([]byte(`{"labels":["a",{"name":"b"},{"name":null},{},"c"]}`), &issue))
	require.Equal(t, []string{"a", "b", "c"}, labelNames(issue.Labels))

	require.Error(t, json.Unmarshal([]byte(`{"labels":[42]}`), &issue))
}

func TestInstallationDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handlers.Installation(ctx, f.inst, &github.InstallationEvent{Action: github.String("created")}))

	entries, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].DeletedAt)

	require.NoError(t, f.handlers.Installation(ctx, f.inst, &github.InstallationEvent{Action: github.String("deleted")}))

	entries, err = f.registry.List(ctx)
	require.NoError(t, err)
	require.NotNil(t, entries[0].DeletedAt)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	r := dispatch.NewRegistry(nil)

	f.handlers.Register(r)

	require.Equal(t, []string{"*github.InstallationEvent", "*github.IssueCommentEvent"}, r.Types())
	require.NoError(t, r.Dispatch(context.Background(), commentEvent("created", "C_1"), "issue_comment", f.inst))
	require.Len(t, f.fetcher.Calls(), 1)
}

// stalledGitHub is a GitHub App whose issue endpoint never answers within
// timeout.
func stalledGitHub(t *testing.T, timeout time.Duration) *gh.App {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "app.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "installation-token",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /api/v3/repos/octo/hello/issues/7", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	app, err := gh.NewApp(env.GitHub{
		AppID:          99,
		PrivateKeyPath: keyPath,
		BaseURL:        srv.URL,
		RESTTimeout:    timeout,
	})
	require.NoError(t, err)

	return app
}

func TestIssueCommentFetchTimeout(t *testing.T) {
	f := newFixture(t)
	h := New(stalledGitHub(t, 200*time.Millisecond), f.handlers.events, f.registry, nil)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, h.IssueComment(ctx, f.inst, commentEvent("created", "C_1")))
	require.Less(t, time.Since(start), 5*time.Second)

	n, err := f.inst.Issues().Count(ctx, bson.M{})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = f.inst.Comments().Count(ctx, bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	written, err := fs.ListFiles(filepath.Join(f.logDir, "rest", "error"), ".json")
	require.NoError(t, err)
	require.Len(t, written, 1)

	written, err = fs.ListFiles(filepath.Join(f.logDir, "rest", "event"), ".json")
	require.NoError(t, err)
	require.Empty(t, written)
}
