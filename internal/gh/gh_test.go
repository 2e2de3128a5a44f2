package gh

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"insights/internal/env"
	"insights/internal/errmsg"

	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	path := filepath.Join(t.TempDir(), "app.pem")
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	return path
}

func TestNewAppRejectsBadKeys(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))

	_, err := NewApp(env.GitHub{AppID: 1, PrivateKeyPath: empty})
	require.ErrorIs(t, err, errmsg.ErrInvalidCredential)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	_, err = NewApp(env.GitHub{AppID: 1, PrivateKeyPath: garbage})
	require.ErrorIs(t, err, errmsg.ErrInvalidCredential)

	_, err = NewApp(env.GitHub{AppID: 1, PrivateKeyPath: filepath.Join(dir, "missing.pem")})
	require.ErrorIs(t, err, errmsg.ErrConfig)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/app/installations/42/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":      "installation-token",
			"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /api/v3/repos/octo/hello/issues/3", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Authorization"), "installation-token")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-GitHub-Request-Id", "abc")
		_, _ = w.Write([]byte(`{"id":1003,"number":3,"state":"open","labels":["bug",{"name":"ui"}]}`))
	})
	mux.HandleFunc("GET /api/v3/repos/octo/hello/issues/5", func(w http.ResponseWriter, r *http.Request) {
		// Stalls until the client gives up.
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	})
	mux.HandleFunc("GET /api/v3/repos/octo/hello/issues/4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestFetchIssue(t *testing.T) {
	srv := newTestServer(t)

	app, err := NewApp(env.GitHub{
		AppID:          99,
		PrivateKeyPath: writeKey(t),
		BaseURL:        srv.URL,
		RESTTimeout:    5 * time.Second,
	})
	require.NoError(t, err)

	resp, err := app.FetchIssue(context.Background(), 42, "octo", "hello", 3)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "abc", resp.Header.Get("X-GitHub-Request-Id"))
	require.JSONEq(t, `{"id":1003,"number":3,"state":"open","labels":["bug",{"name":"ui"}]}`, string(resp.Body))

	first, err := app.Client(42)
	require.NoError(t, err)
	second, err := app.Client(42)
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestFetchIssueNotFound(t *testing.T) {
	srv := newTestServer(t)

	app, err := NewApp(env.GitHub{AppID: 99, PrivateKeyPath: writeKey(t), BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := app.FetchIssue(context.Background(), 42, "octo", "hello", 4)
	require.ErrorIs(t, err, errmsg.ErrEnrichment)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(resp.Body), "Not Found")
}

func TestFetchIssueTimeout(t *testing.T) {
	srv := newTestServer(t)

	app, err := NewApp(env.GitHub{
		AppID:          99,
		PrivateKeyPath: writeKey(t),
		BaseURL:        srv.URL,
		RESTTimeout:    200 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	resp, err := app.FetchIssue(context.Background(), 42, "octo", "hello", 5)
	require.ErrorIs(t, err, errmsg.ErrEnrichment)
	require.Nil(t, resp)
	require.Less(t, time.Since(start), 5*time.Second)
}
