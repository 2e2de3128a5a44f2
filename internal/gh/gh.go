// Package gh is the GitHub App client: it authenticates as the app, mints
// installation-scoped clients and performs the REST calls handlers need.
package gh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"insights/internal/env"
	"insights/internal/errmsg"
	"insights/internal/metrics"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v63/github"
)

// CallFetchIssue names the issue fetch in metrics and the event log.
const CallFetchIssue = "fetch_issue"

// Response is the raw outcome of a REST call, kept for the event log.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

type App struct {
	apps    *ghinstallation.AppsTransport
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	clients map[int64]*github.Client
}

// NewApp loads the app's private key and prepares app-level authentication.
// A key that is empty or cannot be parsed is ErrInvalidCredential.
func NewApp(cfg env.GitHub) (*App, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: bad GitHub App key file at '%s': %v", errmsg.ErrConfig, cfg.PrivateKeyPath, err)
	}
	if len(bytes.TrimSpace(key)) == 0 {
		return nil, fmt.Errorf("%w: GitHub App key file '%s' is empty", errmsg.ErrInvalidCredential, cfg.PrivateKeyPath)
	}

	apps, err := ghinstallation.NewAppsTransport(http.DefaultTransport, cfg.AppID, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errmsg.ErrInvalidCredential, err)
	}

	app := &App{
		apps:    apps,
		timeout: cfg.RESTTimeout,
		clients: make(map[int64]*github.Client),
	}
	if app.timeout <= 0 {
		app.timeout = env.DefaultRESTTimeout
	}

	if cfg.BaseURL != "" {
		// Resolve the enterprise API root the same way the REST client does,
		// so token requests and API calls share a host.
		probe, err := github.NewClient(nil).WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: github base url: %v", errmsg.ErrConfig, err)
		}
		app.baseURL = probe.BaseURL.String()
		apps.BaseURL = strings.TrimSuffix(app.baseURL, "/")
	}

	return app, nil
}

// Client returns the REST client acting as the given installation. Clients
// are cached; their transport refreshes the installation token as needed.
func (a *App) Client(installationID int64) (*github.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if client, ok := a.clients[installationID]; ok {
		return client, nil
	}

	itr := ghinstallation.NewFromAppsTransport(a.apps, installationID)

	client := github.NewClient(&http.Client{Transport: itr})
	if a.baseURL != "" {
		itr.BaseURL = strings.TrimSuffix(a.baseURL, "/")

		var err error
		client, err = client.WithEnterpriseURLs(a.baseURL, a.baseURL)
		if err != nil {
			return nil, err
		}
	}

	a.clients[installationID] = client

	return client, nil
}

// FetchIssue reads one issue as the installation. The body is returned
// undecoded: label entries may be plain strings or objects. A call that did
// not produce a 2xx response is ErrEnrichment; the Response is still returned
// when GitHub answered.
func (a *App) FetchIssue(ctx context.Context, installationID int64, owner, repo string, number int) (*Response, error) {
	client, err := a.Client(installationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errmsg.ErrEnrichment, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := client.NewRequest(http.MethodGet, fmt.Sprintf("repos/%v/%v/issues/%d", owner, repo, number), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errmsg.ErrEnrichment, err)
	}

	var body json.RawMessage
	resp, err := client.Do(ctx, req, &body)

	out := response(resp, body, err)
	metrics.RESTCalls.WithLabelValues(CallFetchIssue, statusLabel(out)).Inc()

	if err != nil {
		return out, fmt.Errorf("%w: %s %s/%s#%d: %v", errmsg.ErrEnrichment, CallFetchIssue, owner, repo, number, err)
	}

	return out, nil
}

func response(resp *github.Response, body json.RawMessage, err error) *Response {
	if resp == nil || resp.Response == nil {
		return nil
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}

	// Error responses have already been drained by the client; keep what it
	// decoded from them.
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && len(out.Body) == 0 {
		if raw, mErr := json.Marshal(ghErr); mErr == nil {
			out.Body = raw
		}
	}

	return out
}

func statusLabel(resp *Response) string {
	if resp == nil {
		return "none"
	}
	return strconv.Itoa(resp.StatusCode)
}
