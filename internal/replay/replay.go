// Package replay re-sends webhook deliveries captured in the event log to a
// running server.
package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"insights/internal/eventlog"
	"insights/internal/fs"
	"insights/internal/models"

	"github.com/valyala/fasthttp"
)

// HooksPath is the intake route on the target server.
const HooksPath = "/api/v1/github/hooks"

const forwardPrefix = "x-github-"

// URI returns the intake URL for addr. A bare host:port is taken as plain
// HTTP.
func URI(addr string) string {
	if strings.HasPrefix(addr, "http") {
		return addr
	}
	return "http://" + addr + HooksPath
}

// ForwardHeaders keeps the GitHub delivery headers of a captured entry. The
// signature header is dropped: the stored payload is not byte-identical to
// what was signed.
func ForwardHeaders(pairs [][]string) [][]string {
	out := make([][]string, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(pair[0]), forwardPrefix) {
			out = append(out, pair)
		}
	}
	return out
}

// Load reads one event log file.
func Load(path string) (*models.LogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry models.LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%s: not an event log entry: %w", path, err)
	}
	if entry.EventName == "" {
		return nil, fmt.Errorf("%s: entry has no event name", path)
	}

	return &entry, nil
}

// Body returns the request body to send for a captured payload. Payloads
// that were not JSON were captured as a JSON string and are sent as that
// string.
func Body(payload json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Summary counts the outcome of a replay run.
type Summary struct {
	Sent   int
	Failed int
}

type Replayer struct {
	uri     string
	client  *fasthttp.Client
	timeout time.Duration
	out     io.Writer
}

func New(addr string, timeout time.Duration, out io.Writer) *Replayer {
	if out == nil {
		out = io.Discard
	}

	return &Replayer{
		uri:     URI(addr),
		client:  &fasthttp.Client{Name: "insightsctl"},
		timeout: timeout,
		out:     out,
	}
}

// File replays one captured entry.
func (r *Replayer) File(path string) error {
	entry, err := Load(path)
	if err != nil {
		return err
	}

	return r.Send(entry)
}

// Send posts a captured delivery to the target.
func (r *Replayer) Send(entry *models.LogEntry) error {
	body, err := Body(entry.Event.Payload)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	for _, pair := range ForwardHeaders(entry.Event.Headers) {
		req.Header.Set(pair[0], pair[1])
	}
	req.SetBody(body)

	if err := r.client.DoTimeout(req, resp, r.timeout); err != nil {
		return err
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("server answered %d: %s", status, bytes.TrimSpace(resp.Body()))
	}

	return nil
}

// Dir replays every captured webhook under an event log root, oldest first.
// Deliveries that failed to parse are only included when includeErrors is
// set. A failing entry is reported and the run continues.
func (r *Replayer) Dir(root string, includeErrors bool) (Summary, error) {
	files, err := webhookFiles(root, includeErrors)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, path := range files {
		if err := r.File(path); err != nil {
			sum.Failed++
			fmt.Fprintf(r.out, "FAIL %s: %v\n", path, err)
			continue
		}
		sum.Sent++
		fmt.Fprintf(r.out, "OK   %s\n", path)
	}

	return sum, nil
}

// webhookFiles lists captured webhook files in capture order.
func webhookFiles(root string, includeErrors bool) ([]string, error) {
	outcomes := []eventlog.Outcome{eventlog.Event}
	if includeErrors {
		outcomes = append(outcomes, eventlog.Error)
	}

	var files []string
	for _, outcome := range outcomes {
		found, err := fs.ListFiles(filepath.Join(root, string(eventlog.Webhook), string(outcome)), ".json")
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ti, errI := keyTime(files[i])
		tj, errJ := keyTime(files[j])
		if errI != nil || errJ != nil {
			return filepath.Base(files[i]) < filepath.Base(files[j])
		}
		return ti.Before(tj)
	})

	return files, nil
}

func keyTime(path string) (time.Time, error) {
	_, _, t, err := eventlog.ParseKey(path)
	return t, err
}
