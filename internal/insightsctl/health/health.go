package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultHost is the server insightsctl talks to when none is given.
const DefaultHost = "localhost:8080"

// URL builds an API URL on host. A bare host:port is taken as plain HTTP.
func URL(host, path string) string {
	host = strings.TrimSuffix(host, "/")
	if !strings.HasPrefix(host, "http") {
		host = "http://" + host
	}
	return host + path
}

// Get fetches path from the server and returns the trimmed body. Anything but
// a 200 is an error.
func Get(host, path string, timeout time.Duration) (string, error) {
	status, body, err := fasthttp.GetTimeout(nil, URL(host, path), timeout)
	if err != nil {
		return "", err
	}
	if status != fasthttp.StatusOK {
		return "", fmt.Errorf("request failed with status: %d", status)
	}
	return strings.TrimSpace(string(body)), nil
}

// Check performs a single health check on the insights service.
func Check(host string, timeout time.Duration) error {
	body, err := Get(host, "/api/v1/ping", timeout)
	if err != nil {
		return err
	}
	if body != "PONG" {
		return fmt.Errorf("unexpected ping answer %q", body)
	}
	return nil
}
