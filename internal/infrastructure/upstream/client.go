// Package upstream provides the HTTP client used to reach the user and
// template services. The gateway treats both as opaque collaborators: request
// bodies are forwarded as received and responses relayed verbatim.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaypoint/notification-gateway/internal/domain"
)

// Client forwards requests to an upstream service.
type Client struct {
	http *http.Client
}

// NewClient creates a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Result carries an upstream response back to the caller unmodified.
type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Forward sends body to url with the given method and returns the upstream
// status, body and content type as-is. Any transport failure maps to
// ErrUpstreamUnavailable; upstream error statuses are not failures here, they
// are relayed like any other response.
func (c *Client) Forward(ctx context.Context, method, url string, body io.Reader, contentType string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamUnavailable, method, url, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrUpstreamUnavailable, err)
	}

	return &Result{
		StatusCode:  resp.StatusCode,
		Body:        b,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
