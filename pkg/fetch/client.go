// Package fetch polls the Grand Lyon open data endpoints and archives each
// capture as a JSON array under the dataset's date partition.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/eunmann/mobility-sync/pkg/retry"
)

// StatusError is a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Client issues rate limited GETs with bounded retries. 5xx and 429
// responses and transport errors are retried.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   retry.Config
}

// NewClient returns a client allowing reqPerSecond requests. A nil hc uses a
// client with a 30s timeout.
func NewClient(hc *http.Client, reqPerSecond float64, cfg retry.Config) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if reqPerSecond > 0 {
		limit = rate.Limit(reqPerSecond)
	}
	return &Client{http: hc, limiter: rate.NewLimiter(limit, 1), retry: cfg}
}

// Get returns the body of url.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return retry.DoVal(ctx, c.retry, "http.Get", func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, retry.Transient(fmt.Errorf("GET %s: %w", url, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			serr := &StatusError{URL: url, Status: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, retry.Transient(serr)
			}
			return nil, serr
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.Transient(fmt.Errorf("read %s: %w", url, err))
		}
		return body, nil
	})
}
