package scrape

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"
)

// RetryPolicy is the single backoff policy shared by the listing crawler
// and the detail fetcher: up to MaxAttempts tries, BaseDelay between them,
// and a doubled delay after an HTTP 429. Exhausting the attempts yields a
// nil body, not an error — the caller decides whether that is fatal.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy mirrors the crawl defaults: 3 attempts, 5s apart.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 3, BaseDelay: 5 * time.Second}
}

// Fetch GETs url with the given headers under the retry policy. It returns
// the response body on the first 2xx, or nil once attempts are exhausted
// or the context is done.
func (p *RetryPolicy) Fetch(ctx context.Context, client *http.Client, url string, header http.Header) []byte {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		body, status, err := doGet(ctx, client, url, header)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("fetch attempt %d/%d failed: %v", attempt, attempts, err)
		case status >= 200 && status < 300:
			return body
		case status == http.StatusTooManyRequests:
			log.Printf("fetch attempt %d/%d rate limited: %s", attempt, attempts, url)
			if !sleepCtx(ctx, p.BaseDelay) { // extra beat on top of the usual delay
				return nil
			}
		default:
			log.Printf("fetch attempt %d/%d status %d: %s", attempt, attempts, status, url)
		}

		if attempt < attempts && !sleepCtx(ctx, p.BaseDelay) {
			return nil
		}
	}
	return nil
}

func doGet(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// sleepCtx sleeps for d unless the context finishes first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
