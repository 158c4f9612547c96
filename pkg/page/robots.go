package page

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/benjaminestes/robots"
)

type robotsCache struct {
	mu      sync.Mutex
	entries map[string]*robots.Robots
}

// check returns the parsed robots.txt governing url, or nil when none could
// be fetched (treated as allow-all). Only answers from the server are
// cached; 4xx responses parse as allow-all.
func (c *robotsCache) check(ctx context.Context, client *http.Client, url string) (r *robots.Robots) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("panic in robots.txt parsing, assuming allowed", slog.String("url", url), slog.Any("panic", p))
			r = nil
		}
	}()

	robotsURL, err := robots.Locate(url)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	cached, ok := c.entries[robotsURL]
	c.mu.Unlock()
	if ok {
		return cached
	}

	r, err = getRobots(ctx, client, robotsURL)
	if err != nil {
		// not cached, the next fetch from this host asks again
		slog.Warn("failed to fetch robots.txt", slog.String("url", robotsURL), slog.Any("err", err))
		return nil
	}

	c.mu.Lock()
	c.entries[robotsURL] = r
	c.mu.Unlock()
	return r
}

func getRobots(ctx context.Context, client *http.Client, url string) (*robots.Robots, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	slog.Debug("robots.txt response",
		slog.String("url", url),
		slog.Int("status_code", resp.StatusCode),
		slog.Int("body_length", len(body)),
	)

	return robots.From(resp.StatusCode, bytes.NewReader(body))
}
