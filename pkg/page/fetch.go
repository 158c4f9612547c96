package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benjaminestes/robots"
)

var (
	ErrDisallowed = errors.New("page: disallowed by robots.txt")
	ErrNotHTML    = errors.New("page: response is not text/html")
	ErrBadStatus  = errors.New("page: unexpected status")
)

// Document is a fetched page ready to be turned into a tab.
type Document struct {
	URL        string
	Title      string
	HTML       []byte
	StatusCode int
	FetchedAt  time.Time
}

type Fetcher struct {
	client        *http.Client
	userAgent     string
	respectRobots bool
	robots        *robotsCache
}

func NewFetcher(userAgent string, timeout time.Duration, respectRobots bool) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		respectRobots: respectRobots,
		robots:        &robotsCache{entries: make(map[string]*robots.Robots)},
	}
}

// Fetch downloads url, honouring robots.txt when configured, and returns the
// sanitized HTML.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	if f.respectRobots {
		r := f.robots.check(ctx, f.client, url)
		if r != nil && !r.Test(f.userAgent, url) {
			slog.Info("robots.txt disallowed", slog.String("url", url))
			return nil, ErrDisallowed
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Add("Accept", "text/html")
	req.Header.Add("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	if !validateHTMLContentTypeHeader(resp, "text/html") {
		return nil, ErrNotHTML
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if !validateBodyContentType(body, "text/html") {
		return nil, ErrNotHTML
	}

	doc := Prepare(body)
	doc.URL = url
	doc.StatusCode = resp.StatusCode
	doc.FetchedAt = time.Now()

	slog.Info("page fetched",
		slog.String("url", url),
		slog.Int("status_code", resp.StatusCode),
		slog.Int("bytes", len(body)),
	)
	return doc, nil
}

func validateHTMLContentTypeHeader(resp *http.Response, contentType string) bool {
	header := resp.Header.Get("Content-Type")

	return strings.Contains(strings.ToLower(header), contentType)
}

func validateBodyContentType(body []byte, contentType string) bool {
	return strings.HasPrefix(http.DetectContentType(body), contentType)
}
