package verify

import (
	"log/slog"
	netUrl "net/url"
	"strings"
	"sync"
	"time"
)

// Target is a stored page to re-check.
type Target struct {
	PageHash string
	URL      string
}

type hostQueue struct {
	host      string
	targets   []Target
	nextVisit time.Time
}

// Frontier hands out targets one host at a time, keeping a delay between
// two visits of the same host.
type Frontier struct {
	mu     sync.Mutex
	queues map[string]*hostQueue
	seen   map[string]bool
}

func NewFrontier() *Frontier {
	return &Frontier{
		queues: make(map[string]*hostQueue),
		seen:   make(map[string]bool),
	}
}

// Push queues t unless a target with the same page hash was queued before.
func (f *Frontier) Push(t Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seen[t.PageHash] {
		slog.Debug("frontier duplicate, skipping", slog.String("page", t.PageHash))
		return false
	}

	host, err := getHost(t.URL)
	if err != nil {
		slog.Error("frontier bad url", slog.String("url", t.URL), slog.Any("err", err))
		return false
	}
	f.seen[t.PageHash] = true

	hq, ok := f.queues[host]
	if !ok {
		hq = &hostQueue{host: host}
		f.queues[host] = hq
	}
	hq.targets = append(hq.targets, t)
	return true
}

// Pop returns the next target of a host whose delay has passed. When every
// queued host is still cooling down it returns nil and the shortest wait.
func (f *Frontier) Pop(delay time.Duration) (*Target, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	var minWait time.Duration = -1

	for host, hq := range f.queues {
		if len(hq.targets) == 0 {
			delete(f.queues, host)
			continue
		}

		if !now.Before(hq.nextVisit) {
			t := hq.targets[0]
			hq.targets = hq.targets[1:]
			hq.nextVisit = now.Add(delay)
			return &t, 0
		}

		wait := hq.nextVisit.Sub(now)
		if minWait == -1 || wait < minWait {
			minWait = wait
		}
	}

	if minWait == -1 {
		return nil, 0
	}
	return nil, minWait
}

func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, hq := range f.queues {
		count += len(hq.targets)
	}
	return count
}

func getHost(str string) (string, error) {
	u, err := netUrl.Parse(str)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", netUrl.InvalidHostError(str)
	}
	return strings.ToLower(u.Hostname()), nil
}
