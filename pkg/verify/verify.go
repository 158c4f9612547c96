// Package verify re-fetches pages with saved highlights and reports how many
// of their anchors still resolve against the live document.
package verify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/page"
	"github.com/devraulu/hilight/pkg/persist"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*page.Document, error)
}

type Stats struct {
	StartTime time.Time
	Checked   int
	Errored   int
	Skipped   int
	Attempted int
	Restored  int
}

func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// Result is the outcome for one page. Skipped pages were refused by
// robots.txt; Err is set for any other failure.
type Result struct {
	PageHash string                  `json:"pageHash"`
	URL      string                  `json:"url"`
	Report   highlight.RestoreReport `json:"report"`
	Skipped  bool                    `json:"skipped,omitempty"`
	Err      error                   `json:"-"`
}

// Intact reports whether every saved highlight was found again.
func (r Result) Intact() bool {
	return r.Err == nil && !r.Skipped && r.Report.Restored == r.Report.Attempted
}

type Verifier struct {
	pages    *persist.Manager
	fetcher  Fetcher
	workers  int
	delay    time.Duration
	frontier *Frontier
	session  []highlight.Option
	Stats    Stats
}

type Option func(*Verifier)

func WithWorkers(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.workers = n
		}
	}
}

// WithDelay sets the pause between two fetches from one host.
func WithDelay(d time.Duration) Option {
	return func(v *Verifier) { v.delay = d }
}

func WithSessionOptions(opts ...highlight.Option) Option {
	return func(v *Verifier) { v.session = append(v.session, opts...) }
}

func New(pages *persist.Manager, f Fetcher, opts ...Option) *Verifier {
	v := &Verifier{
		pages:    pages,
		fetcher:  f,
		workers:  4,
		delay:    time.Second,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Run checks every stored page, or only those whose hash is in only when it
// is non-empty. Results come back in completion order.
func (v *Verifier) Run(ctx context.Context, only map[string]string) ([]Result, error) {
	summaries, err := v.pages.Pages(ctx)
	if err != nil {
		return nil, err
	}
	v.frontier = NewFrontier()
	for _, s := range summaries {
		if len(only) > 0 {
			if _, ok := only[s.PageHash]; !ok {
				continue
			}
		}
		v.frontier.Push(Target{PageHash: s.PageHash, URL: s.URL})
	}

	v.Stats = Stats{StartTime: time.Now()}

	jobs := make(chan Target, v.workers)
	results := make(chan Result, v.workers)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < v.workers; i++ {
		go v.worker(wctx, i, jobs, results)
	}

	out := v.coordinator(ctx, jobs, results)

	slog.Info("verify complete",
		slog.Int("checked", v.Stats.Checked),
		slog.Int("errored", v.Stats.Errored),
		slog.Int("skipped", v.Stats.Skipped),
		slog.Int("restored", v.Stats.Restored),
		slog.Int("attempted", v.Stats.Attempted),
		slog.Duration("elapsed", v.Stats.Elapsed()),
	)
	return out, ctx.Err()
}

func (v *Verifier) coordinator(ctx context.Context, jobs chan<- Target, results <-chan Result) []Result {
	var out []Result
	active := 0
	for {
		var target *Target
		var wait time.Duration

		pending := v.frontier.Len()
		if pending == 0 && active == 0 {
			return out
		}
		if pending > 0 && active < v.workers {
			target, wait = v.frontier.Pop(v.delay)
		}

		switch {
		case target != nil:
			select {
			case jobs <- *target:
				active++
				slog.Debug("job dispatched", slog.String("url", target.URL), slog.Int("active_workers", active))
				continue
			case <-ctx.Done():
				return out
			}
		case wait > 0 && active == 0:
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return out
			}
		}

		// workers busy or every host cooling down
		var timer <-chan time.Time
		if wait > 0 {
			timer = time.After(wait)
		}
		select {
		case res := <-results:
			active--
			out = append(out, res)
			v.record(res)
		case <-timer:
		case <-ctx.Done():
			return out
		}
	}
}

func (v *Verifier) record(res Result) {
	switch {
	case res.Skipped:
		v.Stats.Skipped++
		return
	case res.Err != nil:
		v.Stats.Errored++
		slog.Error("verify failed", slog.String("url", res.URL), slog.Any("err", res.Err))
		return
	}
	v.Stats.Checked++
	v.Stats.Attempted += res.Report.Attempted
	v.Stats.Restored += res.Report.Restored
	slog.Info("page verified",
		slog.String("url", res.URL),
		slog.Int("restored", res.Report.Restored),
		slog.Int("attempted", res.Report.Attempted),
	)
}

func (v *Verifier) worker(ctx context.Context, id int, jobs <-chan Target, results chan<- Result) {
	slog.Debug("worker started", "id", id)
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res := v.check(ctx, job)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (v *Verifier) check(ctx context.Context, t Target) Result {
	res := Result{PageHash: t.PageHash, URL: t.URL}

	rec, err := v.pages.Load(ctx, t.PageHash)
	if err != nil {
		res.Err = err
		return res
	}

	doc, err := v.fetcher.Fetch(ctx, t.URL)
	if errors.Is(err, page.ErrDisallowed) {
		res.Skipped = true
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}

	tree, err := page.Parse(bytes.NewReader(doc.HTML))
	if err != nil {
		res.Err = err
		return res
	}

	s := highlight.NewSession(tree, v.session...)
	res.Report = s.Restore(rec.Highlights)
	return res
}
