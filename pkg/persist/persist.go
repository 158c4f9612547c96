// Package persist keeps page highlight records in the local namespace of a
// storage.Store and moves them in and out of export bundles.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/storage"
)

var (
	ErrEmptyState    = errors.New("nothing to act on")
	ErrNotFound      = errors.New("no record for page")
	ErrInvalidFormat = errors.New("invalid highlight bundle")

	ErrDuplicateColor = errors.New("color already offered")
)

const (
	BundleVersion = "1.0"

	keyPageHighlights = "pageHighlights"
)

type PageRecord struct {
	PageHash    string                `json:"pageHash" yaml:"pageHash"`
	URL         string                `json:"url" yaml:"url"`
	Title       string                `json:"title,omitempty" yaml:"title,omitempty"`
	Highlights  []highlight.Highlight `json:"highlights" yaml:"highlights"`
	LastUpdated time.Time             `json:"lastUpdated" yaml:"lastUpdated"`
}

type ExportBundle struct {
	Version        string                `json:"version" yaml:"version"`
	ExportDate     time.Time             `json:"exportDate" yaml:"exportDate"`
	PageHighlights map[string]PageRecord `json:"pageHighlights" yaml:"pageHighlights"`
}

type PageSummary struct {
	PageHash    string    `json:"pageHash"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Highlights  int       `json:"highlights"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Manager serializes read-modify-write cycles on the page store, so several
// documents may share one Manager.
type Manager struct {
	mu      sync.Mutex
	store   storage.Store
	timeout time.Duration
	now     func() time.Time
}

func NewManager(store storage.Store, timeout time.Duration) *Manager {
	return &Manager{store: store, timeout: timeout, now: time.Now}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) readAll(ctx context.Context) (map[string]PageRecord, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	got, err := m.store.Get(ctx, storage.Local, keyPageHighlights)
	if err != nil {
		return nil, m.storeErr("read", err)
	}
	pages := make(map[string]PageRecord)
	raw, ok := got[keyPageHighlights]
	if !ok || len(raw) == 0 {
		return pages, nil
	}
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("decode page store: %w", err)
	}
	return pages, nil
}

func (m *Manager) writeAll(ctx context.Context, pages map[string]PageRecord) error {
	raw, err := json.Marshal(pages)
	if err != nil {
		return err
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	if err := m.store.Set(ctx, storage.Local, map[string][]byte{keyPageHighlights: raw}); err != nil {
		return m.storeErr("write", err)
	}
	return nil
}

func (m *Manager) storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("storage call timed out", slog.String("op", op), slog.Duration("timeout", m.timeout))
		return fmt.Errorf("storage %s timed out after %s: %w", op, m.timeout, err)
	}
	return fmt.Errorf("storage %s: %w", op, err)
}

// Save upserts rec, replacing any earlier record of the same page.
func (m *Manager) Save(ctx context.Context, rec PageRecord) error {
	if len(rec.Highlights) == 0 {
		return ErrEmptyState
	}
	if rec.PageHash == "" {
		return errors.New("page record without hash")
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = m.now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pages, err := m.readAll(ctx)
	if err != nil {
		return err
	}
	pages[rec.PageHash] = rec
	if err := m.writeAll(ctx, pages); err != nil {
		return err
	}

	slog.Info("saved page highlights", slog.String("page", rec.PageHash), slog.Int("highlights", len(rec.Highlights)))
	return nil
}

func (m *Manager) Load(ctx context.Context, pageHash string) (PageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, err := m.readAll(ctx)
	if err != nil {
		return PageRecord{}, err
	}
	rec, ok := pages[pageHash]
	if !ok {
		return PageRecord{}, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record of pageHash. Deleting an absent page reports
// ErrNotFound and writes nothing.
func (m *Manager) Delete(ctx context.Context, pageHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, err := m.readAll(ctx)
	if err != nil {
		return err
	}
	if _, ok := pages[pageHash]; !ok {
		return ErrNotFound
	}
	delete(pages, pageHash)
	if err := m.writeAll(ctx, pages); err != nil {
		return err
	}

	slog.Info("deleted page highlights", slog.String("page", pageHash))
	return nil
}

func (m *Manager) Export(ctx context.Context) (ExportBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pages, err := m.readAll(ctx)
	if err != nil {
		return ExportBundle{}, err
	}
	if len(pages) == 0 {
		return ExportBundle{}, ErrEmptyState
	}
	return ExportBundle{
		Version:        BundleVersion,
		ExportDate:     m.now().UTC(),
		PageHighlights: pages,
	}, nil
}

// Import merges the JSON bundle raw into the store. Pages already present
// are kept as they are. The whole bundle is validated before anything is
// written, and the number of inserted pages is returned.
func (m *Manager) Import(ctx context.Context, raw []byte) (int, error) {
	incoming, err := decodeBundle(raw)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pages, err := m.readAll(ctx)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(incoming))
	for k := range incoming {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	imported := 0
	for _, k := range keys {
		if _, exists := pages[k]; exists {
			continue
		}
		rec := incoming[k]
		if rec.PageHash == "" {
			rec.PageHash = k
		}
		pages[k] = rec
		imported++
	}
	if imported == 0 {
		return 0, nil
	}
	if err := m.writeAll(ctx, pages); err != nil {
		return 0, err
	}

	slog.Info("imported highlights", slog.Int("imported", imported), slog.Int("offered", len(incoming)))
	return imported, nil
}

func decodeBundle(raw []byte) (map[string]PageRecord, error) {
	var shape struct {
		Version        string                     `json:"version"`
		PageHighlights map[string]json.RawMessage `json:"pageHighlights"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if shape.PageHighlights == nil {
		return nil, fmt.Errorf("%w: missing pageHighlights", ErrInvalidFormat)
	}
	if shape.Version != "" && !strings.HasPrefix(shape.Version, "1.") {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidFormat, shape.Version)
	}

	out := make(map[string]PageRecord, len(shape.PageHighlights))
	for k, v := range shape.PageHighlights {
		if k == "" {
			return nil, fmt.Errorf("%w: empty page hash", ErrInvalidFormat)
		}
		if len(v) == 0 || v[0] != '{' {
			return nil, fmt.Errorf("%w: page %s is not an object", ErrInvalidFormat, k)
		}
		var rec PageRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil, fmt.Errorf("%w: page %s: %v", ErrInvalidFormat, k, err)
		}
		out[k] = rec
	}
	return out, nil
}

// Pages lists stored pages, most recently updated first.
func (m *Manager) Pages(ctx context.Context) ([]PageSummary, error) {
	m.mu.Lock()
	pages, err := m.readAll(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]PageSummary, 0, len(pages))
	for k, rec := range pages {
		out = append(out, PageSummary{
			PageHash:    k,
			URL:         rec.URL,
			Title:       rec.Title,
			Highlights:  len(rec.Highlights),
			LastUpdated: rec.LastUpdated,
		})
	}
	slices.SortFunc(out, func(a, b PageSummary) int {
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return strings.Compare(a.PageHash, b.PageHash)
	})
	return out, nil
}
