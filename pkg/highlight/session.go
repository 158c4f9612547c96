package highlight

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/devraulu/hilight/pkg/page"
	"golang.org/x/net/html"
)

// Session is the state of one rendered document: the user's settings, the
// pending selection, the zOrder counter and the dispatch table that maps
// marker ids to marker elements. A Session is not safe for concurrent use;
// it belongs to the goroutine of its document.
type Session struct {
	doc     *html.Node
	marker  *Marker
	state   State
	nextZ   int
	pending *selection
	markers map[string]*html.Node
	logger  *slog.Logger
}

// selection is kept as text-content offsets of the body so that unwrapping
// markers, which preserves text, never invalidates it.
type selection struct {
	start int
	end   int
	text  string
}

type Option func(*Session)

func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Session) { s.marker = NewMarker(gen) }
}

// WithBaseZ sets the zOrder floor; the first commit gets base+1.
func WithBaseZ(base int) Option {
	return func(s *Session) { s.nextZ = base + 1 }
}

func WithState(st State) Option {
	return func(s *Session) { s.state = st }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func NewSession(doc *html.Node, opts ...Option) *Session {
	s := &Session{
		doc:     doc,
		marker:  NewMarker(nil),
		state:   DefaultState(),
		nextZ:   11,
		markers: make(map[string]*html.Node),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.reindex()
	return s
}

func (s *Session) Document() *html.Node { return s.doc }

func (s *Session) State() State {
	st := s.state
	st.CustomColors = slices.Clone(s.state.CustomColors)
	return st
}

// Update applies the fields set in u and returns the names of the fields
// that actually changed.
func (s *Session) Update(u StateUpdate) ([]string, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	changed := s.state.Apply(u)
	if !s.state.Enabled {
		s.pending = nil
	}
	return changed, nil
}

// Select records r as the pending selection.
func (s *Session) Select(r Range) error {
	if !s.state.Enabled {
		return ErrDisabled
	}
	body := page.Body(s.doc)
	start, end, ok := spanOf(body, r)
	if !ok {
		s.pending = nil
		return ErrNoSelection
	}
	return s.selectSpan(body, start, end)
}

// SelectText selects the n-th (1-based) occurrence of text in the body.
func (s *Session) SelectText(text string, occurrence int) error {
	if !s.state.Enabled {
		return ErrDisabled
	}
	if text == "" {
		return ErrNoSelection
	}
	if occurrence < 1 {
		occurrence = 1
	}
	body := page.Body(s.doc)
	content := page.TextContent(body)
	from := 0
	for {
		i := strings.Index(content[from:], text)
		if i < 0 {
			s.pending = nil
			return fmt.Errorf("%w: %q not found", ErrNoSelection, text)
		}
		occurrence--
		if occurrence == 0 {
			return s.selectSpan(body, from+i, from+i+len(text))
		}
		from += i + len(text)
	}
}

func (s *Session) selectSpan(body *html.Node, start, end int) error {
	text := page.TextContent(body)[start:end]
	if strings.TrimSpace(text) == "" {
		s.pending = nil
		return ErrNoSelection
	}
	s.pending = &selection{start: start, end: end, text: text}
	return nil
}

// Pending returns the text of the pending selection.
func (s *Session) Pending() (string, bool) {
	if s.pending == nil {
		return "", false
	}
	return s.pending.text, true
}

// Commit applies color to the pending selection. Markers already covering
// part of the selection are removed first. All markers created by one
// commit share one zOrder.
func (s *Session) Commit(color string) ([]Highlight, error) {
	if !s.state.Enabled {
		return nil, ErrDisabled
	}
	if s.pending == nil {
		return nil, ErrNoSelection
	}
	if !ValidColor(color) {
		return nil, ErrInvalidColor
	}

	sel := s.pending
	s.pending = nil
	z := s.takeZ()

	spans, err := s.paint(sel.start, sel.end, color, z)
	if err != nil {
		return nil, err
	}
	s.state.Color = color

	out := make([]Highlight, 0, len(spans))
	for _, span := range spans {
		out = append(out, describe(span))
	}
	s.logger.Debug("highlight committed",
		slog.String("color", color),
		slog.Int("z", z),
		slog.Int("markers", len(spans)),
	)
	return out, nil
}

func (s *Session) takeZ() int {
	z := s.nextZ
	s.nextZ++
	return z
}

// paint wraps [start, end) of the body text. A single wrap is tried first
// because it keeps sibling adjacency; on structural failure each segment
// is wrapped on its own and unwrappable segments are skipped.
func (s *Session) paint(start, end int, color string, z int) ([]*html.Node, error) {
	body := page.Body(s.doc)
	s.removeOverlapping(body, start, end)
	return s.wrap(body, start, end, color, z)
}

// wrap marks [start, end) without touching existing markers.
func (s *Session) wrap(body *html.Node, start, end int, color string, z int) ([]*html.Node, error) {
	r, ok := rangeAt(body, start, end)
	if !ok {
		return nil, ErrNoSelection
	}

	if span, err := s.marker.WrapRange(r, color, z); err == nil {
		s.markers[Info(span).ID] = span
		return []*html.Node{span}, nil
	}

	var spans []*html.Node
	for _, seg := range Decompose(r) {
		span, err := s.marker.Apply(seg, color, z)
		if err != nil {
			s.logger.Debug("skipping segment", slog.String("text", seg.Text()), slog.Any("err", err))
			continue
		}
		s.markers[Info(span).ID] = span
		spans = append(spans, span)
	}
	if len(spans) == 0 {
		return nil, ErrStructuralWrap
	}
	return spans, nil
}

func (s *Session) removeOverlapping(body *html.Node, start, end int) {
	for _, m := range Markers(body) {
		if m.Parent == nil {
			continue
		}
		ms, me, ok := markerSpan(body, m)
		if !ok || me <= start || ms >= end {
			continue
		}
		delete(s.markers, Info(m).ID)
		Unwrap(m)
	}
}

func markerSpan(body, m *html.Node) (int, int, bool) {
	r := Range{Start: Boundary{Node: m, Offset: 0}, End: Boundary{Node: m, Offset: childCount(m)}}
	return spanOf(body, r)
}

// interval is a half-open range of body text offsets.
type interval struct{ start, end int }

func (s *Session) liveSpans(body *html.Node) []interval {
	var out []interval
	for _, m := range Markers(body) {
		if ms, me, ok := markerSpan(body, m); ok {
			out = append(out, interval{ms, me})
		}
	}
	return out
}

func overlapsAny(taken []interval, start, end int) bool {
	for _, t := range taken {
		if t.start < end && start < t.end {
			return true
		}
	}
	return false
}

// Click is the delegated click handler: it removes the marker with id.
func (s *Session) Click(id string) bool {
	n, ok := s.markers[id]
	if !ok {
		return false
	}
	delete(s.markers, id)
	if n.Parent == nil {
		return false
	}
	Unwrap(n)
	return true
}

// Clear removes every marker satisfying pred (all when pred is nil).
func (s *Session) Clear(pred func(MarkerInfo) bool) int {
	n := RemoveAll(s.doc, pred)
	s.reindex()
	return n
}

func (s *Session) reindex() {
	clear(s.markers)
	for _, m := range Markers(s.doc) {
		info := Info(m)
		s.markers[info.ID] = m
		if info.ZOrder >= s.nextZ {
			s.nextZ = info.ZOrder + 1
		}
	}
}

// Highlights reads the live markers, in document order.
func (s *Session) Highlights() []Highlight {
	markers := Markers(s.doc)
	out := make([]Highlight, 0, len(markers))
	for _, m := range markers {
		out = append(out, describe(m))
	}
	return out
}

func describe(m *html.Node) Highlight {
	info := Info(m)
	return Highlight{
		ID:         info.ID,
		Text:       info.Text,
		Color:      info.Color,
		ZOrder:     info.ZOrder,
		AnchorPath: ComputePath(m.Parent),
	}
}

// RestoreReport counts the outcome of a Restore batch.
type RestoreReport struct {
	Attempted int      `json:"attempted"`
	Restored  int      `json:"restored"`
	Failed    []string `json:"failed,omitempty"`
}

// Restore re-applies persisted highlights. Each anchor is resolved
// structurally first and by text search second; one failure never stops
// the batch. Stored zOrders are renumbered into fresh tiers that keep
// their relative order.
func (s *Session) Restore(hs []Highlight) RestoreReport {
	report := RestoreReport{Attempted: len(hs)}

	tiers := make([]int, 0, len(hs))
	for _, h := range hs {
		tiers = append(tiers, h.ZOrder)
	}
	slices.Sort(tiers)
	tiers = slices.Compact(tiers)
	zFor := make(map[int]int, len(tiers))
	for _, t := range tiers {
		zFor[t] = s.takeZ()
	}

	for _, h := range hs {
		if err := s.restoreOne(h, zFor[h.ZOrder]); err != nil {
			s.logger.Warn("highlight not restored",
				slog.String("id", h.ID),
				slog.String("anchor", h.AnchorPath),
				slog.Any("err", err),
			)
			report.Failed = append(report.Failed, h.ID)
			continue
		}
		report.Restored++
	}
	return report
}

func (s *Session) restoreOne(h Highlight, z int) error {
	if n, ok := s.markers[h.ID]; ok && n.Parent != nil {
		return nil
	}
	if !ValidColor(h.Color) {
		return ErrInvalidColor
	}
	if h.Text == "" {
		return fmt.Errorf("%w: empty text", ErrAnchorResolution)
	}

	body := page.Body(s.doc)
	taken := s.liveSpans(body)
	start, end, ok := anchoredSpan(body, ResolvePath(s.doc, h.AnchorPath), h.Text, taken)
	if !ok {
		start, end, ok = textSpan(body, h.Text, taken)
	}
	if !ok {
		return ErrAnchorResolution
	}

	spans, err := s.wrap(body, start, end, h.Color, z)
	if err != nil {
		return err
	}

	old := Info(spans[0]).ID
	delete(s.markers, old)
	setMarkerID(spans[0], h.ID)
	s.markers[h.ID] = spans[0]
	return nil
}

// anchoredSpan returns the body offsets of the first occurrence of text
// inside el that no live marker covers.
func anchoredSpan(body, el *html.Node, text string, taken []interval) (int, int, bool) {
	if el == nil || text == "" {
		return 0, 0, false
	}
	content := page.TextContent(el)
	for from := 0; ; {
		i := strings.Index(content[from:], text)
		if i < 0 {
			return 0, 0, false
		}
		i += from
		from = i + 1
		r, ok := rangeAt(el, i, i+len(text))
		if !ok {
			continue
		}
		start, end, ok := spanOf(body, r)
		if ok && !overlapsAny(taken, start, end) {
			return start, end, true
		}
	}
}

// textSpan is the fallback: the first free occurrence of text within a
// single leaf, in document order.
func textSpan(body *html.Node, text string, taken []interval) (int, int, bool) {
	for leaf := range FindByText(body, text) {
		for from := 0; ; {
			i := strings.Index(leaf.Data[from:], text)
			if i < 0 {
				break
			}
			i += from
			from = i + 1
			r := Range{Start: Boundary{Node: leaf, Offset: i}, End: Boundary{Node: leaf, Offset: i + len(text)}}
			start, end, ok := spanOf(body, r)
			if ok && !overlapsAny(taken, start, end) {
				return start, end, true
			}
		}
	}
	return 0, 0, false
}

// Render serializes the current document.
func (s *Session) Render() (string, error) {
	return page.Render(s.doc)
}
