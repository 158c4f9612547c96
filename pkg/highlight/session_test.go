package highlight

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

const articleDoc = `<html><head><title>Article</title></head><body>
<p>Intro text.</p>
<p>They say hello world now and then.</p>
<p>The quick brown fox</p><ul><li>jumps over</li><li>the dog</li></ul>
</body></html>`

func newTestSession(t *testing.T, src string) *Session {
	t.Helper()
	return NewSession(parse(t, src), WithIDGenerator(seqIDs()), WithBaseZ(10))
}

func TestCommitAndRestoreAfterReload(t *testing.T) {
	s := newTestSession(t, articleDoc)

	if err := s.SelectText("hello world", 1); err != nil {
		t.Fatal(err)
	}
	created, err := s.Commit("#ffff00")
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d highlights, want 1", len(created))
	}
	saved := s.Highlights()
	if len(saved) != 1 || saved[0].Text != "hello world" || saved[0].Color != "#ffff00" {
		t.Fatalf("highlights = %+v", saved)
	}
	if saved[0].AnchorPath != "/html[1]/body[1]/p[2]" {
		t.Fatalf("anchor = %q", saved[0].AnchorPath)
	}

	// reload: a fresh parse of the same page
	reloaded := newTestSession(t, articleDoc)
	report := reloaded.Restore(saved)
	if report.Attempted != 1 || report.Restored != 1 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got := reloaded.Highlights()
	if len(got) != 1 || got[0].Text != "hello world" || got[0].Color != "#ffff00" || got[0].ID != saved[0].ID {
		t.Fatalf("restored = %+v", got)
	}
}

func TestCommitAcrossElementsSharesZOrder(t *testing.T) {
	s := newTestSession(t, articleDoc)

	start := leafWith(t, s.Document(), "quick brown")
	end := leafWith(t, s.Document(), "jumps")
	r, err := NewRange(Boundary{start, 10}, Boundary{end, 5})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Select(r); err != nil {
		t.Fatal(err)
	}
	if text, _ := s.Pending(); text != "brown foxjumps" {
		t.Fatalf("pending = %q", text)
	}

	created, err := s.Commit("#2196f3")
	if err != nil {
		t.Fatal(err)
	}
	if len(created) < 2 {
		t.Fatalf("created = %d markers, want at least 2", len(created))
	}
	for _, h := range created {
		if h.ZOrder != created[0].ZOrder {
			t.Fatalf("zOrders differ: %d vs %d", h.ZOrder, created[0].ZOrder)
		}
	}
	if created[0].Text != "brown fox" || created[1].Text != "jumps" {
		t.Fatalf("texts = %q, %q", created[0].Text, created[1].Text)
	}
}

func TestZOrderNeverReused(t *testing.T) {
	s := newTestSession(t, articleDoc)

	var zs []int
	for _, word := range []string{"Intro", "hello", "quick"} {
		if err := s.SelectText(word, 1); err != nil {
			t.Fatal(err)
		}
		hs, err := s.Commit("#ff9800")
		if err != nil {
			t.Fatal(err)
		}
		zs = append(zs, hs[0].ZOrder)
		if !s.Click(hs[0].ID) {
			t.Fatalf("click on %s did not remove it", hs[0].ID)
		}
	}
	if !slices.Equal(zs, []int{11, 12, 13}) {
		t.Fatalf("zOrders = %v, want [11 12 13]", zs)
	}
	if len(s.Highlights()) != 0 {
		t.Fatal("clicked highlights still present")
	}
	if s.Click("hl-404") {
		t.Fatal("click on unknown id reported success")
	}
}

func TestCommitReplacesOverlap(t *testing.T) {
	s := newTestSession(t, articleDoc)

	if err := s.SelectText("quick brown", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit("#ffff00"); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectText("brown fox", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit("#f44336"); err != nil {
		t.Fatal(err)
	}

	hs := s.Highlights()
	if len(hs) != 1 || hs[0].Text != "brown fox" || hs[0].Color != "#f44336" {
		t.Fatalf("highlights = %+v", hs)
	}
}

func TestCommitErrors(t *testing.T) {
	s := newTestSession(t, articleDoc)

	if _, err := s.Commit("#ffff00"); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
	if err := s.SelectText("not on the page", 1); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
	if err := s.SelectText("Intro", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit("yellow"); !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("err = %v, want ErrInvalidColor", err)
	}

	off := false
	if _, err := s.Update(StateUpdate{Enabled: &off}); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectText("Intro", 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestUpdateAppliesChangedFieldsOnly(t *testing.T) {
	s := newTestSession(t, articleDoc)

	color := "#ffff00"
	mode := PositionDock
	changed, err := s.Update(StateUpdate{Color: &color, PositionMode: &mode})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(changed, []string{"positionMode"}) {
		t.Fatalf("changed = %v, want [positionMode]", changed)
	}
	st := s.State()
	if !st.Enabled || st.PositionMode != PositionDock {
		t.Fatalf("state = %+v", st)
	}

	bad := PositionMode("sideways")
	if _, err := s.Update(StateUpdate{PositionMode: &bad}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
}

func TestRestoreFallsBackToText(t *testing.T) {
	s := newTestSession(t, articleDoc)
	report := s.Restore([]Highlight{
		{ID: "hl-a", Text: "jumps over", Color: "#4caf50", ZOrder: 30, AnchorPath: "/html[1]/body[1]/div[7]"},
		{ID: "hl-b", Text: "not on this page", Color: "#4caf50", ZOrder: 31, AnchorPath: "/html[1]/body[1]/p[1]"},
		{ID: "hl-c", Text: "Intro", Color: "#ffeb3b", ZOrder: 30, AnchorPath: `//*[@id="gone"]`},
	})
	if report.Attempted != 3 || report.Restored != 2 {
		t.Fatalf("report = %+v", report)
	}
	if !slices.Equal(report.Failed, []string{"hl-b"}) {
		t.Fatalf("failed = %v", report.Failed)
	}

	hs := s.Highlights()
	if len(hs) != 2 {
		t.Fatalf("highlights = %+v", hs)
	}
	// document order: Intro first; both shared the stored tier 30
	if hs[0].ID != "hl-c" || hs[1].ID != "hl-a" || hs[0].ZOrder != hs[1].ZOrder {
		t.Fatalf("highlights = %+v", hs)
	}

	// restoring the same records again is a no-op
	again := s.Restore(hs)
	if again.Restored != 2 || len(s.Highlights()) != 2 {
		t.Fatalf("second restore = %+v, highlights = %d", again, len(s.Highlights()))
	}
}

func TestClearWithFilter(t *testing.T) {
	s := newTestSession(t, articleDoc)
	for word, color := range map[string]string{"Intro": "#ffff00", "hello": "#f44336"} {
		if err := s.SelectText(word, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Commit(color); err != nil {
			t.Fatal(err)
		}
	}

	pred, err := CompileFilter(`color == "#f44336"`)
	if err != nil {
		t.Fatal(err)
	}
	if n := s.Clear(pred); n != 1 {
		t.Fatalf("cleared = %d, want 1", n)
	}
	hs := s.Highlights()
	if len(hs) != 1 || hs[0].Text != "Intro" {
		t.Fatalf("highlights = %+v", hs)
	}
	if n := s.Clear(nil); n != 1 {
		t.Fatalf("cleared = %d, want 1", n)
	}
}

func TestSelectTextOccurrence(t *testing.T) {
	s := newTestSession(t, `<p>the cat and the hat</p>`)
	if err := s.SelectText("the", 2); err != nil {
		t.Fatal(err)
	}
	hs, err := s.Commit("#ffff00")
	if err != nil {
		t.Fatal(err)
	}
	p := firstElement(t, s.Document(), "p")
	if hs[0].Text != "the" || p.FirstChild.Data != "the cat and " {
		t.Fatalf("wrong occurrence highlighted: first child %q", p.FirstChild.Data)
	}
}

func TestRestoreRepeatedTextInOneElement(t *testing.T) {
	const doc = `<html><body><p>the cat and the dog</p></body></html>`
	s := newTestSession(t, doc)
	for i, color := range []string{"#ffff00", "#4caf50"} {
		if err := s.SelectText("the", i+1); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Commit(color); err != nil {
			t.Fatal(err)
		}
	}
	saved := s.Highlights()
	if len(saved) != 2 || saved[0].AnchorPath != saved[1].AnchorPath {
		t.Fatalf("saved = %+v", saved)
	}

	reloaded := newTestSession(t, doc)
	report := reloaded.Restore(saved)
	got := reloaded.Highlights()
	if report.Restored != 2 || len(got) != report.Restored {
		t.Fatalf("report = %+v, live markers = %+v", report, got)
	}
	for i := range saved {
		if got[i].ID != saved[i].ID || got[i].Color != saved[i].Color {
			t.Fatalf("marker %d = %+v, want %+v", i, got[i], saved[i])
		}
	}
	want := `<span class="highlight-text"`
	if out := render(t, reloaded.Document()); strings.Count(out, want) != 2 {
		t.Fatalf("document = %s", out)
	}
}

func TestRestoreReportMatchesTree(t *testing.T) {
	const doc = `<html><body><div><p>red red blue</p><p>green</p></div></body></html>`
	s := newTestSession(t, doc)
	batch := []Highlight{
		{ID: "hl-a", Text: "red", Color: "#f44336", ZOrder: 5, AnchorPath: "/html[1]/body[1]/div[1]/p[1]"},
		{ID: "hl-b", Text: "red", Color: "#f44336", ZOrder: 5, AnchorPath: "/html[1]/body[1]/div[1]/p[1]"},
		{ID: "hl-c", Text: "red", Color: "#f44336", ZOrder: 6, AnchorPath: "/html[1]/body[1]/div[1]/p[1]"},
		{ID: "hl-d", Text: "blue", Color: "#2196f3", ZOrder: 6, AnchorPath: "/html[1]/body[1]/div[1]/p[1]"},
		{ID: "hl-e", Text: "green", Color: "#4caf50", ZOrder: 7, AnchorPath: "/html[1]/body[1]/div[1]/p[9]"},
	}
	report := s.Restore(batch)
	got := s.Highlights()

	// only two "red" exist; the third has nowhere free to go
	if report.Attempted != 5 || report.Restored != 4 || !slices.Equal(report.Failed, []string{"hl-c"}) {
		t.Fatalf("report = %+v", report)
	}
	if len(got) != report.Restored {
		t.Fatalf("live markers = %d, report says %d", len(got), report.Restored)
	}
	var ids []string
	for _, h := range got {
		ids = append(ids, h.ID)
	}
	if !slices.Equal(ids, []string{"hl-a", "hl-b", "hl-d", "hl-e"}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestRestoreFallsBackWhenAnchorIsTaken(t *testing.T) {
	s := newTestSession(t, `<html><body><p>red</p><p>red</p></body></html>`)
	report := s.Restore([]Highlight{
		{ID: "hl-a", Text: "red", Color: "#f44336", ZOrder: 1, AnchorPath: "/html[1]/body[1]/p[1]"},
		{ID: "hl-b", Text: "red", Color: "#f44336", ZOrder: 1, AnchorPath: "/html[1]/body[1]/p[1]"},
	})
	if report.Restored != 2 {
		t.Fatalf("report = %+v", report)
	}
	hs := s.Highlights()
	if len(hs) != 2 || hs[1].ID != "hl-b" || hs[1].AnchorPath != "/html[1]/body[1]/p[2]" {
		t.Fatalf("highlights = %+v", hs)
	}
}
