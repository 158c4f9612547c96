package highlight

import (
	"errors"
	"strings"
	"testing"

	"github.com/devraulu/hilight/pkg/page"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func TestApplyWrapsSegment(t *testing.T) {
	doc := parse(t, `<p>hello world</p>`)
	p := firstElement(t, doc, "p")
	leaf := leafWith(t, doc, "hello")

	m := NewMarker(seqIDs())
	span, err := m.Apply(Segment{Node: leaf, Start: 6, End: 11}, "#ffff00", 11)
	if err != nil {
		t.Fatal(err)
	}

	info := Info(span)
	if info.ID != "hl-1" || info.Text != "world" || info.Color != "#ffff00" || info.ZOrder != 11 {
		t.Fatalf("info = %+v", info)
	}
	if !IsMarker(span) || span.Parent != p {
		t.Fatal("marker not attached to the paragraph")
	}
	if got := page.TextContent(p); got != "hello world" {
		t.Fatalf("paragraph text = %q, want unchanged", got)
	}
	out := render(t, p)
	if !strings.Contains(out, `data-color="#ffff00"`) || !strings.Contains(out, "z-index: 11") {
		t.Fatalf("marker attributes missing: %s", out)
	}
}

func TestApplyRejectsStructuralFailures(t *testing.T) {
	m := NewMarker(seqIDs())

	doc := parse(t, `<p>héllo</p>`)
	leaf := leafWith(t, doc, "llo")
	before := render(t, doc)

	// byte 2 is inside the two-byte é
	if _, err := m.Apply(Segment{Node: leaf, Start: 0, End: 2}, "#ffff00", 1); !errors.Is(err, ErrStructuralWrap) {
		t.Fatalf("err = %v, want ErrStructuralWrap", err)
	}
	if _, err := m.Apply(Segment{Node: leaf, Start: 3, End: 3}, "#ffff00", 1); !errors.Is(err, ErrStructuralWrap) {
		t.Fatalf("empty segment err = %v, want ErrStructuralWrap", err)
	}
	if after := render(t, doc); after != before {
		t.Fatalf("tree mutated on failure:\n%s\n%s", before, after)
	}

	tr := &html.Node{Type: html.ElementNode, Data: "tr", DataAtom: atom.Tr}
	ws := &html.Node{Type: html.TextNode, Data: "  "}
	tr.AppendChild(ws)
	if _, err := m.Apply(Segment{Node: ws, Start: 0, End: 2}, "#ffff00", 1); !errors.Is(err, ErrStructuralWrap) {
		t.Fatalf("tr err = %v, want ErrStructuralWrap", err)
	}

	detached := &html.Node{Type: html.TextNode, Data: "loose"}
	if _, err := m.Apply(Segment{Node: detached, Start: 0, End: 5}, "#ffff00", 1); !errors.Is(err, ErrStructuralWrap) {
		t.Fatalf("detached err = %v, want ErrStructuralWrap", err)
	}
}

func TestWrapRangeSingleWrap(t *testing.T) {
	doc := parse(t, `<p>alpha <b>beta</b> gamma</p>`)
	p := firstElement(t, doc, "p")
	start := leafWith(t, doc, "alpha")
	end := leafWith(t, doc, "gamma")

	m := NewMarker(seqIDs())
	span, err := m.WrapRange(Range{Start: Boundary{start, 2}, End: Boundary{end, 3}}, "#4caf50", 12)
	if err != nil {
		t.Fatal(err)
	}
	if got := Info(span).Text; got != "pha beta ga" {
		t.Fatalf("marker text = %q, want %q", got, "pha beta ga")
	}
	if got := page.TextContent(p); got != "alpha beta gamma" {
		t.Fatalf("paragraph text = %q", got)
	}
	if len(Markers(doc)) != 1 {
		t.Fatalf("markers = %d, want 1", len(Markers(doc)))
	}
}

func TestWrapRangeCrossingElements(t *testing.T) {
	doc := parse(t, `<p>one</p><p>two</p>`)
	before := render(t, doc)

	r := Range{Start: Boundary{leafWith(t, doc, "one"), 1}, End: Boundary{leafWith(t, doc, "two"), 2}}
	if _, err := NewMarker(seqIDs()).WrapRange(r, "#ffff00", 1); !errors.Is(err, ErrStructuralWrap) {
		t.Fatalf("err = %v, want ErrStructuralWrap", err)
	}
	if after := render(t, doc); after != before {
		t.Fatal("tree mutated on failure")
	}
}

func TestUnwrapRestoresPlainText(t *testing.T) {
	doc := parse(t, `<p>hello world</p>`)
	p := firstElement(t, doc, "p")
	leaf := leafWith(t, doc, "hello")

	span, err := NewMarker(seqIDs()).Apply(Segment{Node: leaf, Start: 2, End: 7}, "#ffff00", 1)
	if err != nil {
		t.Fatal(err)
	}
	Unwrap(span)

	if p.FirstChild == nil || p.FirstChild != p.LastChild {
		t.Fatal("paragraph should hold a single text node after unwrap")
	}
	if p.FirstChild.Data != "hello world" {
		t.Fatalf("text = %q", p.FirstChild.Data)
	}
}

func TestRemoveAllWithPredicate(t *testing.T) {
	doc := parse(t, `<p>red green blue</p>`)
	m := NewMarker(seqIDs())

	colors := []struct {
		word, color string
	}{{"red", "#f44336"}, {"green", "#4caf50"}, {"blue", "#2196f3"}}
	for i, c := range colors {
		leaf := leafWith(t, doc, c.word)
		start := strings.Index(leaf.Data, c.word)
		if _, err := m.Apply(Segment{Node: leaf, Start: start, End: start + len(c.word)}, c.color, i+1); err != nil {
			t.Fatal(err)
		}
	}

	removed := RemoveAll(doc, func(info MarkerInfo) bool { return info.Color != "#4caf50" })
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	left := Markers(doc)
	if len(left) != 1 || Info(left[0]).Text != "green" {
		t.Fatalf("remaining markers = %d", len(left))
	}

	if RemoveAll(doc, nil) != 1 || len(Markers(doc)) != 0 {
		t.Fatal("RemoveAll(nil) should clear everything")
	}
	if got := page.TextContent(firstElement(t, doc, "p")); got != "red green blue" {
		t.Fatalf("text = %q", got)
	}
}
