package highlight

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/devraulu/hilight/pkg/page"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	MarkerClass = "highlight-text"

	attrID    = "data-highlight-id"
	attrColor = "data-color"
	attrZ     = "data-z"
)

// MarkerInfo is the state recorded on a marker element.
type MarkerInfo struct {
	ID     string `expr:"id"`
	Text   string `expr:"text"`
	Color  string `expr:"color"`
	ZOrder int    `expr:"zOrder"`
}

// Marker wraps text segments in highlight elements.
type Marker struct {
	newID IDGenerator
}

func NewMarker(gen IDGenerator) *Marker {
	if gen == nil {
		gen = UUIDv7()
	}
	return &Marker{newID: gen}
}

// Apply wraps seg in a new marker. On ErrStructuralWrap the tree is untouched
// and the caller may skip the segment.
func (m *Marker) Apply(seg Segment, color string, zOrder int) (*html.Node, error) {
	n := seg.Node
	if n == nil || n.Type != html.TextNode || n.Parent == nil {
		return nil, fmt.Errorf("%w: not an attached text node", ErrStructuralWrap)
	}
	if seg.Start < 0 || seg.End > len(n.Data) || seg.Start >= seg.End {
		return nil, fmt.Errorf("%w: offsets [%d,%d) outside %d bytes", ErrStructuralWrap, seg.Start, seg.End, len(n.Data))
	}
	if !utf8.RuneStart(byteAt(n.Data, seg.Start)) || !utf8.RuneStart(byteAt(n.Data, seg.End)) {
		return nil, fmt.Errorf("%w: offset splits a character", ErrStructuralWrap)
	}
	if !canHostSpan(n.Parent) {
		return nil, fmt.Errorf("%w: <%s> cannot hold a marker", ErrStructuralWrap, n.Parent.Data)
	}

	mid := n
	if seg.Start > 0 {
		mid = splitText(n, seg.Start)
	}
	if width := seg.End - seg.Start; width < len(mid.Data) {
		splitText(mid, width)
	}

	span := m.newSpan(color, zOrder)
	mid.Parent.InsertBefore(span, mid)
	mid.Parent.RemoveChild(mid)
	span.AppendChild(mid)
	return span, nil
}

// WrapRange wraps the whole of r in one marker. It only succeeds when both
// ends of r share a parent, so no element is split; otherwise it returns
// ErrStructuralWrap without touching the tree.
func (m *Marker) WrapRange(r Range, color string, zOrder int) (*html.Node, error) {
	segs := Decompose(r)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty range", ErrStructuralWrap)
	}
	if len(segs) == 1 {
		return m.Apply(segs[0], color, zOrder)
	}

	first, last := segs[0], segs[len(segs)-1]
	parent := first.Node.Parent
	if parent == nil || last.Node.Parent != parent {
		return nil, fmt.Errorf("%w: range crosses an element boundary", ErrStructuralWrap)
	}
	if !canHostSpan(parent) {
		return nil, fmt.Errorf("%w: <%s> cannot hold a marker", ErrStructuralWrap, parent.Data)
	}
	if !utf8.RuneStart(byteAt(first.Node.Data, first.Start)) || !utf8.RuneStart(byteAt(last.Node.Data, last.End)) {
		return nil, fmt.Errorf("%w: offset splits a character", ErrStructuralWrap)
	}

	start := first.Node
	if first.Start > 0 {
		start = splitText(first.Node, first.Start)
	}
	end := last.Node
	if last.End < len(end.Data) {
		splitText(end, last.End)
	}

	span := m.newSpan(color, zOrder)
	parent.InsertBefore(span, start)
	for n := start; n != nil; {
		next := n.NextSibling
		parent.RemoveChild(n)
		span.AppendChild(n)
		if n == end {
			break
		}
		n = next
	}
	return span, nil
}

func (m *Marker) newSpan(color string, zOrder int) *html.Node {
	id := m.newID()
	z := strconv.Itoa(zOrder)
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: "id", Val: id},
			{Key: attrID, Val: id},
			{Key: attrColor, Val: color},
			{Key: attrZ, Val: z},
			{Key: "style", Val: "background-color: " + color +
				"; padding: 1px 2px; border-radius: 2px; cursor: pointer; position: relative; z-index: " + z},
		},
	}
}

// splitText cuts n at off and returns the new right-hand text node.
func splitText(n *html.Node, off int) *html.Node {
	right := &html.Node{Type: html.TextNode, Data: n.Data[off:]}
	n.Data = n.Data[:off]
	n.Parent.InsertBefore(right, n.NextSibling)
	return right
}

func byteAt(s string, i int) byte {
	if i >= len(s) {
		// end of string is always a rune boundary
		return 0
	}
	return s[i]
}

// canHostSpan rejects parents where the HTML parser would move or drop an
// inline span on re-parse.
func canHostSpan(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Html, atom.Head, atom.Table, atom.Thead, atom.Tbody, atom.Tfoot, atom.Tr,
		atom.Colgroup, atom.Select, atom.Optgroup, atom.Option, atom.Frameset:
		return false
	}
	return !page.IsRawText(n)
}

// IsMarker reports whether n is a highlight marker element.
func IsMarker(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || n.Data != "span" {
		return false
	}
	_, ok := page.Attr(n, attrID)
	return ok
}

// Info reads the recorded state of marker n.
func Info(n *html.Node) MarkerInfo {
	id, _ := page.Attr(n, attrID)
	color, _ := page.Attr(n, attrColor)
	zs, _ := page.Attr(n, attrZ)
	z, _ := strconv.Atoi(zs)
	return MarkerInfo{ID: id, Text: allText(n), Color: color, ZOrder: z}
}

func setMarkerID(n *html.Node, id string) {
	page.SetAttr(n, "id", id)
	page.SetAttr(n, attrID, id)
}

// Markers returns every marker under root in document order.
func Markers(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if IsMarker(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// Unwrap replaces marker n with one text node holding its accumulated text,
// merged with any adjacent text so the tree matches a fresh parse.
func Unwrap(n *html.Node) *html.Node {
	parent := n.Parent
	if parent == nil {
		return nil
	}
	text := &html.Node{Type: html.TextNode, Data: allText(n)}
	parent.InsertBefore(text, n)
	parent.RemoveChild(n)

	if prev := text.PrevSibling; prev != nil && prev.Type == html.TextNode {
		prev.Data += text.Data
		parent.RemoveChild(text)
		text = prev
	}
	if next := text.NextSibling; next != nil && next.Type == html.TextNode {
		text.Data += next.Data
		parent.RemoveChild(next)
	}
	return text
}

// RemoveAll unwraps every marker under root for which pred holds, or every
// marker when pred is nil. It returns the number removed.
func RemoveAll(root *html.Node, pred func(MarkerInfo) bool) int {
	markers := Markers(root)
	removed := 0
	// innermost first so an outer marker still sees its full text
	for i := len(markers) - 1; i >= 0; i-- {
		n := markers[i]
		if pred != nil && !pred(Info(n)) {
			continue
		}
		if Unwrap(n) != nil {
			removed++
		}
	}
	return removed
}

func allText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
