package highlight

import (
	"github.com/devraulu/hilight/pkg/page"
	"golang.org/x/net/html"
)

// Boundary is a DOM-style range boundary: a byte offset when Node is text,
// a child index otherwise.
type Boundary struct {
	Node   *html.Node
	Offset int
}

type Range struct {
	Start Boundary
	End   Boundary
}

// NewRange validates a and b and orders them in document order, so a
// selection dragged backwards still yields a forward range.
func NewRange(a, b Boundary) (Range, error) {
	if err := a.validate(); err != nil {
		return Range{}, err
	}
	if err := b.validate(); err != nil {
		return Range{}, err
	}
	root := rootOf(a.Node)
	if rootOf(b.Node) != root {
		return Range{}, ErrDetached
	}
	ix := indexTree(root)
	if ix.key(b).less(ix.key(a)) {
		a, b = b, a
	}
	return Range{Start: a, End: b}, nil
}

func (b Boundary) validate() error {
	if b.Node == nil {
		return ErrInvalidBoundary
	}
	limit := len(b.Node.Data)
	if b.Node.Type != html.TextNode {
		limit = childCount(b.Node)
	}
	if b.Offset < 0 || b.Offset > limit {
		return ErrInvalidBoundary
	}
	return nil
}

// Collapsed reports whether r covers no text.
func (r Range) Collapsed() bool {
	return len(Decompose(r)) == 0
}

// Text returns the text covered by r.
func (r Range) Text() string {
	var out []byte
	for _, s := range Decompose(r) {
		out = append(out, s.Text()...)
	}
	return string(out)
}

// Decompose splits r into the ordered text segments it covers. A range
// within one leaf yields one segment; otherwise the tail of the start leaf,
// every leaf in between and the head of the end leaf. Empty segments are
// never emitted.
func Decompose(r Range) []Segment {
	if r.Start.Node == nil || r.End.Node == nil {
		return nil
	}
	root := rootOf(r.Start.Node)
	if rootOf(r.End.Node) != root {
		return nil
	}

	ix := indexTree(root)
	si, so, ei, eo, ok := ix.clip(r)
	if !ok {
		return nil
	}

	if si == ei {
		return []Segment{{Node: ix.leaves[si], Start: so, End: eo}}
	}

	var segs []Segment
	first := ix.leaves[si]
	segs = appendSegment(segs, first, so, len(first.Data))
	for i := si + 1; i < ei; i++ {
		leaf := ix.leaves[i]
		segs = appendSegment(segs, leaf, 0, len(leaf.Data))
	}
	segs = appendSegment(segs, ix.leaves[ei], 0, eo)
	return segs
}

func appendSegment(segs []Segment, n *html.Node, start, end int) []Segment {
	if start >= end {
		return segs
	}
	return append(segs, Segment{Node: n, Start: start, End: end})
}

type point struct {
	rank int
	off  int
}

func (p point) less(q point) bool {
	return p.rank < q.rank || (p.rank == q.rank && p.off < q.off)
}

// treeIndex is one pre-order pass over a tree: node ranks plus the
// text-bearing leaves in document order.
type treeIndex struct {
	rank   map[*html.Node]int
	leaves []*html.Node
	pos    map[*html.Node]int
}

func indexTree(root *html.Node) *treeIndex {
	ix := &treeIndex{
		rank: make(map[*html.Node]int),
		pos:  make(map[*html.Node]int),
	}
	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		ix.rank[n] = len(ix.rank)
		hidden = hidden || page.IsRawText(n)
		if n.Type == html.TextNode && !hidden {
			ix.pos[n] = len(ix.leaves)
			ix.leaves = append(ix.leaves, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(root, false)
	return ix
}

func (ix *treeIndex) key(b Boundary) point {
	if b.Node.Type == html.TextNode {
		return point{ix.rank[b.Node], b.Offset}
	}
	if c := nthChild(b.Node, b.Offset); c != nil {
		return point{ix.rank[c], -1}
	}
	return point{ix.rank[lastDescendant(b.Node)] + 1, -1}
}

// clip moves both boundaries onto text leaves: the start to the first leaf
// at or after it, the end to the last leaf before it.
func (ix *treeIndex) clip(r Range) (si, so, ei, eo int, ok bool) {
	sk, ek := ix.key(r.Start), ix.key(r.End)
	start, end := r.Start, r.End
	if ek.less(sk) {
		sk, ek = ek, sk
		start, end = end, start
	}

	si = -1
	if i, isLeaf := ix.pos[start.Node]; isLeaf {
		si, so = i, clamp(start.Offset, len(start.Node.Data))
	} else {
		for i, l := range ix.leaves {
			if !(point{ix.rank[l], 0}).less(sk) {
				si, so = i, 0
				break
			}
		}
	}

	ei = -1
	if i, isLeaf := ix.pos[end.Node]; isLeaf {
		ei, eo = i, clamp(end.Offset, len(end.Node.Data))
	} else {
		for i := len(ix.leaves) - 1; i >= 0; i-- {
			l := ix.leaves[i]
			if !ek.less(point{ix.rank[l], len(l.Data)}) {
				ei, eo = i, len(l.Data)
				break
			}
		}
	}

	if si < 0 || ei < 0 || ei < si || (si == ei && so >= eo) {
		return 0, 0, 0, 0, false
	}
	return si, so, ei, eo, true
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func rootOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func childCount(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count++
	}
	return count
}

func nthChild(n *html.Node, i int) *html.Node {
	c := n.FirstChild
	for ; c != nil && i > 0; i-- {
		c = c.NextSibling
	}
	return c
}

func lastDescendant(n *html.Node) *html.Node {
	for n.LastChild != nil {
		n = n.LastChild
	}
	return n
}

// textOffset is the byte offset of (leaf, off) within the text content of root.
func textOffset(root, leaf *html.Node, off int) (int, bool) {
	pos := 0
	for l := range page.TextLeaves(root) {
		if l == leaf {
			return pos + off, true
		}
		pos += len(l.Data)
	}
	return 0, false
}

// rangeAt maps [start, end) of the text content of root back onto leaves.
func rangeAt(root *html.Node, start, end int) (Range, bool) {
	if start < 0 || end <= start {
		return Range{}, false
	}
	var r Range
	haveStart := false
	pos := 0
	for leaf := range page.TextLeaves(root) {
		n := len(leaf.Data)
		if !haveStart && start < pos+n {
			r.Start = Boundary{Node: leaf, Offset: start - pos}
			haveStart = true
		}
		if haveStart && end <= pos+n {
			r.End = Boundary{Node: leaf, Offset: end - pos}
			return r, true
		}
		pos += n
	}
	return Range{}, false
}

// spanOf returns the text-content offsets of r within root.
func spanOf(root *html.Node, r Range) (start, end int, ok bool) {
	segs := Decompose(r)
	if len(segs) == 0 {
		return 0, 0, false
	}
	first, last := segs[0], segs[len(segs)-1]
	start, ok = textOffset(root, first.Node, first.Start)
	if !ok {
		return 0, 0, false
	}
	end, ok = textOffset(root, last.Node, last.End)
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}
