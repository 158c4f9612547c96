package highlight

import (
	"iter"
	"strconv"
	"strings"

	"github.com/devraulu/hilight/pkg/page"
	"golang.org/x/net/html"
)

const idPrefix = `//*[@id="`

// ComputePath returns a root-relative structural path for n: an id
// reference when n carries an id, otherwise the parent's path followed by
// tag[index] with a 1-based index among same-tag siblings. Markers are
// transparent so the path also resolves in a tree that has none.
func ComputePath(n *html.Node) string {
	n = effective(n)
	if n == nil || n.Type == html.DocumentNode {
		return ""
	}
	if n.Type != html.ElementNode {
		return ComputePath(n.Parent)
	}
	if id, ok := page.Attr(n, "id"); ok && id != "" && !strings.ContainsAny(id, `"]`) {
		return idPrefix + id + `"]`
	}

	parent := effective(n.Parent)
	if parent == nil {
		return "/" + n.Data + "[1]"
	}
	idx := 1
	for c := range children(parent) {
		if c == n {
			break
		}
		if c.Type == html.ElementNode && c.Data == n.Data {
			idx++
		}
	}
	return ComputePath(parent) + "/" + n.Data + "[" + strconv.Itoa(idx) + "]"
}

// ResolvePath evaluates a path from ComputePath against doc. Any failure
// yields nil; callers fall through to FindByText.
func ResolvePath(doc *html.Node, path string) *html.Node {
	if doc == nil {
		return nil
	}
	cur := doc
	rest := path
	if strings.HasPrefix(path, idPrefix) {
		end := strings.Index(path[len(idPrefix):], `"]`)
		if end < 0 {
			return nil
		}
		id := path[len(idPrefix) : len(idPrefix)+end]
		cur = page.ByID(doc, id)
		if cur == nil || IsMarker(cur) {
			return nil
		}
		rest = path[len(idPrefix)+end+2:]
	}
	if rest == "" {
		return cur
	}
	if !strings.HasPrefix(rest, "/") {
		return nil
	}

	for _, step := range strings.Split(rest[1:], "/") {
		tag, idx, ok := parseStep(step)
		if !ok {
			return nil
		}
		cur = nthElement(cur, tag, idx)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func parseStep(step string) (tag string, idx int, ok bool) {
	open := strings.IndexByte(step, '[')
	if open <= 0 || !strings.HasSuffix(step, "]") {
		return "", 0, false
	}
	idx, err := strconv.Atoi(step[open+1 : len(step)-1])
	if err != nil || idx < 1 {
		return "", 0, false
	}
	return step[:open], idx, true
}

func nthElement(parent *html.Node, tag string, idx int) *html.Node {
	for c := range children(parent) {
		if c.Type == html.ElementNode && c.Data == tag {
			idx--
			if idx == 0 {
				return c
			}
		}
	}
	return nil
}

// FindByText yields, in document order, the text leaves under root whose
// content includes text.
func FindByText(root *html.Node, text string) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		if root == nil || text == "" {
			return
		}
		for leaf := range page.TextLeaves(root) {
			if strings.Contains(leaf.Data, text) {
				if !yield(leaf) {
					return
				}
			}
		}
	}
}

// effective skips marker elements upwards.
func effective(n *html.Node) *html.Node {
	for n != nil && IsMarker(n) {
		n = n.Parent
	}
	return n
}

// children yields the children of n with marker elements replaced by their
// own children.
func children(n *html.Node) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		flatten(n, yield)
	}
}

func flatten(n *html.Node, yield func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if IsMarker(c) {
			if !flatten(c, yield) {
				return false
			}
			continue
		}
		if !yield(c) {
			return false
		}
	}
	return true
}
