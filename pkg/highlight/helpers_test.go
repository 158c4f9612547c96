package highlight

import (
	"fmt"
	"strings"
	"testing"

	"github.com/devraulu/hilight/pkg/page"
	"golang.org/x/net/html"
)

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := page.ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// leafWith returns the first text leaf containing s.
func leafWith(t *testing.T, doc *html.Node, s string) *html.Node {
	t.Helper()
	for leaf := range page.TextLeaves(doc) {
		if strings.Contains(leaf.Data, s) {
			return leaf
		}
	}
	t.Fatalf("no leaf contains %q", s)
	return nil
}

func firstElement(t *testing.T, doc *html.Node, tag string) *html.Node {
	t.Helper()
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		t.Fatalf("no <%s> element", tag)
	}
	return found
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	out, err := page.Render(n)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// seqIDs yields hl-1, hl-2, ...
func seqIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("hl-%d", n)
	}
}
