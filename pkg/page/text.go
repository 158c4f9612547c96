package page

import (
	"iter"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// rawText elements hold character data the reader never sees as page text.
var rawText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Textarea: true,
	atom.Title:    true,
}

// IsRawText reports whether n is an element whose character data is not
// page text.
func IsRawText(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom != 0 {
		return rawText[n.DataAtom]
	}
	switch n.Data {
	case "script", "style", "noscript", "iframe", "svg", "template", "textarea", "title":
		return true
	}
	return false
}

// IsTextLeaf reports whether n directly carries visible character content.
func IsTextLeaf(n *html.Node) bool {
	if n == nil || n.Type != html.TextNode {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if IsRawText(p) {
			return false
		}
	}
	return true
}

// TextLeaves yields the text-bearing leaves under root in document order.
func TextLeaves(root *html.Node) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		walkLeaves(root, yield)
	}
}

func walkLeaves(n *html.Node, yield func(*html.Node) bool) bool {
	if IsRawText(n) {
		return true
	}
	if n.Type == html.TextNode {
		return yield(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkLeaves(c, yield) {
			return false
		}
	}
	return true
}

// TextContent concatenates the text leaves under n without collapsing
// whitespace, so byte offsets into the result map back onto leaves.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	for leaf := range TextLeaves(n) {
		sb.WriteString(leaf.Data)
	}
	return sb.String()
}
