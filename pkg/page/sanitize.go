package page

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	return p
}

// Prepare sanitizes raw page markup into a self-contained document that
// keeps the original title. Ids survive sanitizing so anchors can use them.
func Prepare(raw []byte) *Document {
	var title, body string

	doc, err := html.Parse(bytes.NewReader(raw))
	if err == nil {
		title = Title(doc)
		var sb strings.Builder
		for c := Body(doc).FirstChild; c != nil; c = c.NextSibling {
			_ = html.Render(&sb, c)
		}
		body = sb.String()
	} else {
		body = string(raw)
	}

	var out strings.Builder
	out.WriteString("<!DOCTYPE html><html><head><title>")
	out.WriteString(html.EscapeString(title))
	out.WriteString("</title></head><body>")
	out.WriteString(policy.Sanitize(body))
	out.WriteString("</body></html>")

	return &Document{
		Title: title,
		HTML:  []byte(out.String()),
	}
}
