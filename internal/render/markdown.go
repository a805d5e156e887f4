// Package render turns items and lists into the HTML fragments carried by
// response tags.
//
// The presentation layer owns the page; every fragment here replaces the
// content of one element, named by the response tag. Item text is Markdown
// and is rendered with GitHub-flavoured extensions. Raw HTML in item text
// is not passed through.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.Strikethrough,
		extension.Table,
		extension.Footnote,
		extension.TaskList,
		extension.Linkify,
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Markdown renders item text.
func Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
