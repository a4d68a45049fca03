// Package render normalizes agent replies for display. Some agents answer
// with HTML fragments; those are converted to Markdown.
package render

import (
	"log/slog"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var htmlTag = regexp.MustCompile(`(?i)</?(p|br|div|span|b|i|strong|em|ul|ol|li|a|h[1-6]|code|pre|table|tr|td|th)\b[^>]*>`)

// LooksLikeHTML reports whether text contains common HTML markup.
func LooksLikeHTML(text string) bool {
	return htmlTag.MatchString(text)
}

// Markdown returns text with HTML converted to Markdown. Text without HTML,
// or that fails to convert, is returned trimmed but otherwise unchanged.
func Markdown(text string) string {
	if !LooksLikeHTML(text) {
		return strings.TrimSpace(text)
	}
	md, err := htmltomarkdown.ConvertString(text)
	if err != nil {
		slog.Debug("convert reply to markdown", "error", err)
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(md)
}

// Preview returns a single-line excerpt of at most max runes.
func Preview(text string, max int) string {
	line := strings.Join(strings.Fields(Markdown(text)), " ")
	r := []rune(line)
	if max <= 0 || len(r) <= max {
		return line
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
