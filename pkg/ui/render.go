package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/rs/zerolog/log"
)

func wrapWords(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wordwrap.String(text, width)
}

// markdownRenderer renders assistant replies with glamour and falls back to
// plain word wrapping when that fails.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

func newMarkdownRenderer(style string) *markdownRenderer {
	if style == "" {
		style = "dark"
	}
	return &markdownRenderer{style: style}
}

func (r *markdownRenderer) Render(text string, width int) string {
	if width <= 0 {
		return text
	}
	if r.renderer == nil || r.width != width {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			log.Debug().Err(err).Msg("Could not create markdown renderer")
			return wrapWords(text, width)
		}
		r.renderer = tr
		r.width = width
	}
	out, err := r.renderer.Render(text)
	if err != nil {
		return wrapWords(text, width)
	}
	return strings.Trim(out, "\n")
}
