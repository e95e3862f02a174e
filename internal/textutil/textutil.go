// Package textutil provides unicode-aware helpers for ledger excerpts and
// report columns.
package textutil

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "…"

// Width returns the number of terminal columns s occupies.
func Width(s string) int {
	return runewidth.StringWidth(s)
}

// Truncate shortens s to at most maxWidth visual columns, appending Ellipsis
// when anything was cut.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if Width(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, Ellipsis)
}

// PadRight pads s with spaces to width columns, truncating if it is wider.
func PadRight(s string, width int) string {
	if Width(s) >= width {
		return Truncate(s, width)
	}
	return runewidth.FillRight(s, width)
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
