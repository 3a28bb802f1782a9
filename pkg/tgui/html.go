package tgui

import (
	"html"
	"unicode/utf8"
)

// H is text already safe for ParseMode HTML. Message builders only accept H
// so user input cannot reach a reply unescaped.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw trusts s as-is. Use it only for markup built in this package or for
// constant strings.
func Raw(s string) H { return H(s) }

func B(s string) H { return "<b>" + Esc(s) + "</b>" }

// TruncRunes shortens s to n runes plus an ellipsis. Counting runes keeps
// multi-byte characters whole.
func TruncRunes(s string, n int) string {
	switch {
	case n <= 0:
		return ""
	case utf8.RuneCountInString(s) <= n:
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
