package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	boldRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe  = regexp.MustCompile(`(^|[^*])\*([^*\n]+)\*`)
	codeRe    = regexp.MustCompile("`([^`]*)`")
	fenceRe   = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRe  = regexp.MustCompile(`(?m)^\s*[-*]\s+`)
)

// SanitizePlainText strips the markdown markup chat models habitually emit,
// leaving plain text suitable for a text/plain stream.
func SanitizePlainText(s string) string {
	s = fenceRe.ReplaceAllString(s, "$1")
	s = codeRe.ReplaceAllString(s, "$1")
	s = boldRe.ReplaceAllString(s, "$1")
	s = italicRe.ReplaceAllString(s, "$1$2")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "- ")
	return s
}

// SanitizeUTF8 drops invalid byte sequences so text is safe for Postgres
// text columns.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}

// CollapseWhitespace squeezes runs of blank lines and spaces left behind by
// markup removal.
func CollapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t")
		if trimmed == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
