// Package fsutil holds the filesystem helpers shared by the renamer and the
// archiver: a portable file name transform and a no-replace move.
package fsutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameBytes is the longest name Sanitize produces.
const MaxNameBytes = 255

const replacement = '_'

// Characters rejected by at least one mainstream filesystem.
const illegalChars = `/\?<>:*|"`

var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize maps name to a single path component that is valid on Windows,
// macOS and Linux. Illegal and control characters become '_', reserved
// device names get a '_' prefix, trailing dots and spaces are dropped and
// the result is cut to MaxNameBytes. It never returns an empty string and
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(illegalChars, r) {
			r = replacement
		}
		b.WriteRune(r)
	}
	out := trimTail(b.String())

	if isReserved(out) {
		out = trimTail(string(replacement) + out)
	}
	return out
}

// trimTail cuts s to MaxNameBytes and drops trailing dots and spaces.
// Cutting first means a newly exposed trailing dot is also dropped.
func trimTail(s string) string {
	s = strings.TrimRight(truncate(s, MaxNameBytes), ". ")
	if s == "" {
		return string(replacement)
	}
	return s
}

// isReserved reports whether the stem of name (the part before its first
// dot, ignoring trailing spaces) is a Windows device name.
func isReserved(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	stem = strings.TrimRight(stem, " ")
	_, ok := reservedNames[strings.ToUpper(stem)]
	return ok
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
