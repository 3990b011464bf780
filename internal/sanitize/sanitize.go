// Package sanitize strips invisible and structural Unicode from
// externally fetched text before it re-enters the conversation. The
// classes removed here (zero-width characters, bidirectional controls,
// the tag block) are the ones used to smuggle instructions past a human
// reader: prompt injection via text that renders as nothing.
package sanitize

import "strings"

// invisible reports whether r belongs to a Unicode class that renders
// as nothing but can carry hidden structure or payloads.
func invisible(r rune) bool {
	switch r {
	case '\u200B', // zero width space
		'\u200C', // zero width non-joiner
		'\u200D', // zero width joiner
		'\u2060', // word joiner
		'\uFEFF', // zero width no-break space / BOM
		'\u00AD', // soft hyphen
		'\u180E': // mongolian vowel separator
		return true
	}
	// Bidirectional embedding/override/isolate controls.
	if r >= '\u202A' && r <= '\u202E' {
		return true
	}
	if r >= '\u2066' && r <= '\u2069' {
		return true
	}
	// Unicode tag block: deprecated language tags, used to hide ASCII
	// payloads one plane up.
	if r >= 0xE0000 && r <= 0xE007F {
		return true
	}
	return false
}

// Clean returns text with all invisible/structural Unicode removed.
// It is a pure function: printable content, including non-Latin
// scripts, emoji, and whitespace, passes through untouched.
func Clean(text string) string {
	// Fast path: most fetched text is clean.
	if !strings.ContainsFunc(text, invisible) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if invisible(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
