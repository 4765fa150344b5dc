// Package sanitize cleans text taken from parameter and trial files before
// it is rendered into Markdown that MCP clients load into an agent's
// context. Trial type names and stored error messages are user-controlled,
// so tags, headings, fences and table separators are stripped or escaped.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxNameLength is the maximum rendered length of a trial type name.
const MaxNameLength = 80

// MaxTextLength is the maximum rendered length of a free-text field.
const MaxTextLength = 500

var (
	// reXMLTag matches XML/HTML tags, with or without attributes, and
	// processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reMarkdownHeading = regexp.MustCompile(`^#{1,6}\s+`)
	reBackticks       = regexp.MustCompile("`+")
	reSpaces          = regexp.MustCompile(`\s{2,}`)

	reRepeatedHyphens     = regexp.MustCompile(`-{2,}`)
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// TrialTypeName keeps only [a-zA-Z0-9._-] and spaces, collapses repeated
// hyphens and underscores, and truncates to MaxNameLength. A name with no
// safe characters renders as "(unnamed)".
func TrialTypeName(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' || r == ' ' {
			b.WriteRune(r)
		}
	}
	s := reRepeatedHyphens.ReplaceAllString(b.String(), "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))

	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}
	if s == "" {
		return "(unnamed)"
	}
	return s
}

// InlineText renders input as a single line of Markdown. Control characters
// and newlines become spaces, tags are removed, backtick runs are dropped,
// a leading heading marker is removed and table pipes are escaped.
//
// The pipeline runs in this order:
//  1. Replace control characters (including \n and \t) with spaces
//  2. Strip XML/HTML tags
//  3. Remove backtick runs
//  4. Collapse whitespace and trim
//  5. Remove a leading heading marker
//  6. Truncate to MaxTextLength
//  7. Escape | as \|
func InlineText(input string) string {
	if input == "" {
		return ""
	}

	s := replaceControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reBackticks.ReplaceAllString(s, "")
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	s = reMarkdownHeading.ReplaceAllString(s, "")

	if len(s) > MaxTextLength {
		s = s[:MaxTextLength] + "..."
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// replaceControlChars maps ASCII control characters (0x00-0x1F and 0x7F)
// to spaces.
func replaceControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
