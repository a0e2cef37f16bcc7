// Package tags turns raw author-entered tag text into canonical tag names.
package tags

import (
	"regexp"
	"strings"
)

// List is an ordered sequence of tag strings. Raw free-form input must
// pass through ParseList before it can become a List; handing a single
// un-split string further down the pipeline is what used to make tags
// render as individual characters.
type List []string

var splitPattern = regexp.MustCompile(`[,\n]`)

// ParseList splits a free-form tag field on commas and newlines.
// Tokens are kept raw; Normalize does the cleanup.
func ParseList(raw string) List {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return List(splitPattern.Split(raw, -1))
}

// Options bounds what counts as a valid tag token. Zero values disable
// the corresponding check.
type Options struct {
	MaxLength int
	Pattern   *regexp.Regexp
}

// Canonical returns the canonical form of a single token: trimmed,
// inner whitespace collapsed to single spaces, lower-cased. Empty
// result means the token carried no content.
func Canonical(in string) string {
	trimmed := strings.TrimSpace(in)
	if trimmed == "" {
		return ""
	}
	collapsed := strings.Join(strings.Fields(trimmed), " ")
	return strings.ToLower(collapsed)
}

// Normalize canonicalizes every token, drops empty or invalid ones,
// and deduplicates while preserving first-seen order. Invalid tokens
// are dropped rather than rejected so authoring never fails on tag
// formatting alone. Normalize(Normalize(x)) == Normalize(x).
func Normalize(in List, opts Options) List {
	seen := make(map[string]struct{}, len(in))
	out := make(List, 0, len(in))
	for _, t := range in {
		n := Canonical(t)
		if n == "" {
			continue
		}
		if opts.MaxLength > 0 && len(n) > opts.MaxLength {
			continue
		}
		if opts.Pattern != nil && !opts.Pattern.MatchString(n) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
