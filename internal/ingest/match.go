package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MatchType classifies how a recipient identity matched a record.
type MatchType string

const (
	MatchNone         MatchType = "none"
	MatchName         MatchType = "name"
	MatchRegistration MatchType = "registration-number"
	MatchBoth         MatchType = "both"
)

// ClassifyMatch compares the normalized record against the identity used in
// the query. A match requires a delimiter-bounded occurrence: the identifying
// text embedded inside a larger alphanumeric token (an email local part, a
// case number) never counts.
func ClassifyMatch(rec NormalizedRecord, id Identity) MatchType {
	name := NormalizeText(id.Name)
	reg := NormalizeRegistration(id.Registration)

	nameHit := name != "" &&
		(containsToken(rec.RecipientName, name) || containsToken(rec.Content, name))
	regHit := reg != "" &&
		(rec.RecipientRegistration == reg || containsToken(rec.Content, reg))

	switch {
	case nameHit && regHit:
		return MatchBoth
	case nameHit:
		return MatchName
	case regHit:
		return MatchRegistration
	default:
		return MatchNone
	}
}

// containsToken reports whether needle occurs in haystack bounded by
// non-alphanumeric runes (or the string edges) on both sides.
func containsToken(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; from < len(haystack); {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[idx:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
