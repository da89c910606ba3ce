// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"strings"
	"unicode"
)

// =============================================================================
// Query Normalization
// =============================================================================

// queryNoiseWords are dropped during term extraction. They carry no routing
// signal and would otherwise dominate term overlap on short questions.
var queryNoiseWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"be": true, "do": true, "does": true, "did": true, "how": true,
	"what": true, "which": true, "where": true, "when": true, "why": true,
	"who": true, "can": true, "could": true, "would": true, "should": true,
	"i": true, "we": true, "you": true, "me": true, "my": true, "our": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "and": true, "or": true, "not": true, "it": true,
	"this": true, "that": true, "these": true, "those": true,
	"about": true, "show": true, "tell": true, "give": true, "please": true,
}

// NormalizeQuery lowercases the query, strips punctuation, and collapses
// whitespace. The normalized form is the cache-key component and the input
// to both scorers, so it must be stable: identical questions that differ
// only in case or punctuation normalize identically.
func NormalizeQuery(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	lastSpace := true
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '\'':
			// Drop apostrophes entirely so "brand's" matches "brands".
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// ExtractQueryTerms tokenizes normalized text into a deduplicated term set
// with noise words removed. Used by the pattern matcher for keyword lookup
// and by the combination detector for independence checks.
func ExtractQueryTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.Fields(NormalizeQuery(text)) {
		if queryNoiseWords[word] {
			continue
		}
		if len(word) < 2 {
			continue
		}
		terms[word] = true
	}
	return terms
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments must already be normalized. Substring matching alone is
// wrong here: "age" must not fire inside "average".
func containsPhrase(text, phrase string) bool {
	padded := " " + text + " "
	return strings.Contains(padded, " "+phrase+" ")
}

// consumePhrase blanks out every occurrence of phrase in text, preserving
// word boundaries, so lower-priority endpoints cannot re-count the words of
// a phrase a higher-priority endpoint already claimed.
func consumePhrase(text, phrase string) string {
	padded := " " + text + " "
	needle := " " + phrase + " "
	for {
		idx := strings.Index(padded, needle)
		if idx < 0 {
			break
		}
		padded = padded[:idx+1] + strings.Repeat(" ", len(phrase)) + padded[idx+len(needle)-1:]
	}
	return strings.Join(strings.Fields(padded), " ")
}

// truncateForLog bounds a query string for log and span attributes.
func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
