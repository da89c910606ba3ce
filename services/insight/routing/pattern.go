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
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
)

// =============================================================================
// Pattern Matcher
// =============================================================================

// PatternMatch is the lexical evidence for one endpoint.
type PatternMatch struct {
	// Score is the weighted sum: +PhraseWeight per matched multi-word
	// phrase, +KeywordWeight per matched single keyword, −AvoidPenalty per
	// matched avoid term.
	Score float64

	// MatchedPhrases and MatchedKeywords are the vocabulary entries that
	// fired, in catalog order.
	MatchedPhrases  []string
	MatchedKeywords []string

	// AvoidedTerms are the avoid-term entries that fired.
	AvoidedTerms []string
}

// Terms returns the positive matched vocabulary (phrases then keywords).
func (m PatternMatch) Terms() []string {
	out := make([]string, 0, len(m.MatchedPhrases)+len(m.MatchedKeywords))
	out = append(out, m.MatchedPhrases...)
	out = append(out, m.MatchedKeywords...)
	return out
}

// patternEntry is one endpoint's pre-normalized vocabulary.
type patternEntry struct {
	id       string
	phrases  []string // multi-word keywords, normalized
	keywords []string // single-word keywords, normalized
	avoids   []string // avoid terms, normalized (may be multi-word)
	priority float64
	order    int // catalog declaration index
}

// PatternMatcher scores a normalized query against every endpoint's
// keyword, phrase, and avoid-term vocabulary.
//
// # Description
//
// Endpoints are evaluated in explicit priority order (priority weight
// descending, catalog order as tie-break), and a matched multi-word phrase
// is consumed: its words are blanked out of the working query before
// lower-priority endpoints score their single keywords. This is what lets a
// specific intent ("strategic expansion") claim a query before a generic
// brand-keyword endpoint counts the same words again. Raw max-score
// comparison alone is not enough when a brand name is a strong signal for
// two endpoints at once.
//
// # Thread Safety
//
// Immutable after construction; Score is a pure function of its input.
type PatternMatcher struct {
	entries []patternEntry // in priority order
	tuning  config.Tuning
}

// NewPatternMatcher pre-normalizes the catalog's vocabulary.
//
// # Inputs
//
//   - catalog: Validated catalog snapshot. Must not be nil.
//
// # Outputs
//
//   - *PatternMatcher: Matcher bound to this snapshot. Never nil.
func NewPatternMatcher(catalog *config.EndpointCatalog) *PatternMatcher {
	entries := make([]patternEntry, 0, len(catalog.Endpoints))
	for i, ep := range catalog.Endpoints {
		entry := patternEntry{
			id:       ep.ID,
			priority: ep.PriorityWeight,
			order:    i,
		}
		for _, kw := range ep.Keywords {
			norm := NormalizeQuery(kw)
			if norm == "" {
				continue
			}
			if strings.Contains(norm, " ") {
				entry.phrases = append(entry.phrases, norm)
			} else {
				entry.keywords = append(entry.keywords, norm)
			}
		}
		for _, av := range ep.AvoidTerms {
			if norm := NormalizeQuery(av); norm != "" {
				entry.avoids = append(entry.avoids, norm)
			}
		}
		entries = append(entries, entry)
	}

	// Priority order: weight descending, catalog order breaks ties.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].order < entries[j].order
	})

	return &PatternMatcher{entries: entries, tuning: catalog.Tuning}
}

// Score computes the pattern score for every endpoint.
//
// # Description
//
// Phrases are matched on word boundaries against the full normalized query;
// each match is consumed from a working copy so the same words cannot fire
// again as single keywords for a lower-priority endpoint. Avoid terms always
// match against the full query — a penalty must fire even when a
// higher-priority endpoint claimed the words, or it could not do its job of
// suppressing false positives.
//
// # Inputs
//
//   - query: Normalized query (NormalizeQuery output).
//
// # Outputs
//
//   - map[string]PatternMatch: Endpoint id → lexical evidence. Endpoints
//     with no matches at all are omitted.
func (pm *PatternMatcher) Score(query string) map[string]PatternMatch {
	start := time.Now()
	defer func() {
		routingPatternLatency.Observe(time.Since(start).Seconds())
	}()

	results := make(map[string]PatternMatch, len(pm.entries))
	if query == "" {
		return results
	}

	working := query
	terms := ExtractQueryTerms(query)

	for _, entry := range pm.entries {
		var m PatternMatch

		for _, phrase := range entry.phrases {
			if containsPhrase(working, phrase) {
				m.Score += pm.tuning.PhraseWeight
				m.MatchedPhrases = append(m.MatchedPhrases, phrase)
				working = consumePhrase(working, phrase)
			}
		}

		workingTerms := terms
		if len(m.MatchedPhrases) > 0 || working != query {
			workingTerms = ExtractQueryTerms(working)
		}
		for _, kw := range entry.keywords {
			if workingTerms[kw] {
				m.Score += pm.tuning.KeywordWeight
				m.MatchedKeywords = append(m.MatchedKeywords, kw)
			}
		}

		for _, avoid := range entry.avoids {
			if containsPhrase(query, avoid) {
				m.Score -= pm.tuning.AvoidPenalty
				m.AvoidedTerms = append(m.AvoidedTerms, avoid)
			}
		}

		if m.Score != 0 || len(m.AvoidedTerms) > 0 {
			results[entry.id] = m
		}
	}

	return results
}
