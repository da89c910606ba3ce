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
	"testing"
)

// =============================================================================
// NormalizeQuery Tests
// =============================================================================

func TestNormalizeQuery_Basic(t *testing.T) {
	got := NormalizeQuery("  Where SHOULD we   Expand? ")
	want := "where should we expand"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNormalizeQuery_Apostrophes(t *testing.T) {
	// Apostrophes drop without splitting the word.
	got := NormalizeQuery("What's BrandX's performance?")
	want := "whats brandxs performance"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNormalizeQuery_PunctuationBecomesSpace(t *testing.T) {
	got := NormalizeQuery("foot-traffic/visits, by zip!")
	want := "foot traffic visits by zip"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNormalizeQuery_OnlyPunctuation(t *testing.T) {
	if got := NormalizeQuery("?!...---"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

// =============================================================================
// ExtractQueryTerms Tests
// =============================================================================

func TestExtractQueryTerms_DropsNoiseWords(t *testing.T) {
	terms := ExtractQueryTerms("show me the demographics for the area")
	if terms["the"] || terms["for"] || terms["me"] {
		t.Error("expected noise words removed")
	}
	if !terms["demographics"] || !terms["area"] {
		t.Errorf("expected content terms retained, got %v", terms)
	}
}

func TestExtractQueryTerms_Deduplicates(t *testing.T) {
	terms := ExtractQueryTerms("traffic traffic traffic")
	if len(terms) != 1 {
		t.Errorf("expected 1 unique term, got %d", len(terms))
	}
}

func TestExtractQueryTerms_DropsSingleCharTokens(t *testing.T) {
	terms := ExtractQueryTerms("x population y")
	if terms["x"] || terms["y"] {
		t.Error("expected single-character tokens dropped")
	}
	if !terms["population"] {
		t.Error("expected population retained")
	}
}

// =============================================================================
// Phrase Matching Tests
// =============================================================================

func TestContainsPhrase_WordBoundaries(t *testing.T) {
	if !containsPhrase("compare foot traffic downtown", "foot traffic") {
		t.Error("expected phrase match")
	}
	// Substring inside a longer word must not match.
	if containsPhrase("bigfoot trafficking ring", "foot traffic") {
		t.Error("expected no match across word boundaries")
	}
}

func TestContainsPhrase_AtEdges(t *testing.T) {
	if !containsPhrase("foot traffic downtown", "foot traffic") {
		t.Error("expected match at start")
	}
	if !containsPhrase("downtown foot traffic", "foot traffic") {
		t.Error("expected match at end")
	}
	if !containsPhrase("foot traffic", "foot traffic") {
		t.Error("expected match of whole query")
	}
}

func TestConsumePhrase_RemovesMatchedWords(t *testing.T) {
	got := consumePhrase("strategic expansion opportunities downtown", "strategic expansion")
	if containsPhrase(got, "strategic expansion") {
		t.Errorf("expected phrase consumed, got %q", got)
	}
	if !containsPhrase(got, "opportunities") || !containsPhrase(got, "downtown") {
		t.Errorf("expected remaining words preserved, got %q", got)
	}
}

func TestConsumePhrase_AllOccurrences(t *testing.T) {
	got := consumePhrase("market share versus market share", "market share")
	if containsPhrase(got, "market share") {
		t.Errorf("expected all occurrences consumed, got %q", got)
	}
}
