// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Field Dictionary
// =============================================================================

//go:embed field_dictionary.yaml
var defaultFieldDictionaryYAML []byte

// =============================================================================
// Field Dictionary Types and Loading
// =============================================================================

// FieldDictionary maps domain vocabulary and synonyms to canonical dataset
// field names. It bridges the gap between how analysts phrase a question
// ("under 35 population", "purchasing power") and how the dataset names its
// columns ("pct_age_under_35", "disposable_income_avg").
//
// Resolution is case-insensitive and longest-match-first for multi-word
// synonyms. A canonical field name always resolves to itself, so catalog
// authors may use either vocabulary terms or canonical names in
// required_fields.
//
// # Thread Safety
//
// Immutable after load; safe for concurrent use.
type FieldDictionary struct {
	synonyms  map[string]string
	canonical map[string]struct{}

	// multiWord holds the multi-word synonyms sorted longest-first so that
	// text scans consume "median household income" before "income".
	multiWord []string
}

// fieldDictionaryYAML is the on-disk shape of the dictionary.
type fieldDictionaryYAML struct {
	Fields []struct {
		Canonical string   `yaml:"canonical"`
		Synonyms  []string `yaml:"synonyms"`
	} `yaml:"fields"`
}

var (
	fieldDictMu      sync.RWMutex
	fieldDictOnce    sync.Once
	cachedFieldDict  *FieldDictionary
	fieldDictLoadErr error
)

// GetFieldDictionary returns the process-wide dictionary, loading the
// embedded YAML on first call.
//
// # Thread Safety
//
// Safe for concurrent use via sync.Once.
func GetFieldDictionary() (*FieldDictionary, error) {
	fieldDictMu.RLock()
	if cachedFieldDict != nil || fieldDictLoadErr != nil {
		d, err := cachedFieldDict, fieldDictLoadErr
		fieldDictMu.RUnlock()
		return d, err
	}
	fieldDictMu.RUnlock()

	fieldDictMu.Lock()
	defer fieldDictMu.Unlock()

	if cachedFieldDict != nil || fieldDictLoadErr != nil {
		return cachedFieldDict, fieldDictLoadErr
	}

	fieldDictOnce.Do(func() {
		cachedFieldDict, fieldDictLoadErr = LoadFieldDictionary(defaultFieldDictionaryYAML)
	})

	return cachedFieldDict, fieldDictLoadErr
}

// ResetFieldDictionary clears the cached dictionary for tests.
//
// # Thread Safety
//
// Safe for concurrent use.
func ResetFieldDictionary() {
	fieldDictMu.Lock()
	defer fieldDictMu.Unlock()
	cachedFieldDict = nil
	fieldDictLoadErr = nil
	fieldDictOnce = sync.Once{}
}

// LoadFieldDictionary parses and indexes a dictionary from YAML bytes.
//
// # Description
//
//	Each entry declares one canonical field plus its synonyms. Synonyms are
//	normalized to lowercase; duplicates pointing at different canonical
//	fields are a configuration error.
//
// # Outputs
//
//   - *FieldDictionary: The indexed dictionary. Never nil on success.
//   - error: Non-nil if parsing or validation fails.
func LoadFieldDictionary(data []byte) (*FieldDictionary, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadFieldDictionary: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadFieldDictionary: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var raw fieldDictionaryYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("LoadFieldDictionary: parsing YAML: %w", err)
	}

	dict := &FieldDictionary{
		synonyms:  make(map[string]string),
		canonical: make(map[string]struct{}, len(raw.Fields)),
	}

	for i, entry := range raw.Fields {
		if entry.Canonical == "" {
			return nil, fmt.Errorf("LoadFieldDictionary: field[%d]: canonical must not be empty", i)
		}
		canon := strings.ToLower(strings.TrimSpace(entry.Canonical))
		dict.canonical[canon] = struct{}{}

		for _, syn := range entry.Synonyms {
			norm := strings.ToLower(strings.TrimSpace(syn))
			if norm == "" {
				continue
			}
			if existing, dup := dict.synonyms[norm]; dup && existing != canon {
				return nil, fmt.Errorf("LoadFieldDictionary: synonym %q maps to both %q and %q", norm, existing, canon)
			}
			dict.synonyms[norm] = canon
			if strings.Contains(norm, " ") {
				dict.multiWord = append(dict.multiWord, norm)
			}
		}
	}

	// Longest-first so a scan consumes the most specific synonym available.
	sort.Slice(dict.multiWord, func(i, j int) bool {
		if len(dict.multiWord[i]) != len(dict.multiWord[j]) {
			return len(dict.multiWord[i]) > len(dict.multiWord[j])
		}
		return dict.multiWord[i] < dict.multiWord[j]
	})

	slog.Info("field dictionary loaded",
		slog.Int("canonical_fields", len(dict.canonical)),
		slog.Int("synonyms", len(dict.synonyms)),
	)

	return dict, nil
}

// Resolve maps a vocabulary term or canonical name to its canonical dataset
// field. Returns false when the term is unknown to the dictionary.
func (d *FieldDictionary) Resolve(term string) (string, bool) {
	norm := strings.ToLower(strings.TrimSpace(term))
	if norm == "" {
		return "", false
	}
	if canon, ok := d.synonyms[norm]; ok {
		return canon, true
	}
	if _, ok := d.canonical[norm]; ok {
		return norm, true
	}
	return "", false
}

// ResolveText scans normalized free text for known vocabulary and returns
// the canonical fields it references, in first-appearance order. Multi-word
// synonyms are matched longest-first and consumed so "median household
// income" does not additionally fire "income".
func (d *FieldDictionary) ResolveText(text string) []string {
	remaining := " " + strings.ToLower(text) + " "
	seen := make(map[string]struct{})
	type hit struct {
		pos   int
		canon string
	}
	var hits []hit

	for _, syn := range d.multiWord {
		needle := " " + syn + " "
		for {
			idx := strings.Index(remaining, needle)
			if idx < 0 {
				break
			}
			canon := d.synonyms[syn]
			if _, dup := seen[canon]; !dup {
				seen[canon] = struct{}{}
				hits = append(hits, hit{pos: idx, canon: canon})
			}
			// Blank out the match so shorter synonyms cannot re-fire on it.
			remaining = remaining[:idx] + strings.Repeat(" ", len(needle)) + remaining[idx+len(needle):]
		}
	}

	for _, word := range strings.Fields(remaining) {
		canon, ok := d.synonyms[word]
		if !ok {
			if _, isCanon := d.canonical[word]; !isCanon {
				continue
			}
			canon = word
		}
		if _, dup := seen[canon]; dup {
			continue
		}
		seen[canon] = struct{}{}
		hits = append(hits, hit{pos: strings.Index(remaining, word), canon: canon})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.canon
	}
	return out
}

// Size returns the number of known synonyms (canonical names excluded).
func (d *FieldDictionary) Size() int {
	return len(d.synonyms)
}
