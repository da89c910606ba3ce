// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// decision_cache_dump inspects the Insight server's BadgerDB store.
//
// The store holds two kinds of entries: cached routing decisions keyed by
// schema version + query hash, and endpoint embedding vectors keyed by
// corpus hash. This tool opens the database read-only and prints a
// human-readable summary of both: keys, TTL remaining, decision outcomes,
// and per-endpoint vector dimensions.
//
// Usage:
//
//	decision_cache_dump [--path /path/to/insight/data] [--vectors] [--decisions]
//
// With neither --vectors nor --decisions, both sections print. If --path is
// not given, reads INSIGHT_DATA_DIR from the environment, falling back to
// ~/.aleutian/insight/.
//
// Exit codes:
//
//	0 — success (including "empty store" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInsight/services/insight/routing"
)

// Key prefixes must match decision_cache.go and vector_store.go exactly.
const (
	decisionKeyPrefix = "insight/dec/v1/"
	vectorKeyPrefix   = "insight/vec/v1/"
)

func main() {
	pathFlag := flag.String("path", "", "Path to Insight BadgerDB directory (overrides INSIGHT_DATA_DIR env var)")
	vectorsOnly := flag.Bool("vectors", false, "Print only endpoint embedding vectors")
	decisionsOnly := flag.Bool("decisions", false, "Print only cached routing decisions")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("INSIGHT_DATA_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".aleutian", "insight")
	}

	fmt.Printf("Insight data path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Data directory does not exist. The server has not yet written anything.")
		fmt.Println("Start the Insight server and route a few queries to populate the store.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	printBoth := !*vectorsOnly && !*decisionsOnly
	total := 0

	if printBoth || *decisionsOnly {
		n, err := dumpDecisions(db)
		if err != nil {
			fatalf("read decisions: %v", err)
		}
		total += n
	}
	if printBoth || *vectorsOnly {
		n, err := dumpVectors(db)
		if err != nil {
			fatalf("read vectors: %v", err)
		}
		total += n
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s, data path: %s\n", total, plural(total, "y", "ies"), dbPath)
}

// dumpDecisions prints every cached routing decision under the decision
// prefix, returning the entry count.
func dumpDecisions(db *dgbadger.DB) (int, error) {
	type entry struct {
		key       string
		expiresAt time.Time
		hasExpiry bool
		rawSize   int
		decision  *routing.RoutingDecision
		decodeErr error
	}

	var entries []entry
	err := db.View(func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(decisionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			e := entry{key: string(item.Key())}

			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			var d routing.RoutingDecision
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&d); err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.decision = &d
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	fmt.Printf("\nCached decisions: %d\n", len(entries))
	fmt.Println(strings.Repeat("─", 80))
	if len(entries) == 0 {
		fmt.Println("(none — cacheable decisions need confidence above the cache floor)")
		return 0, nil
	}

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:       %s\n", i+1, e.key)
		printTTL(e.hasExpiry, e.expiresAt)
		fmt.Printf("    Raw size:  %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		d := e.decision
		fmt.Printf("    Endpoint:  %s\n", d.SelectedEndpointID)
		fmt.Printf("    Confidence: %.4f\n", d.Confidence)
		fmt.Printf("    Query:     %q\n", d.NormalizedQuery)
		fmt.Printf("    Versions:  catalog %s / schema %s\n", d.CatalogVersion, d.SchemaVersion)
		if len(d.CombinedWith) > 0 {
			fmt.Printf("    Combined:  %s (%s)\n", strings.Join(d.CombinedWith, ", "), d.CombinationStrategy)
		}
		fmt.Printf("    Semantic:  %t, candidates: %d, cached at %s\n",
			d.SemanticUsed, len(d.ScoreBreakdown), d.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return len(entries), nil
}

// dumpVectors prints every endpoint embedding entry under the vector
// prefix, returning the entry count.
func dumpVectors(db *dgbadger.DB) (int, error) {
	type entry struct {
		key        string
		corpusHash string
		expiresAt  time.Time
		hasExpiry  bool
		rawSize    int
		vectors    map[string][]float32
		decodeErr  error
	}

	var entries []entry
	err := db.View(func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(vectorKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			e := entry{
				key:        key,
				corpusHash: strings.TrimPrefix(key, vectorKeyPrefix),
			}

			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			var vectors map[string][]float32
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vectors); err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.vectors = vectors
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	fmt.Printf("\nEndpoint vector entries: %d\n", len(entries))
	fmt.Println(strings.Repeat("─", 80))
	if len(entries) == 0 {
		fmt.Println("(none — embedding warm-up has not completed, or no provider is configured)")
		return 0, nil
	}

	for i, e := range entries {
		fmt.Printf("\n[%d] Key:         %s\n", i+1, e.key)
		fmt.Printf("    Corpus hash: %s\n", e.corpusHash)
		printTTL(e.hasExpiry, e.expiresAt)
		fmt.Printf("    Raw size:    %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		fmt.Printf("    Endpoints:   %d vectors\n", len(e.vectors))

		names := make([]string, 0, len(e.vectors))
		for name := range e.vectors {
			names = append(names, name)
		}
		sort.Strings(names)

		maxNameLen := 0
		for _, n := range names {
			if len(n) > maxNameLen {
				maxNameLen = len(n)
			}
		}
		colWidth := maxNameLen + 2

		fmt.Printf("\n    %-*s  %5s  %7s  %s\n", colWidth, "Endpoint", "Dims", "L2Norm", "Sample (first 4 values)")
		fmt.Printf("    %s  %s  %s  %s\n",
			strings.Repeat("─", colWidth),
			strings.Repeat("─", 5),
			strings.Repeat("─", 7),
			strings.Repeat("─", 40),
		)

		for _, name := range names {
			vec := e.vectors[name]
			fmt.Printf("    %-*s  %5d  %7.4f  %s\n",
				colWidth, name, len(vec), l2Norm(vec), formatSample(vec, 4))
		}
	}
	return len(entries), nil
}

func printTTL(hasExpiry bool, expiresAt time.Time) {
	if !hasExpiry {
		fmt.Printf("    TTL:       no expiry set\n")
		return
	}
	remaining := time.Until(expiresAt)
	if remaining < 0 {
		fmt.Printf("    TTL:       EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
		return
	}
	fmt.Printf("    TTL:       %s remaining (expires %s)\n",
		remaining.Round(time.Second),
		expiresAt.Format("2006-01-02 15:04:05 MST"),
	)
}

// l2Norm computes the L2 norm of a float32 vector.
// Unit-normalized vectors will show ≈1.0000.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// formatSample returns the first n values of a vector as a bracketed string.
func formatSample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	if n > len(v) {
		n = len(v)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%+.4f", v[i])
	}
	suffix := ""
	if len(v) > n {
		suffix = " ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "decision_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
