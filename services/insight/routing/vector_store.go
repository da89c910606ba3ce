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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInsight/services/insight/config"
	badgerstore "github.com/AleutianAI/AleutianInsight/services/insight/storage/badger"
)

// =============================================================================
// Endpoint Vector Store
// =============================================================================

// VectorStore persists warmed endpoint embeddings across restarts, keyed by a
// corpus hash so any change to the catalog text or embedding model forces a
// fresh warm-up.
type VectorStore interface {
	// LoadVectors returns the persisted vectors for the corpus hash, or
	// ErrCacheMiss if absent or expired.
	LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error)

	// SaveVectors persists the vectors under the corpus hash.
	SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

const (
	// vectorKeyPrefix namespaces endpoint vectors within the shared
	// Badger instance. The version segment allows a format change
	// without touching old entries.
	vectorKeyPrefix = "insight/vec/v1/"

	// vectorTTL bounds how long a persisted corpus survives without a
	// re-warm. Stale entries are reclaimed by Badger's value log GC.
	vectorTTL = 7 * 24 * time.Hour
)

// ComputeCorpusHash produces a deterministic hash over every endpoint's
// embeddable text plus the model name. Endpoints are sorted by ID so catalog
// ordering changes do not invalidate the corpus.
func ComputeCorpusHash(catalog *config.EndpointCatalog, model string) string {
	docs := make([]string, 0, len(catalog.Endpoints))
	for i := range catalog.Endpoints {
		docs = append(docs, catalog.Endpoints[i].ID+"\x00"+buildEndpointDoc(&catalog.Endpoints[i]))
	}
	sort.Strings(docs)

	h := sha256.New()
	for _, doc := range docs {
		h.Write([]byte(doc))
		h.Write([]byte{0})
	}
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// vectorStoreKey builds the Badger key for a corpus hash.
func vectorStoreKey(corpusHash string) []byte {
	return []byte(vectorKeyPrefix + corpusHash)
}

// shortHash abbreviates a corpus hash for log lines.
func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// gobEncode serializes a vector map for storage.
func gobEncode(vectors map[string][]float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return nil, fmt.Errorf("gob encode vectors: %w", err)
	}
	return buf.Bytes(), nil
}

// gobDecode deserializes a stored vector map.
func gobDecode(data []byte) (map[string][]float32, error) {
	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("gob decode vectors: %w", err)
	}
	return vectors, nil
}

// =============================================================================
// Badger Implementation
// =============================================================================

// BadgerVectorStore stores warmed vectors in the service's shared Badger
// instance.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions provide isolation.
type BadgerVectorStore struct {
	db *badgerstore.DB
}

// NewBadgerVectorStore wraps the shared store handle. The handle's lifecycle
// belongs to main, not to this store.
func NewBadgerVectorStore(db *badgerstore.DB) *BadgerVectorStore {
	return &BadgerVectorStore{db: db}
}

// LoadVectors implements VectorStore.
func (s *BadgerVectorStore) LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	var vectors map[string][]float32
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(vectorStoreKey(corpusHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := gobDecode(val)
			if err != nil {
				return err
			}
			vectors = decoded
			return nil
		})
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("load vectors %s: %w", shortHash(corpusHash), err)
	}
	return vectors, nil
}

// SaveVectors implements VectorStore.
func (s *BadgerVectorStore) SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	data, err := gobEncode(vectors)
	if err != nil {
		return err
	}
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(vectorStoreKey(corpusHash), data).WithTTL(vectorTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("save vectors %s: %w", shortHash(corpusHash), err)
	}
	return nil
}
