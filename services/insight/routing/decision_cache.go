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
	"sync"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	badgerstore "github.com/AleutianAI/AleutianInsight/services/insight/storage/badger"
)

// =============================================================================
// Decision Cache
// =============================================================================

// ErrCacheMiss is returned by cache and store lookups when the key is
// absent or expired.
var ErrCacheMiss = errors.New("cache miss")

const (
	// decisionKeyPrefix namespaces cached decisions. The dataset and
	// schema version segments appended per key mean a schema bump
	// orphans old entries without an explicit flush.
	decisionKeyPrefix = "insight/dec/v1/"

	// decisionTTL bounds staleness of a cached decision against catalog
	// drift the version fields cannot see.
	decisionTTL = 24 * time.Hour
)

// DecisionCacheKey builds the cache key for a normalized query under a
// dataset's schema version. The dataset id is part of the key because
// version strings are only unique within a dataset; two datasets on the
// same version must never share entries. The query itself is hashed so
// keys stay bounded and never leak query text into key listings.
func DecisionCacheKey(normalizedQuery, datasetID, schemaVersion string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return decisionKeyPrefix + datasetID + "/" + schemaVersion + "/" + hex.EncodeToString(sum[:])
}

// CacheStats is a point-in-time counter snapshot.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Writes  uint64 `json:"writes"`
	Entries int    `json:"entries"` // -1 when the backend cannot count cheaply
}

// DecisionCache memoizes routing decisions keyed by normalized query and
// schema version.
type DecisionCache interface {
	// Get returns the cached decision or ErrCacheMiss.
	Get(ctx context.Context, key string) (*RoutingDecision, error)

	// Set stores the decision under the key with the backend's TTL.
	Set(ctx context.Context, key string, decision *RoutingDecision) error

	// Invalidate removes every entry under the decision prefix. Used on
	// catalog reload, where version fields in the key cannot help.
	Invalidate(ctx context.Context) error

	// Stats reports counters since process start.
	Stats() CacheStats

	// Close releases backend resources not owned elsewhere.
	Close() error
}

// cacheCounters is embedded by every backend.
type cacheCounters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
}

func (c *cacheCounters) snapshot(entries int) CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Writes:  c.writes.Load(),
		Entries: entries,
	}
}

// encodeDecision serializes a decision for storage.
func encodeDecision(d *RoutingDecision) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, fmt.Errorf("gob encode decision: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeDecision deserializes a stored decision.
func decodeDecision(data []byte) (*RoutingDecision, error) {
	var d RoutingDecision
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return nil, fmt.Errorf("gob decode decision: %w", err)
	}
	return &d, nil
}

// =============================================================================
// Badger Backend
// =============================================================================

// BadgerDecisionCache stores decisions in the service's shared Badger
// instance with native TTL.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerDecisionCache struct {
	cacheCounters
	db *badgerstore.DB
}

// NewBadgerDecisionCache wraps the shared store handle. The handle is owned
// and closed by main; Close here is a no-op.
func NewBadgerDecisionCache(db *badgerstore.DB) *BadgerDecisionCache {
	return &BadgerDecisionCache{db: db}
}

// Get implements DecisionCache.
func (c *BadgerDecisionCache) Get(ctx context.Context, key string) (*RoutingDecision, error) {
	var decision *RoutingDecision
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeDecision(val)
			if err != nil {
				return err
			}
			decision = decoded
			return nil
		})
	})
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("decision cache get: %w", err)
	}
	c.hits.Add(1)
	return decision, nil
}

// Set implements DecisionCache.
func (c *BadgerDecisionCache) Set(ctx context.Context, key string, decision *RoutingDecision) error {
	data, err := encodeDecision(decision)
	if err != nil {
		return err
	}
	err = c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry([]byte(key), data).WithTTL(decisionTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("decision cache set: %w", err)
	}
	c.writes.Add(1)
	return nil
}

// Invalidate implements DecisionCache via Badger's prefix drop.
func (c *BadgerDecisionCache) Invalidate(ctx context.Context) error {
	if err := c.db.DropPrefix(ctx, []byte(decisionKeyPrefix)); err != nil {
		return fmt.Errorf("decision cache invalidate: %w", err)
	}
	return nil
}

// Stats implements DecisionCache. Counting Badger entries requires a full
// prefix scan, so Entries is reported as unknown.
func (c *BadgerDecisionCache) Stats() CacheStats {
	return c.snapshot(-1)
}

// Close implements DecisionCache. The Badger handle is shared with the
// vector store and closed by the service.
func (c *BadgerDecisionCache) Close() error {
	return nil
}

// =============================================================================
// Redis Backend
// =============================================================================

// RedisDecisionCache stores decisions in Redis so replicas share one
// decision cache.
//
// # Thread Safety
//
// Safe for concurrent use.
type RedisDecisionCache struct {
	cacheCounters
	client *redis.Client
}

// NewRedisDecisionCache connects and pings the server before returning, so
// a misconfigured address fails at startup rather than on first request.
func NewRedisDecisionCache(ctx context.Context, addr, password string, db int) (*RedisDecisionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisDecisionCache{client: client}, nil
}

// Get implements DecisionCache.
func (c *RedisDecisionCache) Get(ctx context.Context, key string) (*RoutingDecision, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("decision cache get: %w", err)
	}
	decision, err := decodeDecision(data)
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}
	c.hits.Add(1)
	return decision, nil
}

// Set implements DecisionCache.
func (c *RedisDecisionCache) Set(ctx context.Context, key string, decision *RoutingDecision) error {
	data, err := encodeDecision(decision)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, decisionTTL).Err(); err != nil {
		return fmt.Errorf("decision cache set: %w", err)
	}
	c.writes.Add(1)
	return nil
}

// Invalidate implements DecisionCache. SCAN with batched deletes rather
// than KEYS, which blocks the server on large keyspaces.
func (c *RedisDecisionCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, decisionKeyPrefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("decision cache invalidate: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("decision cache scan: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("decision cache invalidate: %w", err)
		}
	}
	return nil
}

// Stats implements DecisionCache.
func (c *RedisDecisionCache) Stats() CacheStats {
	return c.snapshot(-1)
}

// Close implements DecisionCache.
func (c *RedisDecisionCache) Close() error {
	return c.client.Close()
}

// =============================================================================
// Memory Backend
// =============================================================================

// memoryEntry pairs a decision with its expiry.
type memoryEntry struct {
	decision *RoutingDecision
	expires  time.Time
}

// MemoryDecisionCache is an in-process map cache for tests and
// single-replica deployments without a Badger directory.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryDecisionCache struct {
	cacheCounters
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryDecisionCache builds an empty in-memory cache.
func NewMemoryDecisionCache() *MemoryDecisionCache {
	return &MemoryDecisionCache{entries: make(map[string]memoryEntry)}
}

// Get implements DecisionCache.
func (c *MemoryDecisionCache) Get(_ context.Context, key string) (*RoutingDecision, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expires) {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	c.hits.Add(1)
	return entry.decision, nil
}

// Set implements DecisionCache.
func (c *MemoryDecisionCache) Set(_ context.Context, key string, decision *RoutingDecision) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{decision: decision, expires: time.Now().Add(decisionTTL)}
	c.mu.Unlock()
	c.writes.Add(1)
	return nil
}

// Invalidate implements DecisionCache.
func (c *MemoryDecisionCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// Stats implements DecisionCache.
func (c *MemoryDecisionCache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return c.snapshot(n)
}

// Close implements DecisionCache.
func (c *MemoryDecisionCache) Close() error {
	return nil
}
