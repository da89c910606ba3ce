// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore wraps dgraph-io/badger/v4 behind a small lifecycle API
// used by the Insight routing caches.
//
// The wrapper exists so callers never touch badger.Options directly: they get
// a Config with working defaults, context-aware transaction helpers, and a
// background value-log GC loop that stops cleanly on Close.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Config
// =============================================================================

// Config controls how the underlying BadgerDB instance is opened.
//
// # Thread Safety
//
// Config is a value type; copy freely before OpenDB.
type Config struct {
	// Path is the on-disk directory for the database. Ignored when InMemory
	// is true. Created if it does not exist.
	Path string

	// InMemory opens a purely in-memory database. Used by tests and by
	// deployments that explicitly opt out of persistence.
	InMemory bool

	// SyncWrites forces an fsync on every commit. The routing caches are
	// rebuildable, so the default is false.
	SyncWrites bool

	// GCInterval is how often the value-log garbage collector runs.
	// Zero disables the GC loop (in-memory databases never run it).
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC. Badger recommends 0.5.
	GCDiscardRatio float64

	// Logger receives open/close/GC diagnostics. May be nil.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration: on-disk, async writes,
// hourly value-log GC.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     false,
		GCInterval:     time.Hour,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no GC loop.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// =============================================================================
// DB
// =============================================================================

// DB is an opened BadgerDB instance plus its GC loop.
//
// # Description
//
// The instance is intended to be a service-global singleton opened in main
// and shared by every store built on top of it (vector store, decision
// cache). Stores do not own the DB; main owns the lifecycle.
//
// # Thread Safety
//
// Safe for concurrent use. Badger transactions are per-goroutine.
type DB struct {
	inner  *dgbadger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens a BadgerDB instance per the given Config.
//
// # Inputs
//
//   - cfg: Open configuration. Path must be non-empty unless InMemory is set.
//
// # Outputs
//
//   - *DB: Opened database. Never nil on success.
//   - error: Non-nil if the directory cannot be opened or badger fails.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: Path required for on-disk database")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithLogger(nil). // suppress badger's internal logger; we log ourselves
		WithSyncWrites(cfg.SyncWrites).
		WithInMemory(cfg.InMemory)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", cfg.Path, err)
	}

	db := &DB{inner: inner, logger: logger}

	if !cfg.InMemory && cfg.GCInterval > 0 {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		db.gcStop = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.gcLoop(cfg.GCInterval, ratio)
	}

	logger.Debug("badgerstore: opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return db, nil
}

// WithTxn runs fn inside a read-write transaction.
//
// The context is checked before the transaction starts; badger itself does
// not accept a context, so cancellation mid-transaction is not observed.
func (db *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.inner.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (db *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.inner.View(fn)
}

// DropPrefix deletes every key beginning with prefix. Used by explicit cache
// invalidation; TTL expiry handles the normal path.
func (db *DB) DropPrefix(ctx context.Context, prefix []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.inner.DropPrefix(prefix)
}

// Close stops the GC loop and closes the database. Safe to call more than
// once; subsequent calls return the first result.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.gcStop != nil {
			close(db.gcStop)
			<-db.gcDone
		}
		db.closeErr = db.inner.Close()
	})
	return db.closeErr
}

// gcLoop periodically reclaims value-log space. RunValueLogGC returns
// ErrNoRewrite when there is nothing to collect; that is the normal case and
// is not logged.
func (db *DB) gcLoop(interval time.Duration, ratio float64) {
	defer close(db.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.gcStop:
			return
		case <-ticker.C:
			for {
				err := db.inner.RunValueLogGC(ratio)
				if err == nil {
					continue // a file was rewritten; try for another
				}
				if !errors.Is(err, dgbadger.ErrNoRewrite) {
					db.logger.Warn("badgerstore: value-log GC failed",
						slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}
