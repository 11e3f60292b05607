// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// keyPrefix namespaces context entries inside the database.
const keyPrefix = "ctx/"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory runs BadgerDB without touching disk. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Lifetime is the per-entry TTL. Zero selects DefaultLifetime.
	Lifetime time.Duration

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults without a path.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites: true,
		Lifetime:   DefaultLifetime,
		GCInterval: 10 * time.Minute,
	}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists contexts in BadgerDB with a TTL per entry, so
// abandoned conversations disappear without a sweep of their own.
type BadgerStore struct {
	db       *badger.DB
	lifetime time.Duration
	stopGC   chan struct{}
	gcDone   chan struct{}
}

// OpenBadgerStore opens (or creates) the database described by cfg.
//
// # Description
//
// Creates the directory if needed. When GCInterval is positive and the
// store is on disk, a background goroutine runs value log GC until Close.
//
// # Outputs
//
//   - *BadgerStore: Ready store.
//   - error: Non-nil if the path is missing or the database cannot open.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent context store")
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create context store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open context store: %w", err)
	}

	s := &BadgerStore{db: db, lifetime: cfg.Lifetime}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.Logger)
	}
	return s, nil
}

func (s *BadgerStore) Load(_ context.Context, conversationID string) (datatypes.AccumulatedContext, error) {
	var out datatypes.AccumulatedContext
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(conversationID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return datatypes.AccumulatedContext{}, ErrNotFound
	}
	if err != nil {
		return datatypes.AccumulatedContext{}, fmt.Errorf("load context %s: %w", conversationID, err)
	}
	return out, nil
}

func (s *BadgerStore) Save(_ context.Context, conversationID string, c datatypes.AccumulatedContext) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(storeKey(conversationID), data).WithTTL(s.lifetime))
	})
	if err != nil {
		return fmt.Errorf("save context %s: %w", conversationID, err)
	}
	return nil
}

func (s *BadgerStore) Reset(_ context.Context, conversationID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey(conversationID))
	})
	if err != nil {
		return fmt.Errorf("reset context %s: %w", conversationID, err)
	}
	return nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration, logger *slog.Logger) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("context store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func storeKey(conversationID string) []byte {
	return []byte(keyPrefix + conversationID)
}

var _ Store = (*BadgerStore)(nil)
