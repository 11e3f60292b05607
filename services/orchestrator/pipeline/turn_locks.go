// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"sync"
)

// turnLocks serializes turns that share a conversation id, so each turn
// loads the context the previous one saved. Entries are dropped once no
// turn holds or waits for them.
type turnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	sem  chan struct{}
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[string]*turnLock)}
}

// acquire blocks until the conversation is free or ctx is done. The
// returned release must be called exactly once.
func (l *turnLocks) acquire(ctx context.Context, convID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[convID]
	if !ok {
		lk = &turnLock{sem: make(chan struct{}, 1)}
		l.locks[convID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			l.put(convID, lk)
		}, nil
	case <-ctx.Done():
		l.put(convID, lk)
		return nil, ctx.Err()
	}
}

func (l *turnLocks) put(convID string, lk *turnLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, convID)
	}
}

// size reports the number of conversations with a held or awaited lock.
func (l *turnLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
