// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(id string, decision Decision) Entry {
	return Entry{
		ConfirmationID: id,
		Decision:       decision,
		Reason:         ReasonConfirmed,
		Tool:           "delete_client",
		EntityType:     "client",
		EntityID:       "c-1",
		EntityName:     "Acme",
		Timestamp:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// File permissions
// =============================================================================

// TestOpenFileSink_CreatesFileWithRestrictedPermissions verifies new logs are
// created owner read/write only.
func TestOpenFileSink_CreatesFileWithRestrictedPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "confirmations.jsonl")

	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// =============================================================================
// Chain
// =============================================================================

// TestFileSink_AppendLinksRecords verifies sequence numbers and hash links.
func TestFileSink_AppendLinksRecords(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	defer sink.Close()
	ctx := context.Background()

	first, err := sink.Append(ctx, sampleEntry("pending-1", DecisionApproved))
	require.NoError(t, err)
	second, err := sink.Append(ctx, sampleEntry("pending-2", DecisionRejected))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, GenesisHash, first.PrevHash)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, first.EntryHash, second.PrevHash)
	assert.Len(t, first.EntryHash, 64)

	valid, idx, err := sink.VerifyChain()
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, int64(-1), idx)
}

// TestFileSink_ResumesChainAfterReopen verifies a restarted sink continues
// the existing chain.
func TestFileSink_ResumesChainAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	ctx := context.Background()

	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	first, err := sink.Append(ctx, sampleEntry("pending-1", DecisionApproved))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	reopened, err := OpenFileSink(path)
	require.NoError(t, err)
	defer reopened.Close()

	second, err := reopened.Append(ctx, sampleEntry("pending-2", DecisionApproved))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, first.EntryHash, second.PrevHash)

	valid, _, err := reopened.VerifyChain()
	require.NoError(t, err)
	assert.True(t, valid)
}

// TestFileSink_VerifyChainDetectsTampering verifies an edited record breaks
// the chain at its index.
func TestFileSink_VerifyChainDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jsonl")
	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	defer sink.Close()
	ctx := context.Background()

	for _, id := range []string{"pending-1", "pending-2", "pending-3"} {
		_, err := sink.Append(ctx, sampleEntry(id, DecisionApproved))
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"confirmation_id":"pending-2","decision":"approved"`, `"confirmation_id":"pending-2","decision":"rejected"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	valid, idx, err := sink.VerifyChain()
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, int64(1), idx)
}

func TestFileSink_AppendAfterCloseFails(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	_, err = sink.Append(context.Background(), sampleEntry("pending-1", DecisionApproved))
	assert.Error(t, err)
	assert.NoError(t, sink.Close())
}

// TestMemorySink_ConcurrentAppendsKeepChain verifies the chain stays valid
// under concurrent writers.
func TestMemorySink_ConcurrentAppendsKeepChain(t *testing.T) {
	sink := NewMemorySink()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sink.Append(context.Background(), sampleEntry("pending", DecisionApproved))
		}()
	}
	wg.Wait()

	assert.Len(t, sink.Records(), 50)
	valid, idx := sink.VerifyChain()
	assert.True(t, valid)
	assert.Equal(t, int64(-1), idx)
}
