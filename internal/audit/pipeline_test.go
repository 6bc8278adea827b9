// Copyright 2026 The AuthGrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memWriter stores batches in memory and can be told to fail.
type memWriter struct {
	mu      sync.Mutex
	entries []*Entry
	failing bool
	writes  int
}

func (w *memWriter) WriteBatch(_ context.Context, batch []*Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.failing {
		return errors.New("store unavailable")
	}
	for _, e := range batch {
		cp := *e
		cp.ID = int64(len(w.entries) + 1)
		w.entries = append(w.entries, &cp)
	}
	return nil
}

func (w *memWriter) LastHash(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return "", nil
	}
	return w.entries[len(w.entries)-1].Hash, nil
}

func (w *memWriter) all() []*Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func (w *memWriter) setFailing(f bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failing = f
}

var discard = slog.New(slog.DiscardHandler)

func testEntry(user string, authorized bool) *Entry {
	return &Entry{
		UserID:         user,
		OrganizationID: "org-1",
		Permission:     "document:read",
		ResourceType:   "document",
		Action:         "read",
		Authorized:     authorized,
		Reason:         "permission granted via group",
		CacheSource:    SourceCacheMiss,
		RequestID:      "req-1",
	}
}

// TestPurpose: Validates the enqueue -> batch -> persist path and the hash chain.
// Scope: Unit Test
// Expected: Every entry is persisted, chained to its predecessor, and verifiable.
func TestPipeline_FlushAndChain(t *testing.T) {
	w := &memWriter{}
	p := NewPipeline(w, Config{BatchSize: 5, FlushInterval: 10 * time.Millisecond}, discard)

	for i := 0; i < 12; i++ {
		p.Log(testEntry("user-1", i%2 == 0), DefaultIntent())
	}

	require.Eventually(t, func() bool { return w.count() == 12 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close(context.Background()))

	entries := w.all()
	res := VerifyChain(entries)
	assert.Equal(t, 12, res.Entries)
	assert.True(t, res.Intact)
	assert.Zero(t, res.Broken)

	assert.Empty(t, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
	}

	stats := p.Stats()
	assert.Equal(t, uint64(12), stats.TotalLogged)
	assert.Equal(t, uint64(12), stats.TotalFlushed)
	assert.Zero(t, stats.TotalDropped)
	assert.Zero(t, stats.BufferDepth)
}

func TestPipeline_FullBatchFlushesImmediately(t *testing.T) {
	w := &memWriter{}
	// Long interval: only the batch-size trigger can explain a prompt flush.
	p := NewPipeline(w, Config{BatchSize: 3, FlushInterval: time.Hour}, discard)
	defer p.Close(context.Background())

	for i := 0; i < 3; i++ {
		p.Log(testEntry("user-1", true), DefaultIntent())
	}
	require.Eventually(t, func() bool { return w.count() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestPipeline_DropsWhenFull(t *testing.T) {
	w := &memWriter{}
	w.setFailing(true)
	p := NewPipeline(w, Config{
		BufferSize:    10,
		BatchSize:     5,
		FlushInterval: time.Hour,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
	}, discard)

	for i := 0; i < 25; i++ {
		p.Log(testEntry("user-1", true), DefaultIntent())
	}

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.TotalDropped, uint64(10))
	assert.LessOrEqual(t, stats.BufferDepth, 10)

	w.setFailing(false)
	require.NoError(t, p.Close(context.Background()))
}

// TestPurpose: Validates retry and head re-enqueue on persistent store failure.
// Scope: Unit Test
// Expected: No entries are lost while buffer capacity remains; order and
// chain integrity survive recovery.
func TestPipeline_RequeueOnFailureThenRecover(t *testing.T) {
	w := &memWriter{}
	w.setFailing(true)
	p := NewPipeline(w, Config{
		BatchSize:     4,
		FlushInterval: 20 * time.Millisecond,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
	}, discard)

	for i := 0; i < 4; i++ {
		e := testEntry("user-1", true)
		e.RequestID = "req-ordered"
		p.Log(e, DefaultIntent())
	}

	require.Eventually(t, func() bool {
		return p.Stats().TotalErrors > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, w.count())

	w.setFailing(false)
	require.Eventually(t, func() bool { return w.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close(context.Background()))

	res := VerifyChain(w.all())
	assert.True(t, res.Intact)
}

// TestPurpose: A store that never recovers must not wedge the pipeline.
// Scope: Unit Test
// Expected: The flusher keeps servicing its triggers while every write
// fails, and Close returns within its context deadline instead of
// spinning on the re-enqueued batch.
func TestPipeline_PersistentFailureDoesNotWedge(t *testing.T) {
	w := &memWriter{}
	w.setFailing(true)
	p := NewPipeline(w, Config{
		BatchSize:     2,
		FlushInterval: 10 * time.Millisecond,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
	}, discard)

	for i := 0; i < 4; i++ {
		p.Log(testEntry("user-1", true), DefaultIntent())
	}

	// Multiple failed flush attempts prove the flusher loop is still alive.
	require.Eventually(t, func() bool {
		return p.Stats().TotalErrors >= 2
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	p.Close(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, w.count())
}

func TestPipeline_CloseDrainsBuffer(t *testing.T) {
	w := &memWriter{}
	p := NewPipeline(w, Config{BatchSize: 100, FlushInterval: time.Hour}, discard)

	for i := 0; i < 7; i++ {
		p.Log(testEntry("user-1", true), DefaultIntent())
	}
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 7, w.count())
}

// TestPurpose: Validates production sampling policy.
// Scope: Unit Test
// Security: Denied and test-intent decisions must never be sampled away.
// Expected: 100% of denied/test entries kept; allowed entries near the
// configured rate.
func TestPipeline_ProductionSampling(t *testing.T) {
	w := &memWriter{}
	p := NewPipeline(w, Config{
		Production:    true,
		SampleRate:    0.10,
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    5000,
	}, discard)
	defer p.Close(context.Background())

	for i := 0; i < 200; i++ {
		p.Log(testEntry("denied-user", false), DefaultIntent())
	}
	testIntent := DefaultIntent()
	testIntent.IsTest = true
	for i := 0; i < 200; i++ {
		p.Log(testEntry("test-user", true), testIntent)
	}
	loggedBefore := p.Stats().TotalLogged
	assert.Equal(t, uint64(400), loggedBefore)

	for i := 0; i < 1000; i++ {
		p.Log(testEntry("allowed-user", true), DefaultIntent())
	}
	sampled := p.Stats().TotalLogged - loggedBefore
	// Binomial(1000, 0.1): far outside this range means the policy broke.
	assert.Greater(t, sampled, uint64(30))
	assert.Less(t, sampled, uint64(300))
}

func TestPipeline_DevelopmentLogsEverything(t *testing.T) {
	w := &memWriter{}
	p := NewPipeline(w, Config{BatchSize: 50, FlushInterval: time.Hour, BufferSize: 500}, discard)

	for i := 0; i < 100; i++ {
		p.Log(testEntry("user-1", true), DefaultIntent())
	}
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 100, w.count())
}

func TestPipeline_LogLevelAssignment(t *testing.T) {
	w := &memWriter{}
	p := NewPipeline(w, Config{BatchSize: 10, FlushInterval: time.Hour}, discard)

	p.Log(testEntry("user-1", false), DefaultIntent())
	p.Log(testEntry("user-2", true), DefaultIntent())
	require.NoError(t, p.Close(context.Background()))

	entries := w.all()
	require.Len(t, entries, 2)
	assert.Equal(t, LevelFull, entries[0].LogLevel)
	assert.Equal(t, LevelEssential, entries[1].LogLevel)
}

func TestPipeline_ResumesChainFromStore(t *testing.T) {
	w := &memWriter{}

	p1 := NewPipeline(w, Config{BatchSize: 5, FlushInterval: time.Hour}, discard)
	p1.Log(testEntry("user-1", true), DefaultIntent())
	require.NoError(t, p1.Close(context.Background()))

	p2 := NewPipeline(w, Config{BatchSize: 5, FlushInterval: time.Hour}, discard)
	p2.Log(testEntry("user-2", true), DefaultIntent())
	require.NoError(t, p2.Close(context.Background()))

	entries := w.all()
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.True(t, VerifyChain(entries).Intact)
}
