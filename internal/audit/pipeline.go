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
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Pipeline defaults.
const (
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 10
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultSampleRate    = 0.10
)

// Writer persists audit batches. LastHash returns the hash of the most
// recently persisted entry, or "" for an empty trail.
type Writer interface {
	WriteBatch(ctx context.Context, entries []*Entry) error
	LastHash(ctx context.Context) (string, error)
}

// Config tunes the pipeline. Zero values take the defaults above.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration

	// Production enables sampling: denied decisions and test-intent
	// traffic are always written, other allowed decisions at SampleRate.
	// Outside production everything is written.
	Production bool
	SampleRate float64
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = DefaultSampleRate
	}
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	TotalLogged  uint64
	TotalFlushed uint64
	TotalErrors  uint64
	TotalDropped uint64
	BufferDepth  int
}

// Pipeline buffers audit entries and writes them in batches from a single
// background goroutine. Log never blocks beyond taking the buffer mutex;
// when the buffer is full the entry is dropped and counted.
type Pipeline struct {
	cfg    Config
	writer Writer
	log    *slog.Logger

	mu     sync.Mutex
	buffer []*Entry

	// prevHash chains batches across flushes. Loaded from the writer on
	// the first flush, then maintained in memory. Guarded by the single
	// flusher goroutine.
	prevHash   string
	prevLoaded bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	logged  atomic.Uint64
	flushed atomic.Uint64
	errors  atomic.Uint64
	dropped atomic.Uint64
}

// NewPipeline starts the background flusher and returns the pipeline.
func NewPipeline(writer Writer, cfg Config, log *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:    cfg,
		writer: writer,
		log:    log,
		buffer: make([]*Entry, 0, cfg.BufferSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Log samples, stamps, and enqueues a decision entry. It returns
// immediately; persistence happens in the background.
func (p *Pipeline) Log(entry *Entry, intent Intent) {
	entry.Intent = intent
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.LogLevel == "" {
		if !entry.Authorized || intent.IsTest {
			entry.LogLevel = LevelFull
		} else {
			entry.LogLevel = LevelEssential
		}
	}

	if !p.shouldLog(entry) {
		return
	}
	p.logged.Add(1)

	p.mu.Lock()
	if len(p.buffer) >= p.cfg.BufferSize {
		p.mu.Unlock()
		p.dropped.Add(1)
		return
	}
	p.buffer = append(p.buffer, entry)
	depth := len(p.buffer)
	p.mu.Unlock()

	if depth >= p.cfg.BatchSize {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
}

// shouldLog applies the sampling policy. Denied decisions and test-intent
// traffic are never sampled away; compliance requires a complete record of
// both.
func (p *Pipeline) shouldLog(entry *Entry) bool {
	if !p.cfg.Production {
		return true
	}
	if !entry.Authorized || entry.Intent.IsTest {
		return true
	}
	return rand.Float64() < p.cfg.SampleRate
}

// Stats returns current counters and buffer depth.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	depth := len(p.buffer)
	p.mu.Unlock()
	return Stats{
		TotalLogged:  p.logged.Load(),
		TotalFlushed: p.flushed.Load(),
		TotalErrors:  p.errors.Load(),
		TotalDropped: p.dropped.Load(),
		BufferDepth:  depth,
	}
}

// Close stops the flusher and drains remaining entries best-effort, bounded
// by ctx.
func (p *Pipeline) Close(ctx context.Context) error {
	close(p.done)
	p.wg.Wait()

	for {
		n, ok := p.flushOnce(ctx)
		if n == 0 {
			return ctx.Err()
		}
		if !ok || ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.drain()
		case <-p.notify:
			p.drain()
		}
	}
}

// drain flushes batches until the buffer falls below a full batch. A
// failed flush re-enqueues its batch, so drain must stop on failure and
// leave the retry pacing to the ticker.
func (p *Pipeline) drain() {
	for {
		n, ok := p.flushOnce(context.Background())
		if !ok || n < p.cfg.BatchSize {
			return
		}
	}
}

// flushOnce pops up to one batch, chains the hashes, and writes it with
// retries. On permanent failure the batch is re-enqueued at the head so
// ordering survives; entries that no longer fit are dropped and counted.
// Returns the number of entries taken from the buffer and whether they
// were persisted.
func (p *Pipeline) flushOnce(ctx context.Context) (int, bool) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return 0, true
	}
	n := min(len(p.buffer), p.cfg.BatchSize)
	batch := make([]*Entry, n)
	copy(batch, p.buffer[:n])
	p.buffer = append(p.buffer[:0], p.buffer[n:]...)
	p.mu.Unlock()

	if !p.prevLoaded {
		last, err := p.writer.LastHash(ctx)
		if err != nil {
			p.log.Error("audit: failed to load chain head", slog.String("error", err.Error()))
			p.requeue(batch)
			p.errors.Add(1)
			return n, false
		}
		p.prevHash = last
		p.prevLoaded = true
	}

	chainBase := p.prevHash
	prev := chainBase
	for _, e := range batch {
		e.PrevHash = prev
		e.Hash = e.ComputeHash(prev)
		prev = e.Hash
	}

	if err := p.write(ctx, batch); err != nil {
		p.log.Error("audit: batch write failed, re-enqueueing",
			slog.Int("batch_size", n),
			slog.String("error", err.Error()))
		p.errors.Add(1)
		// The chain head did not advance.
		p.prevHash = chainBase
		p.requeue(batch)
		return n, false
	}

	p.prevHash = prev
	p.flushed.Add(uint64(n))
	return n, true
}

func (p *Pipeline) write(ctx context.Context, batch []*Entry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryDelay
	bo.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.writer.WriteBatch(ctx, batch)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.cfg.MaxRetries)),
	)
	return err
}

func (p *Pipeline) requeue(batch []*Entry) {
	for _, e := range batch {
		e.Hash, e.PrevHash = "", ""
	}
	p.mu.Lock()
	room := p.cfg.BufferSize - len(p.buffer)
	if room < len(batch) {
		p.dropped.Add(uint64(len(batch) - room))
		batch = batch[:room]
	}
	p.buffer = append(batch, p.buffer...)
	p.mu.Unlock()
}
