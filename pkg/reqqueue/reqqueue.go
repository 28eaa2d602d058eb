/*
 * Copyright 2026 Printmux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package reqqueue bounds expensive device requests per context. Each
// context gets its own priority queue whose in-flight count never
// exceeds the backend's concurrency class, with (context, key)
// deduplication so identical requests share one execution.
package reqqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

var errContextRegistered = errors.New("reqqueue: context already registered")

const (
	defaultMaxPending = 32
	defaultMaxRetries = 2
	defaultRetryDelay = 200 * time.Millisecond
)

// Operation is the unit of queued work. It must honor ctx cancellation.
type Operation func(ctx context.Context) (interface{}, error)

// Result is delivered exactly once per Enqueue call. Cancelled results
// carry neither value nor error.
type Result struct {
	Value     interface{}
	Err       error
	Cancelled bool
}

// Config bounds the queue's behavior.
type Config struct {
	// MaxPending caps queued-but-not-started entries per context.
	MaxPending int `json:"max_pending"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `json:"max_retries"`

	// RetryDelay is the initial delay between attempts; it doubles per
	// attempt.
	RetryDelay models.Duration `json:"retry_delay"`
}

// Validate fills defaults.
func (c *Config) Validate() error {
	if c.MaxPending <= 0 {
		c.MaxPending = defaultMaxPending
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = models.Duration(defaultRetryDelay)
	}

	return nil
}

type entry struct {
	key       string
	priority  int
	seq       uint64
	op        Operation
	callerCtx context.Context

	waiters   []chan Result
	cancel    context.CancelFunc // non-nil once started
	cancelled bool
	resolved  bool
}

type contextQueue struct {
	concurrency int
	inflight    int
	pending     entryHeap
	byKey       map[string]*entry
}

// Queue manages all per-context request queues.
type Queue struct {
	config Config
	logger logger.Logger

	mu       sync.Mutex
	contexts map[string]*contextQueue
	seq      uint64
	wg       sync.WaitGroup
}

// New builds a queue manager.
func New(cfg Config, log logger.Logger) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Queue{
		config:   cfg,
		logger:   log.WithComponent("reqqueue"),
		contexts: make(map[string]*contextQueue),
	}, nil
}

// RegisterContext creates the context's queue. concurrency comes from
// the backend's capability descriptor; values below 1 are clamped.
func (q *Queue) RegisterContext(contextID string, concurrency int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.contexts[contextID]; ok {
		return fmt.Errorf("%w: %s", errContextRegistered, contextID)
	}

	if concurrency < 1 {
		concurrency = 1
	}

	q.contexts[contextID] = &contextQueue{
		concurrency: concurrency,
		byKey:       make(map[string]*entry),
	}

	return nil
}

// DropContext cancels everything queued for the context and removes its
// queue. Unknown ids are ignored.
func (q *Queue) DropContext(contextID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cq, ok := q.contexts[contextID]
	if !ok {
		return
	}

	q.cancelAllLocked(cq)
	delete(q.contexts, contextID)
}

// Enqueue schedules op on the context's queue and returns a channel
// that receives exactly one Result. A second enqueue with the same key
// while the first is pending or in flight joins it instead of running
// op again. Higher priority runs first; equal priority is FIFO.
func (q *Queue) Enqueue(ctx context.Context, contextID, key string, priority int, op Operation) (<-chan Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cq, ok := q.contexts[contextID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrContextNotFound, contextID)
	}

	ch := make(chan Result, 1)

	if e, ok := cq.byKey[key]; ok {
		e.waiters = append(e.waiters, ch)
		return ch, nil
	}

	if cq.pending.Len() >= q.config.MaxPending {
		return nil, fmt.Errorf("%w: context %s", models.ErrQueueOverflow, contextID)
	}

	q.seq++

	e := &entry{
		key:       key,
		priority:  priority,
		seq:       q.seq,
		op:        op,
		callerCtx: ctx,
		waiters:   []chan Result{ch},
	}

	heap.Push(&cq.pending, e)
	cq.byKey[key] = e

	q.dispatchLocked(cq)

	return ch, nil
}

// CancelAll resolves every pending and in-flight entry for the context
// as cancelled. In-flight operations get their contexts cancelled; any
// value they still commit is discarded. The queue stays usable and a
// re-enqueue of the same key starts fresh.
func (q *Queue) CancelAll(contextID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cq, ok := q.contexts[contextID]; ok {
		q.cancelAllLocked(cq)
	}
}

// Close cancels every context's work and waits for in-flight
// operations to return, bounded by ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()

	for _, cq := range q.contexts {
		q.cancelAllLocked(cq)
	}

	q.contexts = make(map[string]*contextQueue)
	q.mu.Unlock()

	done := make(chan struct{})

	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) cancelAllLocked(cq *contextQueue) {
	for _, e := range cq.byKey {
		e.cancelled = true

		if e.cancel != nil {
			e.cancel()
		}

		resolveLocked(e, Result{Cancelled: true})
	}

	cq.pending = cq.pending[:0]
	cq.byKey = make(map[string]*entry)
}

// dispatchLocked starts pending entries until the concurrency limit is
// reached. Entries whose caller bailed before start resolve cancelled
// without consuming a slot.
func (q *Queue) dispatchLocked(cq *contextQueue) {
	for cq.inflight < cq.concurrency && cq.pending.Len() > 0 {
		e, _ := heap.Pop(&cq.pending).(*entry)

		if e.cancelled || e.resolved {
			continue
		}

		if e.callerCtx != nil && e.callerCtx.Err() != nil {
			resolveLocked(e, Result{Cancelled: true})

			if cq.byKey[e.key] == e {
				delete(cq.byKey, e.key)
			}

			continue
		}

		runCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		cq.inflight++

		q.wg.Add(1)

		go q.execute(cq, e, runCtx)
	}
}

func (q *Queue) execute(cq *contextQueue, e *entry, ctx context.Context) {
	defer q.wg.Done()
	defer e.cancel()

	var (
		value interface{}
		err   error
	)

	delay := q.config.RetryDelay.Duration()

	for attempt := 0; ; attempt++ {
		value, err = e.op(ctx)

		if err == nil || ctx.Err() != nil || !models.IsRetryable(err) || attempt >= q.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}

		if ctx.Err() != nil {
			break
		}

		delay *= 2
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cq.inflight--

	// A CancelAll while we ran already resolved the waiters and cleared
	// byKey; the committed result is discarded.
	if !e.cancelled && ctx.Err() == nil {
		if cq.byKey[e.key] == e {
			delete(cq.byKey, e.key)
		}

		if err != nil {
			q.logger.Debug().Err(err).Str("key", e.key).Msg("Queued request failed")
		}

		resolveLocked(e, Result{Value: value, Err: err})
	}

	q.dispatchLocked(cq)
}

func resolveLocked(e *entry, r Result) {
	if e.resolved {
		return
	}

	e.resolved = true

	for _, ch := range e.waiters {
		ch <- r
		close(ch)
	}

	e.waiters = nil
}

// entryHeap orders by priority desc, then FIFO by sequence.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}

	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	e, _ := x.(*entry)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}
