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

// Package poller runs one adaptive status-polling loop per printer
// context. The active context is polled at a short interval, background
// contexts at a long one; a context switch swaps each affected loop's
// ticker within one scheduling pass, so the frequency inversion takes
// effect without skipping or doubling a poll.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

var (
	errAlreadyPolling = errors.New("poller: target already has a polling loop")
	errNotStarted     = errors.New("poller: coordinator not started")
)

// loop is the per-context polling state. Mode changes arrive on modeCh
// (buffer 1, sends serialized by the coordinator mutex); pause is a
// flag because it only suppresses ticks, it never reshapes the timer.
type loop struct {
	target Target
	cancel context.CancelFunc
	modeCh chan bool
	paused atomic.Bool
}

// Coordinator owns all polling loops. It subscribes to context
// lifecycle events so switches and removals reclassify or stop loops
// without any caller involvement.
type Coordinator struct {
	config Config
	bus    *eventbus.Bus
	clock  Clock
	logger logger.Logger

	mu      sync.Mutex
	loops   map[string]*loop
	rootCtx context.Context
	cancel  context.CancelFunc

	subs []*eventbus.Subscription
	wg   sync.WaitGroup
}

// NewCoordinator builds a coordinator. A nil clock selects the real
// clock; tests inject a fake one.
func NewCoordinator(cfg Config, bus *eventbus.Bus, clock Clock, log logger.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if clock == nil {
		clock = realClock{}
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Coordinator{
		config: cfg,
		bus:    bus,
		clock:  clock,
		logger: log.WithComponent("poller"),
		loops:  make(map[string]*loop),
	}, nil
}

// Start wires the coordinator to the event bus and enables StartPolling.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rootCtx != nil {
		return nil
	}

	c.rootCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	c.subs = append(c.subs,
		c.bus.Subscribe(c.onSwitched, eventbus.TypeContextSwitched),
		c.bus.Subscribe(c.onRemoved, eventbus.TypeContextRemoved),
	)

	return nil
}

// Stop cancels every loop and waits for them to drain, bounded by ctx.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()

	for _, s := range c.subs {
		s.Close()
	}

	c.subs = nil

	if c.cancel != nil {
		c.cancel()
	}

	c.loops = make(map[string]*loop)
	c.mu.Unlock()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartPolling registers a polling loop for the target. active selects
// the starting rate; the loop performs one immediate poll before
// settling into its tick cadence.
func (c *Coordinator) StartPolling(target Target, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rootCtx == nil {
		return errNotStarted
	}

	id := target.TargetID()
	if _, ok := c.loops[id]; ok {
		return errAlreadyPolling
	}

	loopCtx, cancel := context.WithCancel(c.rootCtx)

	l := &loop{
		target: target,
		cancel: cancel,
		modeCh: make(chan bool, 1),
	}
	c.loops[id] = l

	c.wg.Add(1)

	go c.run(loopCtx, l, active)

	c.logger.Debug().Str("context_id", id).Bool("active", active).Msg("Polling loop started")

	return nil
}

// StopPolling tears down the target's loop. Unknown ids are ignored.
func (c *Coordinator) StopPolling(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.loops[id]
	if !ok {
		return
	}

	delete(c.loops, id)
	l.cancel()

	c.logger.Debug().Str("context_id", id).Msg("Polling loop stopped")
}

// Pause suppresses the target's ticks without destroying loop state.
func (c *Coordinator) Pause(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.loops[id]; ok {
		l.paused.Store(true)
	}
}

// Resume lifts a Pause.
func (c *Coordinator) Resume(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.loops[id]; ok {
		l.paused.Store(false)
	}
}

// IsPolling reports whether the id currently has a loop.
func (c *Coordinator) IsPolling(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.loops[id]

	return ok
}

func (c *Coordinator) onSwitched(e eventbus.Event) {
	c.setActive(e.ContextID, true)

	if e.PreviousID != "" {
		c.setActive(e.PreviousID, false)
	}
}

func (c *Coordinator) onRemoved(e eventbus.Event) {
	c.StopPolling(e.ContextID)
}

// setActive hands the loop its new rate class. The buffer-1 channel is
// drained before the send, and sends are serialized under c.mu, so this
// never blocks: a stale unconsumed mode is simply superseded.
func (c *Coordinator) setActive(id string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.loops[id]
	if !ok {
		return
	}

	select {
	case <-l.modeCh:
	default:
	}

	l.modeCh <- active
}

func (c *Coordinator) interval(active bool) time.Duration {
	if active {
		return c.config.ActiveInterval.Duration()
	}

	return c.config.InactiveInterval.Duration()
}

func (c *Coordinator) run(ctx context.Context, l *loop, active bool) {
	defer c.wg.Done()

	ticker := c.clock.Ticker(c.interval(active))
	defer func() { ticker.Stop() }()

	// Initial poll so a fresh context shows a status without waiting a
	// full interval.
	if !l.paused.Load() {
		c.pollOnce(ctx, l.target)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case mode := <-l.modeCh:
			if mode == active {
				continue
			}

			active = mode

			ticker.Stop()
			ticker = c.clock.Ticker(c.interval(active))
		case <-ticker.Chan():
			if l.paused.Load() {
				continue
			}

			c.pollOnce(ctx, l.target)
		}
	}
}

// pollOnce fetches one status snapshot, retrying transient failures
// with doubling backoff. The outcome is published either way; the loop
// itself never dies on a poll failure.
func (c *Coordinator) pollOnce(ctx context.Context, target Target) {
	var lastErr error

	backoff := c.config.RetryBackoff.Duration()

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !c.sleep(ctx, backoff) {
				return
			}

			backoff *= 2
		}

		snapshot, err := target.FetchStatus(ctx)
		if err == nil {
			c.bus.Publish(eventbus.Event{
				Type:      eventbus.TypePollingData,
				ContextID: target.TargetID(),
				Snapshot:  snapshot,
			})

			return
		}

		lastErr = err

		if !models.IsRetryable(err) {
			break
		}
	}

	if ctx.Err() != nil {
		return
	}

	c.logger.Warn().
		Err(lastErr).
		Str("context_id", target.TargetID()).
		Msg("Status poll failed")

	c.bus.Publish(eventbus.Event{
		Type:      eventbus.TypePollingError,
		ContextID: target.TargetID(),
		Error:     lastErr,
	})
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	t := c.clock.Ticker(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
