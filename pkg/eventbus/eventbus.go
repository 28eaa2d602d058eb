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

// Package eventbus is the typed in-process pub/sub carrying context
// lifecycle and polling events between engine components and out to UI
// collaborators.
//
// Delivery is synchronous and in subscription order: Publish returns only
// after every matching subscriber has run. This is the mechanism behind
// the engine's "previous context is notified before SwitchContext
// returns" and "the coordinator observes a switch before the next
// scheduled tick" guarantees, so it is part of the contract, not an
// implementation accident.
package eventbus

import (
	"sync"
	"time"

	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

// Type names an engine event.
type Type string

const (
	TypeContextCreated  Type = "context.created"
	TypeContextSwitched Type = "context.switched"
	TypeContextRemoved  Type = "context.removed"
	TypeContextUpdated  Type = "context.updated"
	TypePollingData     Type = "polling.data"
	TypePollingError    Type = "polling.error"
)

// Event is one engine event. Fields beyond Type and ContextID are set
// per type: PreviousID on context.switched, Snapshot on polling.data,
// Patch on context.updated, Error on polling.error.
type Event struct {
	Type       Type                   `json:"type"`
	ContextID  string                 `json:"context_id"`
	PreviousID string                 `json:"previous_id,omitempty"`
	Snapshot   *models.StatusSnapshot `json:"snapshot,omitempty"`
	Patch      map[string]interface{} `json:"patch,omitempty"`
	Error      error                  `json:"-"`
	Time       time.Time              `json:"time"`
}

// Handler receives events. Handlers run on the publisher's goroutine and
// must not block; mutating bus subscriptions from a handler is allowed.
type Handler func(Event)

type subscriber struct {
	id    uint64
	types map[Type]struct{} // nil means all types
	fn    Handler
}

// Bus delivers events to subscribers synchronously, preserving emission
// order across the whole engine.
type Bus struct {
	mu        sync.Mutex
	publishMu sync.Mutex
	subs      []*subscriber
	nextID    uint64
	logger    logger.Logger
	now       func() time.Time
}

// NewBus creates an empty bus.
func NewBus(log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Bus{
		logger: log,
		now:    time.Now,
	}
}

// Subscription identifies one subscriber; Close detaches it.
type Subscription struct {
	id  uint64
	bus *Bus
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}

	s.bus.unsubscribe(s.id)
	s.bus = nil
}

// Subscribe registers a handler for the given event types; with no types
// the handler receives everything. Subscribers are invoked in
// subscription order.
func (b *Bus) Subscribe(fn Handler, types ...Type) *Subscription {
	sub := &subscriber{fn: fn}

	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return &Subscription{id: sub.id, bus: b}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to all matching subscribers before
// returning. Publishes are serialized so observers see one global event
// order. A panicking handler is logged and skipped; it never takes down
// the publisher.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = b.now()
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.types != nil {
			if _, ok := sub.types[event.Type]; !ok {
				continue
			}
		}

		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Str("context_id", event.ContextID).
				Msg("Event handler panicked")
		}
	}()

	sub.fn(event)
}
