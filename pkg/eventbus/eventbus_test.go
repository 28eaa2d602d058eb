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

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmux/printmux/pkg/logger"
)

func TestPublishIsSynchronous(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var seen []Type

	bus.Subscribe(func(e Event) {
		seen = append(seen, e.Type)
	})

	bus.Publish(Event{Type: TypeContextCreated, ContextID: "a"})

	// Delivery completed before Publish returned.
	require.Equal(t, []Type{TypeContextCreated}, seen)
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var order []string

	bus.Subscribe(func(e Event) {
		order = append(order, string(e.Type)+":"+e.ContextID)
	})

	bus.Publish(Event{Type: TypeContextCreated, ContextID: "a"})
	bus.Publish(Event{Type: TypeContextSwitched, ContextID: "a"})
	bus.Publish(Event{Type: TypePollingData, ContextID: "a"})

	assert.Equal(t, []string{
		"context.created:a",
		"context.switched:a",
		"polling.data:a",
	}, order)
}

func TestSubscribeFiltersTypes(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var polls, all int

	bus.Subscribe(func(Event) { polls++ }, TypePollingData)
	bus.Subscribe(func(Event) { all++ })

	bus.Publish(Event{Type: TypePollingData, ContextID: "a"})
	bus.Publish(Event{Type: TypeContextRemoved, ContextID: "a"})

	assert.Equal(t, 1, polls)
	assert.Equal(t, 2, all)
}

func TestSubscribersRunInSubscriptionOrder(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var order []string

	bus.Subscribe(func(Event) { order = append(order, "first") })
	bus.Subscribe(func(Event) { order = append(order, "second") })
	bus.Subscribe(func(Event) { order = append(order, "third") })

	bus.Publish(Event{Type: TypeContextCreated})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var count int

	sub := bus.Subscribe(func(Event) { count++ })

	bus.Publish(Event{Type: TypeContextCreated})
	sub.Close()
	sub.Close() // idempotent
	bus.Publish(Event{Type: TypeContextCreated})

	assert.Equal(t, 1, count)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var after int

	bus.Subscribe(func(Event) { panic("handler bug") })
	bus.Subscribe(func(Event) { after++ })

	require.NotPanics(t, func() {
		bus.Publish(Event{Type: TypePollingError, ContextID: "a"})
	})

	assert.Equal(t, 1, after)
}

func TestEventTimeDefaultsToNow(t *testing.T) {
	bus := NewBus(logger.NewTestLogger())

	var got Event

	bus.Subscribe(func(e Event) { got = e })
	bus.Publish(Event{Type: TypeContextCreated})

	assert.False(t, got.Time.IsZero())
}
