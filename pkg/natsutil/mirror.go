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

package natsutil

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/logger"
)

const (
	mirrorQueueSize  = 256
	publishTimeout   = 5 * time.Second
	drainWaitTimeout = 5 * time.Second
)

// Mirror forwards bus events to JetStream without ever blocking the
// bus: events go through a bounded channel and are dropped when the
// mirror cannot keep up.
type Mirror struct {
	publisher *EventPublisher
	nc        *nats.Conn
	logger    logger.Logger

	sub    *eventbus.Subscription
	events chan eventbus.Event
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewMirror connects to NATS, ensures the stream, and subscribes to
// the bus.
func NewMirror(ctx context.Context, natsURL, streamName string, bus *eventbus.Bus, log logger.Logger) (*Mirror, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	publisher, nc, err := Connect(ctx, natsURL, streamName)
	if err != nil {
		return nil, err
	}

	m := &Mirror{
		publisher: publisher,
		nc:        nc,
		logger:    log.WithComponent("natsmirror"),
		events:    make(chan eventbus.Event, mirrorQueueSize),
		done:      make(chan struct{}),
	}

	m.sub = bus.Subscribe(m.enqueue)

	m.wg.Add(1)

	go m.forward()

	return m, nil
}

func (m *Mirror) enqueue(e eventbus.Event) {
	select {
	case m.events <- e:
	default:
		m.logger.Warn().Str("type", string(e.Type)).Msg("Mirror queue full, dropping event")
	}
}

func (m *Mirror) forward() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case e := <-m.events:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

			if err := m.publisher.PublishEngineEvent(ctx, e); err != nil {
				m.logger.Warn().
					Err(err).
					Str("type", string(e.Type)).
					Msg("Failed to mirror event to NATS")
			}

			cancel()
		}
	}
}

// Close detaches from the bus, stops the forwarder, and closes the
// NATS connection. Safe to call more than once.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		m.sub.Close()
		close(m.done)

		waited := make(chan struct{})

		go func() {
			m.wg.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-time.After(drainWaitTimeout):
		}

		m.nc.Close()
	})
}
