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

// Package fleet owns the map of live printer contexts and the active
// context pointer. All mutations go through the Manager's operations,
// which are serialized: an operation completes, including its event
// emission, before the next one begins. Event handlers therefore must
// not call back into mutating Manager operations.
package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printmux/printmux/pkg/backend"
	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
	"github.com/printmux/printmux/pkg/portalloc"
)

// Manager is the context manager. One instance per process, constructed
// explicitly and passed to dependents by reference.
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*Context
	byDevice map[string]string // device key -> context id
	activeID string

	dispatcher *backend.Dispatcher
	ports      *portalloc.Allocator
	bus        *eventbus.Bus
	logger     logger.Logger
	now        func() time.Time
	newID      func() string
}

// NewManager wires the manager to its collaborators.
func NewManager(dispatcher *backend.Dispatcher, ports *portalloc.Allocator, bus *eventbus.Bus, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Manager{
		contexts:   make(map[string]*Context),
		byDevice:   make(map[string]string),
		dispatcher: dispatcher,
		ports:      ports,
		bus:        bus,
		logger:     log.WithComponent("fleet"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func deviceKey(d models.DeviceDetails) string {
	return d.Address + "|" + d.Serial
}

// CreateContext builds a fresh backend for the device, allocates a
// stream port when the device exposes a camera, registers the context
// and emits context.created. Reconnecting a device whose old context is
// still present is rejected with models.ErrDuplicateDevice; callers
// remove the stale context first.
func (m *Manager) CreateContext(_ context.Context, details models.DeviceDetails) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deviceKey(details)
	if existing, ok := m.byDevice[key]; ok {
		return "", fmt.Errorf("%w: device %s already bound to context %s",
			models.ErrDuplicateDevice, details.Address, existing)
	}

	b, err := m.dispatcher.CreateBackend(details)
	if err != nil {
		return "", err
	}

	port := 0

	if details.HasCamera && b.Capabilities().Has(backend.CapabilityCameraStream) {
		port, err = m.ports.Allocate()
		if err != nil {
			if details.RequireStream {
				_ = b.Close()
				return "", err
			}

			// Degraded mode: the context lives on without a relay port.
			m.logger.Warn().
				Err(err).
				Str("address", details.Address).
				Msg("No stream port available, continuing without live stream")

			port = 0
		}
	}

	id := m.newID()

	pc := &Context{
		ID:         id,
		Details:    details,
		Backend:    b,
		StreamPort: port,
		CreatedAt:  m.now(),
	}
	pc.lastActivity = pc.CreatedAt

	m.contexts[id] = pc
	m.byDevice[key] = id

	m.logger.Info().
		Str("context_id", id).
		Str("address", details.Address).
		Str("family", string(b.Capabilities().Family)).
		Int("stream_port", port).
		Msg("Context created")

	m.bus.Publish(eventbus.Event{Type: eventbus.TypeContextCreated, ContextID: id})

	return id, nil
}

// SwitchContext marks the context active. At most one context is active
// at any time; the previous context's subscribers learn about the
// demotion before this call returns.
func (m *Manager) SwitchContext(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contexts[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrContextNotFound, id)
	}

	if m.activeID == id {
		return nil
	}

	previous := m.activeID
	m.activeID = id
	m.contexts[id].Touch()

	m.logger.Info().
		Str("context_id", id).
		Str("previous_id", previous).
		Msg("Active context switched")

	m.bus.Publish(eventbus.Event{
		Type:       eventbus.TypeContextSwitched,
		ContextID:  id,
		PreviousID: previous,
	})

	return nil
}

// RemoveContext removes the context and releases everything it holds:
// the stream port goes back to the allocator and the backend is closed.
// Removing an unknown id is a silent no-op.
func (m *Manager) RemoveContext(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contexts[id]
	if !ok {
		return nil
	}

	delete(m.contexts, id)
	delete(m.byDevice, deviceKey(c.Details))

	if m.activeID == id {
		m.activeID = ""
	}

	if c.StreamPort != 0 {
		m.ports.Release(c.StreamPort)
	}

	if err := c.Backend.Close(); err != nil {
		m.logger.Warn().Err(err).Str("context_id", id).Msg("Backend close failed")
	}

	m.logger.Info().Str("context_id", id).Msg("Context removed")

	m.bus.Publish(eventbus.Event{Type: eventbus.TypeContextRemoved, ContextID: id})

	return nil
}

// UpdateContext publishes a context.updated patch for UI subscribers and
// bumps the context's activity.
func (m *Manager) UpdateContext(_ context.Context, id string, patch map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contexts[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrContextNotFound, id)
	}

	c.Touch()

	m.bus.Publish(eventbus.Event{
		Type:      eventbus.TypeContextUpdated,
		ContextID: id,
		Patch:     patch,
	})

	return nil
}

// Get returns the context for id.
func (m *Manager) Get(id string) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contexts[id]

	return c, ok
}

// GetActiveContext returns the active context, if any.
func (m *Manager) GetActiveContext() (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return nil, false
	}

	c, ok := m.contexts[m.activeID]

	return c, ok
}

// ActiveID returns the active context id, "" when none.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activeID
}

// ListContexts returns info for all live contexts, oldest first.
func (m *Manager) ListContexts() []models.ContextInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]models.ContextInfo, 0, len(m.contexts))
	for id, c := range m.contexts {
		infos = append(infos, c.info(id == m.activeID))
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}

		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return infos
}

// Count reports the number of live contexts.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.contexts)
}

// RemoveAll removes every context, releasing all held resources. Used
// during shutdown.
func (m *Manager) RemoveAll(ctx context.Context) {
	for _, info := range m.ListContexts() {
		_ = m.RemoveContext(ctx, info.ID)
	}
}
