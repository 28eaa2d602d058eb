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

package streamproxy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/printmux/printmux/pkg/logger"
)

var errProxyExists = errors.New("streamproxy: context already has a proxy")

// Manager tracks one proxy per context.
type Manager struct {
	logger logger.Logger

	mu      sync.Mutex
	proxies map[string]*Proxy
}

// NewManager builds an empty proxy manager.
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Manager{
		logger:  log.WithComponent("streamproxy"),
		proxies: make(map[string]*Proxy),
	}
}

// StartProxy binds a proxy for the context on the given port.
func (m *Manager) StartProxy(contextID string, port int, source SourceFunc) (*Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.proxies[contextID]; ok {
		return nil, fmt.Errorf("%w: %s", errProxyExists, contextID)
	}

	p, err := NewProxy(contextID, port, source, m.logger)
	if err != nil {
		return nil, err
	}

	m.proxies[contextID] = p

	m.logger.Info().
		Str("context_id", contextID).
		Str("addr", p.Addr()).
		Msg("Stream proxy started")

	return p, nil
}

// StopProxy tears down the context's proxy. Unknown ids are ignored.
func (m *Manager) StopProxy(contextID string) {
	m.mu.Lock()
	p, ok := m.proxies[contextID]

	if ok {
		delete(m.proxies, contextID)
	}
	m.mu.Unlock()

	if ok {
		_ = p.Close()

		m.logger.Info().Str("context_id", contextID).Msg("Stream proxy stopped")
	}
}

// Get returns the context's proxy, if any.
func (m *Manager) Get(contextID string) (*Proxy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proxies[contextID]

	return p, ok
}

// StopAll tears down every proxy. Used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	proxies := m.proxies
	m.proxies = make(map[string]*Proxy)
	m.mu.Unlock()

	for _, p := range proxies {
		_ = p.Close()
	}
}
