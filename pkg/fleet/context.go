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

package fleet

import (
	"sync"
	"time"

	"github.com/printmux/printmux/pkg/backend"
	"github.com/printmux/printmux/pkg/models"
)

// Context is one live printer connection: its identity, its exclusively
// owned backend instance, its optional stream-relay port, and the
// last-known status snapshot.
type Context struct {
	ID         string
	Details    models.DeviceDetails
	Backend    backend.Backend
	StreamPort int // 0 when no port was allocated
	CreatedAt  time.Time

	mu           sync.Mutex
	lastSnapshot *models.StatusSnapshot
	lastActivity time.Time
}

// Snapshot returns the last status snapshot, or nil before the first
// successful poll.
func (c *Context) Snapshot() *models.StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastSnapshot
}

// SetSnapshot stores the latest poll result and bumps activity.
func (c *Context) SetSnapshot(s *models.StatusSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSnapshot = s
	c.lastActivity = time.Now()
}

// Touch bumps the last-activity timestamp.
func (c *Context) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = time.Now()
}

// LastActivity returns when the context last saw traffic.
func (c *Context) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastActivity
}

func (c *Context) info(active bool) models.ContextInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := models.StateOffline
	if c.lastSnapshot != nil {
		state = c.lastSnapshot.State
	}

	return models.ContextInfo{
		ID:           c.ID,
		Address:      c.Details.Address,
		Serial:       c.Details.Serial,
		Model:        c.Details.Model,
		Family:       c.Backend.Capabilities().Family,
		Active:       active,
		StreamPort:   c.StreamPort,
		State:        state,
		CreatedAt:    c.CreatedAt,
		LastActivity: c.lastActivity,
	}
}
