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

package engine

import (
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/poller"
	"github.com/printmux/printmux/pkg/portalloc"
	"github.com/printmux/printmux/pkg/reqqueue"
)

const (
	defaultFirstStreamPort = 8350
	defaultLastStreamPort  = 8369
)

// NATSConfig enables the optional JetStream event mirror.
type NATSConfig struct {
	// URL of the NATS server; empty disables the mirror.
	URL string `json:"url"`

	// Stream name, defaulting to printmux-events.
	Stream string `json:"stream"`
}

// Config is the engine's full configuration, loadable through
// config.LoadAndValidate.
type Config struct {
	// Ports is the stream-proxy port range.
	Ports portalloc.Config `json:"ports"`

	// Poller controls the status polling loops.
	Poller poller.Config `json:"poller"`

	// Queue bounds the per-context request queues.
	Queue reqqueue.Config `json:"queue"`

	// JournalPath enables the CBOR event journal when non-empty.
	JournalPath string `json:"journal_path,omitempty"`

	// NATS enables the JetStream event mirror when URL is set.
	NATS NATSConfig `json:"nats,omitempty"`

	// Logging configures the process logger; nil uses defaults.
	Logging *logger.Config `json:"logging,omitempty"`
}

// Validate fills defaults and validates the nested sections.
func (c *Config) Validate() error {
	if c.Ports.First == 0 && c.Ports.Last == 0 {
		c.Ports.First = defaultFirstStreamPort
		c.Ports.Last = defaultLastStreamPort
	}

	if err := c.Ports.Validate(); err != nil {
		return err
	}

	if err := c.Poller.Validate(); err != nil {
		return err
	}

	return c.Queue.Validate()
}
