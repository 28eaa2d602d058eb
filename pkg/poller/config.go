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

package poller

import (
	"errors"
	"time"

	"github.com/printmux/printmux/pkg/models"
)

const (
	defaultActiveInterval = 3 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBackoff   = 500 * time.Millisecond

	// Inactive contexts are polled at a fraction of the active rate.
	inactiveMultiplier = 10
)

var errIntervalInverted = errors.New("poller: inactive_interval must not be shorter than active_interval")

// Config controls the per-context polling loops.
type Config struct {
	// ActiveInterval is the tick period for the active context.
	ActiveInterval models.Duration `json:"active_interval"`

	// InactiveInterval is the tick period for background contexts.
	// Defaults to 10x the active interval.
	InactiveInterval models.Duration `json:"inactive_interval"`

	// MaxRetries bounds the retry attempts within a single tick before
	// the failure is published.
	MaxRetries int `json:"max_retries"`

	// RetryBackoff is the initial delay between retry attempts; it
	// doubles per attempt.
	RetryBackoff models.Duration `json:"retry_backoff"`
}

// Validate fills defaults and rejects inverted intervals.
func (c *Config) Validate() error {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = models.Duration(defaultActiveInterval)
	}

	if c.InactiveInterval <= 0 {
		c.InactiveInterval = c.ActiveInterval * inactiveMultiplier
	}

	if c.InactiveInterval < c.ActiveInterval {
		return errIntervalInverted
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}

	if c.RetryBackoff <= 0 {
		c.RetryBackoff = models.Duration(defaultRetryBackoff)
	}

	return nil
}
