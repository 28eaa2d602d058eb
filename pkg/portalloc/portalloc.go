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

// Package portalloc hands out stream-relay ports from a fixed inclusive
// range. A port is held by at most one context at a time; released ports
// are reused in FIFO order, which keeps allocation deterministic under
// test.
package portalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/printmux/printmux/pkg/models"
)

var (
	errInvalidRange = errors.New("invalid port range")
)

// Config is the allocator's port range, inclusive on both ends.
type Config struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (c *Config) Validate() error {
	if c.First <= 0 || c.Last < c.First || c.Last > 65535 {
		return fmt.Errorf("%w: [%d, %d]", errInvalidRange, c.First, c.Last)
	}

	return nil
}

// Allocator tracks which ports of the range are in use. Its free and
// used sets are mutated only by Allocate and Release.
type Allocator struct {
	mu   sync.Mutex
	free []int
	used map[int]struct{}

	first int
	last  int
}

// New creates an allocator over the configured range with every port free.
func New(cfg Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Allocator{
		free:  make([]int, 0, cfg.Last-cfg.First+1),
		used:  make(map[int]struct{}),
		first: cfg.First,
		last:  cfg.Last,
	}

	for p := cfg.First; p <= cfg.Last; p++ {
		a.free = append(a.free, p)
	}

	return a, nil
}

// Allocate returns the next free port, or models.ErrPortsExhausted when
// the range is fully in use. Exhaustion is reported, not retried; the
// caller decides whether to proceed without a stream port.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		return 0, models.ErrPortsExhausted
	}

	port := a.free[0]
	a.free = a.free[1:]
	a.used[port] = struct{}{}

	return port, nil
}

// Release returns a port to the free set, making it eligible for the
// very next Allocate. Ports outside the range or not currently in use
// are ignored.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.used[port]; !ok {
		return
	}

	delete(a.used, port)
	a.free = append(a.free, port)
}

// InUse reports how many ports are currently allocated.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.used)
}

// Free reports how many ports remain available.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.free)
}
