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

// Package journal keeps an append-only CBOR record of engine events for
// offline inspection. Writing never disrupts the engine: encode and
// write errors are dropped.
package journal

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/models"
)

// Record is one journal entry. CBOR encoding uses integer keys for
// compactness.
type Record struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Type is the event type string ("context.created", ...).
	Type string `cbor:"2,keyasint"`

	// ContextID the event belongs to.
	ContextID string `cbor:"3,keyasint,omitempty"`

	// PreviousID is the demoted context on a switch.
	PreviousID string `cbor:"4,keyasint,omitempty"`

	// State is the printer state carried by polling.data events.
	State string `cbor:"5,keyasint,omitempty"`

	// Progress is the job progress percentage, when a job is running.
	Progress float64 `cbor:"6,keyasint,omitempty"`

	// Error is the stringified failure of polling.error events.
	Error string `cbor:"7,keyasint,omitempty"`
}

// recordFromEvent flattens a bus event into its journal form.
func recordFromEvent(e eventbus.Event) Record {
	r := Record{
		Timestamp:  e.Time,
		Type:       string(e.Type),
		ContextID:  e.ContextID,
		PreviousID: e.PreviousID,
	}

	if e.Snapshot != nil {
		r.State = string(e.Snapshot.State)

		if e.Snapshot.Job != nil {
			r.Progress = e.Snapshot.Job.Progress
		}
	}

	if e.Error != nil {
		r.Error = e.Error.Error()
	}

	return r
}

// FileJournal writes records to a file in CBOR format. It is safe for
// concurrent use from multiple goroutines.
type FileJournal struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	sub     *eventbus.Subscription
}

// Open creates a FileJournal appending to path. The file is created
// with permissions 0644 if it doesn't exist.
func Open(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &FileJournal{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Attach subscribes the journal to the bus so every engine event is
// recorded. Detached again by Close.
func (j *FileJournal) Attach(bus *eventbus.Bus) {
	j.sub = bus.Subscribe(func(e eventbus.Event) {
		j.Write(recordFromEvent(e))
	})
}

// Write appends one record. Encoding errors are ignored; journaling
// must not disrupt the engine.
func (j *FileJournal) Write(r Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	_ = j.encoder.Encode(r)
}

// Close detaches from the bus and closes the file. Safe to call more
// than once; Write calls after Close are silently ignored.
func (j *FileJournal) Close() error {
	if j.sub != nil {
		j.sub.Close()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.file.Close()
}

// HasTelemetry reports whether the record carries printer telemetry,
// for tooling that skips lifecycle records.
func (r Record) HasTelemetry() bool {
	return r.State != "" && r.State != string(models.StateOffline)
}
