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

package models

import "time"

// PrinterState is the coarse device state reported in status snapshots.
type PrinterState string

const (
	StateIdle     PrinterState = "idle"
	StateHeating  PrinterState = "heating"
	StatePrinting PrinterState = "printing"
	StatePaused   PrinterState = "paused"
	StateError    PrinterState = "error"
	StateOffline  PrinterState = "offline"
)

// JobStatus describes the job a printer is currently working on.
type JobStatus struct {
	Name          string   `json:"name"`
	Progress      float64  `json:"progress"` // 0..100
	LayerCurrent  int      `json:"layer_current,omitempty"`
	LayerTotal    int      `json:"layer_total,omitempty"`
	TimeRemaining Duration `json:"time_remaining,omitempty"`
}

// MaterialSlot is one slot of a multi-material unit. Single-material
// printers report exactly one slot.
type MaterialSlot struct {
	Index     int     `json:"index"`
	Material  string  `json:"material,omitempty"`
	Color     string  `json:"color,omitempty"`
	Loaded    bool    `json:"loaded"`
	Remaining float64 `json:"remaining,omitempty"` // percent, 0 when unknown
}

// StatusSnapshot is the last-known state of one printer, produced by a
// polling tick and cached on its context.
type StatusSnapshot struct {
	ContextID    string         `json:"context_id"`
	State        PrinterState   `json:"state"`
	Job          *JobStatus     `json:"job,omitempty"`
	NozzleTemp   float64        `json:"nozzle_temp"`
	NozzleTarget float64        `json:"nozzle_target"`
	BedTemp      float64        `json:"bed_temp"`
	BedTarget    float64        `json:"bed_target"`
	Materials    []MaterialSlot `json:"materials,omitempty"`
	CollectedAt  time.Time      `json:"collected_at"`
}
