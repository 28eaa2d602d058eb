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

// ProtocolFamily identifies which protocol backend a device speaks.
type ProtocolFamily string

const (
	// FamilyLegacy covers printers speaking the single-channel legacy
	// protocol. Overlapping requests on the shared channel corrupt state,
	// so legacy backends are limited to one concurrent request.
	FamilyLegacy ProtocolFamily = "legacy"

	// FamilyDual covers modern printers exposing both a control channel
	// and a separate query channel.
	FamilyDual ProtocolFamily = "dual"

	// FamilyMultiMaterial covers modern printers with a multi-material
	// unit and per-slot state.
	FamilyMultiMaterial ProtocolFamily = "multimaterial"
)

// DeviceDetails carries everything the connection flow learned about a
// printer before asking for a context: where it lives, who it is, and
// enough protocol metadata to pick a backend family.
type DeviceDetails struct {
	Address         string         `json:"address"`
	Serial          string         `json:"serial"`
	Model           string         `json:"model,omitempty"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	AccessCode      string         `json:"access_code,omitempty"`
	Family          ProtocolFamily `json:"family,omitempty"`

	// Capability hints used for family detection when Family is unset.
	MaterialSlotCount int  `json:"material_slot_count,omitempty"`
	DualChannel       bool `json:"dual_channel,omitempty"`

	// HasCamera marks devices exposing a live stream; contexts for such
	// devices get a relay port from the allocator when one is available.
	HasCamera bool `json:"has_camera,omitempty"`

	// RequireStream makes context creation fail on port exhaustion
	// instead of degrading to a streamless context.
	RequireStream bool `json:"require_stream,omitempty"`
}

// ContextInfo is the read-only listing view of a live context.
type ContextInfo struct {
	ID           string         `json:"id"`
	Address      string         `json:"address"`
	Serial       string         `json:"serial"`
	Model        string         `json:"model,omitempty"`
	Family       ProtocolFamily `json:"family"`
	Active       bool           `json:"active"`
	StreamPort   int            `json:"stream_port,omitempty"`
	State        PrinterState   `json:"state"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// Command is a raw pass-through instruction for a backend.
type Command struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// JobRequest describes a print job start request.
type JobRequest struct {
	FileName string            `json:"file_name"`
	Options  map[string]string `json:"options,omitempty"`
}
