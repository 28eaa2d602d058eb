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

// Package backend selects and drives protocol backends for printer
// families. The wire protocols themselves live behind the Backend
// interface; this package owns family detection, the factory registry,
// and capability-guarded routing.
package backend

import (
	"context"
	"io"

	"github.com/printmux/printmux/pkg/models"
)

// Backend is one context's protocol handle. Instances are created fresh
// per context, exclusively owned by it, and closed when the context is
// removed; they are never reused, even for the same physical device
// reconnecting.
type Backend interface {
	Capabilities() Capabilities

	GetStatus(ctx context.Context) (*models.StatusSnapshot, error)
	SendCommand(ctx context.Context, cmd models.Command) error
	StartJob(ctx context.Context, req models.JobRequest) error
	PauseJob(ctx context.Context) error
	ResumeJob(ctx context.Context) error
	CancelJob(ctx context.Context) error
	QueryMaterialSlots(ctx context.Context) ([]models.MaterialSlot, error)
	FetchThumbnail(ctx context.Context, jobName string) ([]byte, error)
	OpenCameraStream(ctx context.Context) (io.ReadCloser, error)

	Close() error
}

// DetectFamily picks the protocol family from device metadata: an
// explicit hint wins, then multi-material and dual-channel markers, and
// everything else is treated as legacy.
func DetectFamily(details models.DeviceDetails) models.ProtocolFamily {
	if details.Family != "" {
		return details.Family
	}

	if details.MaterialSlotCount > 1 {
		return models.FamilyMultiMaterial
	}

	if details.DualChannel {
		return models.FamilyDual
	}

	return models.FamilyLegacy
}
