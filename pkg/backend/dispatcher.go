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

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

var (
	ErrFamilyAlreadyRegistered = errors.New("backend family already registered")
	ErrNoFactoryForFamily      = errors.New("no backend factory registered for family")
)

// Factory builds a backend instance for one device.
type Factory func(details models.DeviceDetails, log logger.Logger) (Backend, error)

// Dispatcher is a pure factory plus routing table: it holds the family →
// factory registry and guards every routed operation with the backend's
// capability descriptor. It keeps no per-device state.
type Dispatcher struct {
	factories map[models.ProtocolFamily]Factory
	logger    logger.Logger
}

// NewDispatcher creates a dispatcher with an empty factory registry.
func NewDispatcher(log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Dispatcher{
		factories: make(map[models.ProtocolFamily]Factory),
		logger:    log,
	}
}

// RegisterFactory binds a family to its backend constructor. Factories
// are registered during process wiring, before any context exists.
func (d *Dispatcher) RegisterFactory(family models.ProtocolFamily, factory Factory) error {
	if _, ok := d.factories[family]; ok {
		return fmt.Errorf("%w: %s", ErrFamilyAlreadyRegistered, family)
	}

	d.factories[family] = factory

	return nil
}

// CreateBackend detects the device's family and builds a fresh backend
// instance for it.
func (d *Dispatcher) CreateBackend(details models.DeviceDetails) (Backend, error) {
	family := DetectFamily(details)

	factory, ok := d.factories[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactoryForFamily, family)
	}

	d.logger.Debug().
		Str("address", details.Address).
		Str("serial", details.Serial).
		Str("family", string(family)).
		Msg("Creating backend")

	b, err := factory(details, d.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", family, err)
	}

	return b, nil
}

// The routed operations below check the backend's advertised feature set
// first: a missing capability surfaces immediately as
// models.ErrUnsupportedOperation and is never retried, while a failure
// from a supported operation comes back as the backend's own error
// (typically *models.ExecutionFailedError or *models.ConnectionError).

func (d *Dispatcher) GetStatus(ctx context.Context, b Backend) (*models.StatusSnapshot, error) {
	if err := require(b, CapabilityStatus, "getStatus"); err != nil {
		return nil, err
	}

	return b.GetStatus(ctx)
}

func (d *Dispatcher) SendCommand(ctx context.Context, b Backend, cmd models.Command) error {
	if err := require(b, CapabilityJobControl, "sendCommand"); err != nil {
		return err
	}

	return b.SendCommand(ctx, cmd)
}

func (d *Dispatcher) StartJob(ctx context.Context, b Backend, req models.JobRequest) error {
	if err := require(b, CapabilityJobControl, "startJob"); err != nil {
		return err
	}

	return b.StartJob(ctx, req)
}

func (d *Dispatcher) PauseJob(ctx context.Context, b Backend) error {
	if err := require(b, CapabilityJobControl, "pauseJob"); err != nil {
		return err
	}

	return b.PauseJob(ctx)
}

func (d *Dispatcher) ResumeJob(ctx context.Context, b Backend) error {
	if err := require(b, CapabilityJobControl, "resumeJob"); err != nil {
		return err
	}

	return b.ResumeJob(ctx)
}

func (d *Dispatcher) CancelJob(ctx context.Context, b Backend) error {
	if err := require(b, CapabilityJobControl, "cancelJob"); err != nil {
		return err
	}

	return b.CancelJob(ctx)
}

func (d *Dispatcher) QueryMaterialSlots(ctx context.Context, b Backend) ([]models.MaterialSlot, error) {
	if err := require(b, CapabilityMaterialSlots, "queryMaterialSlots"); err != nil {
		return nil, err
	}

	return b.QueryMaterialSlots(ctx)
}

func (d *Dispatcher) FetchThumbnail(ctx context.Context, b Backend, jobName string) ([]byte, error) {
	if err := require(b, CapabilityThumbnails, "fetchThumbnail"); err != nil {
		return nil, err
	}

	return b.FetchThumbnail(ctx, jobName)
}

func (d *Dispatcher) OpenCameraStream(ctx context.Context, b Backend) (io.ReadCloser, error) {
	if err := require(b, CapabilityCameraStream, "openCameraStream"); err != nil {
		return nil, err
	}

	return b.OpenCameraStream(ctx)
}

func require(b Backend, capability Capability, op string) error {
	if !b.Capabilities().Has(capability) {
		return fmt.Errorf("%s: %w", op, models.ErrUnsupportedOperation)
	}

	return nil
}
