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

// Package sim provides simulated printer backends for all three protocol
// families. The daemon's -simulate mode and the integration-style tests
// run against these; they are also the reference for backend
// implementers.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/printmux/printmux/pkg/backend"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

var errBackendClosed = errors.New("backend closed")

const (
	progressPerPoll = 2.5 // percent of job progress added per status fetch
	tempStep        = 15.0
)

// Printer is a deterministic in-memory printer. Job progress advances a
// fixed step per status fetch and temperatures approach their targets,
// so tests can assert exact snapshots.
type Printer struct {
	mu      sync.Mutex
	details models.DeviceDetails
	caps    backend.Capabilities
	log     logger.Logger

	state        models.PrinterState
	job          *models.JobStatus
	nozzle       float64
	nozzleTarget float64
	bed          float64
	bedTarget    float64
	slots        []models.MaterialSlot
	closed       bool

	// failure injection for tests
	statusErr    error
	thumbnailErr error
	failCount    int
	opDelay      time.Duration

	// concurrency observation for queue tests
	inflight    int
	maxInflight int
}

// New builds a simulated backend whose family is detected from details.
func New(details models.DeviceDetails, log logger.Logger) (backend.Backend, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	family := backend.DetectFamily(details)

	slotCount := details.MaterialSlotCount
	if slotCount < 1 {
		slotCount = 1
	}

	slots := make([]models.MaterialSlot, 0, slotCount)
	for i := 0; i < slotCount; i++ {
		slots = append(slots, models.MaterialSlot{
			Index:     i,
			Material:  "PLA",
			Color:     fmt.Sprintf("#%02x%02x%02x", 40*i%256, 80*i%256, 120*i%256),
			Loaded:    true,
			Remaining: 100,
		})
	}

	return &Printer{
		details: details,
		caps:    backend.CapabilitiesForFamily(family),
		log:     log.WithComponent("sim-backend"),
		state:   models.StateIdle,
		bed:     22,
		nozzle:  22,
		slots:   slots,
	}, nil
}

// RegisterAll registers the simulated factory for every protocol family.
func RegisterAll(d *backend.Dispatcher) error {
	families := []models.ProtocolFamily{
		models.FamilyLegacy,
		models.FamilyDual,
		models.FamilyMultiMaterial,
	}

	for _, family := range families {
		if err := d.RegisterFactory(family, New); err != nil {
			return err
		}
	}

	return nil
}

func (p *Printer) Capabilities() backend.Capabilities {
	return p.caps
}

func (p *Printer) GetStatus(ctx context.Context) (*models.StatusSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &models.ConnectionError{Address: p.details.Address, Err: errBackendClosed}
	}

	if p.statusErr != nil && p.failCount != 0 {
		if p.failCount > 0 {
			p.failCount--
		}

		return nil, p.statusErr
	}

	p.advanceLocked()

	snapshot := &models.StatusSnapshot{
		State:        p.state,
		NozzleTemp:   p.nozzle,
		NozzleTarget: p.nozzleTarget,
		BedTemp:      p.bed,
		BedTarget:    p.bedTarget,
		CollectedAt:  time.Now(),
	}

	if p.job != nil {
		jobCopy := *p.job
		snapshot.Job = &jobCopy
	}

	if p.caps.Has(backend.CapabilityMaterialSlots) {
		snapshot.Materials = append([]models.MaterialSlot(nil), p.slots...)
	}

	return snapshot, nil
}

// advanceLocked moves the simulation one step: temperatures approach
// their targets, jobs gain progress and finish at 100%.
func (p *Printer) advanceLocked() {
	p.nozzle = approach(p.nozzle, p.nozzleTarget)
	p.bed = approach(p.bed, p.bedTarget)

	if p.state == models.StateHeating && p.nozzle >= p.nozzleTarget && p.bed >= p.bedTarget {
		p.state = models.StatePrinting
	}

	if p.state == models.StatePrinting && p.job != nil {
		p.job.Progress += progressPerPoll
		if p.job.Progress >= 100 {
			p.job.Progress = 100
			p.state = models.StateIdle
			p.job = nil
			p.nozzleTarget = 0
			p.bedTarget = 0
		}
	}
}

func approach(current, target float64) float64 {
	if current < target {
		current += tempStep
		if current > target {
			current = target
		}
	} else if current > target {
		current -= tempStep
		if current < target {
			current = target
		}
	}

	return current
}

func (p *Printer) SendCommand(ctx context.Context, cmd models.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &models.ConnectionError{Address: p.details.Address, Err: errBackendClosed}
	}

	if cmd.Name == "" {
		return &models.ExecutionFailedError{Op: "sendCommand", Err: errors.New("empty command")}
	}

	p.log.Debug().Str("command", cmd.Name).Msg("Command accepted")

	return nil
}

func (p *Printer) StartJob(ctx context.Context, req models.JobRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &models.ConnectionError{Address: p.details.Address, Err: errBackendClosed}
	}

	if p.state == models.StatePrinting || p.state == models.StateHeating {
		return &models.ExecutionFailedError{Op: "startJob", Err: errors.New("job already running")}
	}

	p.state = models.StateHeating
	p.nozzleTarget = 215
	p.bedTarget = 60
	p.job = &models.JobStatus{Name: req.FileName}

	return nil
}

func (p *Printer) PauseJob(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.StatePrinting {
		return &models.ExecutionFailedError{Op: "pauseJob", Err: errors.New("no running job")}
	}

	p.state = models.StatePaused

	return nil
}

func (p *Printer) ResumeJob(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.StatePaused {
		return &models.ExecutionFailedError{Op: "resumeJob", Err: errors.New("no paused job")}
	}

	p.state = models.StatePrinting

	return nil
}

func (p *Printer) CancelJob(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.job == nil {
		return &models.ExecutionFailedError{Op: "cancelJob", Err: errors.New("no job to cancel")}
	}

	p.job = nil
	p.state = models.StateIdle
	p.nozzleTarget = 0
	p.bedTarget = 0

	return nil
}

func (p *Printer) QueryMaterialSlots(ctx context.Context) ([]models.MaterialSlot, error) {
	if !p.caps.Has(backend.CapabilityMaterialSlots) {
		return nil, fmt.Errorf("queryMaterialSlots: %w", models.ErrUnsupportedOperation)
	}

	if err := p.trackExpensive(ctx); err != nil {
		return nil, err
	}
	defer p.untrack()

	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]models.MaterialSlot(nil), p.slots...), nil
}

func (p *Printer) FetchThumbnail(ctx context.Context, jobName string) ([]byte, error) {
	if err := p.trackExpensive(ctx); err != nil {
		return nil, err
	}
	defer p.untrack()

	p.mu.Lock()
	thumbErr := p.thumbnailErr
	p.mu.Unlock()

	if thumbErr != nil {
		return nil, thumbErr
	}

	// Deterministic fake PNG payload.
	return append([]byte("\x89PNG\r\n\x1a\n"), []byte(jobName)...), nil
}

func (p *Printer) OpenCameraStream(ctx context.Context) (io.ReadCloser, error) {
	if !p.caps.Has(backend.CapabilityCameraStream) {
		return nil, fmt.Errorf("openCameraStream: %w", models.ErrUnsupportedOperation)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &models.ConnectionError{Address: p.details.Address, Err: errBackendClosed}
	}

	return newFrameReader(), nil
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

// trackExpensive simulates a slow device query while recording how many
// run at once, so tests can verify queue concurrency ceilings.
func (p *Printer) trackExpensive(ctx context.Context) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return &models.ConnectionError{Address: p.details.Address, Err: errBackendClosed}
	}

	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}

	delay := p.opDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			p.untrack()
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if err := ctx.Err(); err != nil {
		p.untrack()
		return err
	}

	return nil
}

func (p *Printer) untrack() {
	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()
}

// MaxObservedConcurrency reports the most expensive requests this
// backend ever served at once.
func (p *Printer) MaxObservedConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.maxInflight
}

// SetStatusError makes the next n status fetches fail with err; n < 0
// means fail forever until cleared with SetStatusError(nil, 0).
func (p *Printer) SetStatusError(err error, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.statusErr = err
	p.failCount = n
}

// SetThumbnailError makes thumbnail fetches fail with err until cleared.
func (p *Printer) SetThumbnailError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.thumbnailErr = err
}

// SetOperationDelay makes expensive queries take d, to widen race
// windows in tests.
func (p *Printer) SetOperationDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opDelay = d
}
