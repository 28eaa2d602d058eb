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

// Package engine is the coordination facade: one object owning the
// context manager, backend dispatcher, polling coordinator, request
// queues, port allocator, stream proxies, and the optional journal and
// NATS mirror. Callers talk to the engine; the parts talk to each
// other through the event bus.
package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/printmux/printmux/pkg/backend"
	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/fleet"
	"github.com/printmux/printmux/pkg/journal"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
	"github.com/printmux/printmux/pkg/natsutil"
	"github.com/printmux/printmux/pkg/poller"
	"github.com/printmux/printmux/pkg/portalloc"
	"github.com/printmux/printmux/pkg/reqqueue"
	"github.com/printmux/printmux/pkg/streamproxy"
)

// Engine implements lifecycle.Service.
type Engine struct {
	config Config
	logger logger.Logger

	bus        *eventbus.Bus
	dispatcher *backend.Dispatcher
	ports      *portalloc.Allocator
	fleet      *fleet.Manager
	poller     *poller.Coordinator
	queue      *reqqueue.Queue
	proxies    *streamproxy.Manager

	journal *journal.FileJournal
	mirror  *natsutil.Mirror
}

// New wires the engine. The dispatcher arrives with its backend
// factories already registered.
func New(cfg Config, dispatcher *backend.Dispatcher, log logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	log = log.WithComponent("engine")

	bus := eventbus.NewBus(log)

	ports, err := portalloc.New(cfg.Ports)
	if err != nil {
		return nil, err
	}

	coordinator, err := poller.NewCoordinator(cfg.Poller, bus, nil, log)
	if err != nil {
		return nil, err
	}

	queue, err := reqqueue.New(cfg.Queue, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		logger:     log,
		bus:        bus,
		dispatcher: dispatcher,
		ports:      ports,
		fleet:      fleet.NewManager(dispatcher, ports, bus, log),
		poller:     coordinator,
		queue:      queue,
		proxies:    streamproxy.NewManager(log),
	}, nil
}

// Start brings up the coordinator and the optional journal and mirror.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.poller.Start(ctx); err != nil {
		return err
	}

	if e.config.JournalPath != "" {
		j, err := journal.Open(e.config.JournalPath)
		if err != nil {
			return fmt.Errorf("engine: open journal: %w", err)
		}

		j.Attach(e.bus)
		e.journal = j
	}

	if e.config.NATS.URL != "" {
		m, err := natsutil.NewMirror(ctx, e.config.NATS.URL, e.config.NATS.Stream, e.bus, e.logger)
		if err != nil {
			return fmt.Errorf("engine: connect event mirror: %w", err)
		}

		e.mirror = m
	}

	e.logger.Info().Msg("Engine started")

	return nil
}

// Stop tears everything down: contexts (and with them ports, backends,
// loops, proxies), the queues, and the event sinks.
func (e *Engine) Stop(ctx context.Context) error {
	for _, info := range e.fleet.ListContexts() {
		if err := e.RemoveContext(ctx, info.ID); err != nil {
			e.logger.Warn().Err(err).Str("context_id", info.ID).Msg("Context removal failed during shutdown")
		}
	}

	if err := e.poller.Stop(ctx); err != nil {
		return err
	}

	if err := e.queue.Close(ctx); err != nil {
		return err
	}

	e.proxies.StopAll()

	if e.journal != nil {
		_ = e.journal.Close()
	}

	if e.mirror != nil {
		e.mirror.Close()
	}

	e.logger.Info().Msg("Engine stopped")

	return nil
}

// CreateContext registers the device, then attaches the machinery a
// live context needs: a request queue sized by the backend's
// concurrency class, a polling loop, and a stream proxy when a port
// was allocated.
func (e *Engine) CreateContext(ctx context.Context, details models.DeviceDetails) (string, error) {
	id, err := e.fleet.CreateContext(ctx, details)
	if err != nil {
		return "", err
	}

	c, ok := e.fleet.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrContextNotFound, id)
	}

	caps := c.Backend.Capabilities()

	if err := e.queue.RegisterContext(id, caps.MaxConcurrentRequests); err != nil {
		_ = e.fleet.RemoveContext(ctx, id)
		return "", err
	}

	// New contexts never start active; a SwitchContext promotes them.
	if err := e.poller.StartPolling(&pollTarget{c: c, dispatcher: e.dispatcher}, false); err != nil {
		e.queue.DropContext(id)
		_ = e.fleet.RemoveContext(ctx, id)

		return "", err
	}

	if c.StreamPort != 0 {
		if _, err := e.proxies.StartProxy(id, c.StreamPort, func(streamCtx context.Context) (io.ReadCloser, error) {
			return e.dispatcher.OpenCameraStream(streamCtx, c.Backend)
		}); err != nil {
			e.logger.Warn().
				Err(err).
				Str("context_id", id).
				Int("port", c.StreamPort).
				Msg("Stream proxy failed to start, context continues without live stream")
		}
	}

	return id, nil
}

// SwitchContext promotes the context; the polling coordinator observes
// the switch through the bus and inverts the affected loops' rates.
func (e *Engine) SwitchContext(ctx context.Context, id string) error {
	return e.fleet.SwitchContext(ctx, id)
}

// RemoveContext cancels the context's queued requests, stops its proxy,
// and removes it. The polling loop stops on the removal event.
func (e *Engine) RemoveContext(ctx context.Context, id string) error {
	e.queue.DropContext(id)
	e.proxies.StopProxy(id)

	return e.fleet.RemoveContext(ctx, id)
}

// ListContexts returns info for all live contexts.
func (e *Engine) ListContexts() []models.ContextInfo {
	return e.fleet.ListContexts()
}

// GetActiveContext returns the active context, if any.
func (e *Engine) GetActiveContext() (*fleet.Context, bool) {
	return e.fleet.GetActiveContext()
}

// Subscribe registers a bus handler for the given event types.
func (e *Engine) Subscribe(fn eventbus.Handler, types ...eventbus.Type) *eventbus.Subscription {
	return e.bus.Subscribe(fn, types...)
}

// StreamAddr returns the bound address of the context's stream proxy.
func (e *Engine) StreamAddr(id string) (string, bool) {
	p, ok := e.proxies.Get(id)
	if !ok {
		return "", false
	}

	return p.Addr(), true
}

// resolve maps an id to its context, defaulting to the active context
// when id is empty.
func (e *Engine) resolve(id string) (*fleet.Context, error) {
	if id == "" {
		c, ok := e.fleet.GetActiveContext()
		if !ok {
			return nil, models.ErrNoActiveContext
		}

		return c, nil
	}

	c, ok := e.fleet.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrContextNotFound, id)
	}

	return c, nil
}

// GetStatus returns the context's cached snapshot when available,
// falling back to a direct device query.
func (e *Engine) GetStatus(ctx context.Context, id string) (*models.StatusSnapshot, error) {
	c, err := e.resolve(id)
	if err != nil {
		return nil, err
	}

	if s := c.Snapshot(); s != nil {
		return s, nil
	}

	return e.dispatcher.GetStatus(ctx, c.Backend)
}

// SendCommand forwards a raw command to the context's backend.
func (e *Engine) SendCommand(ctx context.Context, id string, cmd models.Command) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	c.Touch()

	return e.dispatcher.SendCommand(ctx, c.Backend, cmd)
}

// StartJob starts a print job on the context.
func (e *Engine) StartJob(ctx context.Context, id string, req models.JobRequest) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	c.Touch()

	return e.dispatcher.StartJob(ctx, c.Backend, req)
}

// PauseJob pauses the context's running job.
func (e *Engine) PauseJob(ctx context.Context, id string) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	return e.dispatcher.PauseJob(ctx, c.Backend)
}

// ResumeJob resumes the context's paused job.
func (e *Engine) ResumeJob(ctx context.Context, id string) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	return e.dispatcher.ResumeJob(ctx, c.Backend)
}

// CancelJob cancels the context's job.
func (e *Engine) CancelJob(ctx context.Context, id string) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	return e.dispatcher.CancelJob(ctx, c.Backend)
}

// QueryMaterialSlots reads the context's material slots.
func (e *Engine) QueryMaterialSlots(ctx context.Context, id string) ([]models.MaterialSlot, error) {
	c, err := e.resolve(id)
	if err != nil {
		return nil, err
	}

	return e.dispatcher.QueryMaterialSlots(ctx, c.Backend)
}

// EnqueueRequest puts an arbitrary operation on the context's bounded
// queue.
func (e *Engine) EnqueueRequest(ctx context.Context, id, key string, priority int, op reqqueue.Operation) (<-chan reqqueue.Result, error) {
	c, err := e.resolve(id)
	if err != nil {
		return nil, err
	}

	return e.queue.Enqueue(ctx, c.ID, key, priority, op)
}

// FetchThumbnail loads a job thumbnail through the context's queue, so
// concurrent fetches respect the backend's concurrency class and
// duplicate fetches share one device round trip.
func (e *Engine) FetchThumbnail(ctx context.Context, id, jobName string) (<-chan reqqueue.Result, error) {
	c, err := e.resolve(id)
	if err != nil {
		return nil, err
	}

	return e.queue.Enqueue(ctx, c.ID, "thumbnail:"+jobName, 0, func(opCtx context.Context) (interface{}, error) {
		return e.dispatcher.FetchThumbnail(opCtx, c.Backend, jobName)
	})
}

// CancelRequests cancels the context's pending and in-flight queued
// requests; the queue stays usable.
func (e *Engine) CancelRequests(id string) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	e.queue.CancelAll(c.ID)

	return nil
}

// PausePolling suspends the context's status polling.
func (e *Engine) PausePolling(id string) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	e.poller.Pause(c.ID)

	return nil
}

// ResumePolling lifts a PausePolling.
func (e *Engine) ResumePolling(id string) error {
	c, err := e.resolve(id)
	if err != nil {
		return err
	}

	e.poller.Resume(c.ID)

	return nil
}

// pollTarget adapts a fleet context to the coordinator's Target.
type pollTarget struct {
	c          *fleet.Context
	dispatcher *backend.Dispatcher
}

func (t *pollTarget) TargetID() string { return t.c.ID }

func (t *pollTarget) FetchStatus(ctx context.Context) (*models.StatusSnapshot, error) {
	s, err := t.dispatcher.GetStatus(ctx, t.c.Backend)
	if err != nil {
		return nil, err
	}

	s.ContextID = t.c.ID

	if s.CollectedAt.IsZero() {
		s.CollectedAt = time.Now()
	}

	t.c.SetSnapshot(s)

	return s, nil
}
