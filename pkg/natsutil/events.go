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

// Package natsutil mirrors engine events to NATS JetStream as
// CloudEvents for external UI collaborators. The mirror is optional
// and best-effort: publish failures are logged, never propagated.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/models"
)

const (
	eventSource      = "printmux/engine"
	eventTypePrefix  = "io.printmux."
	subjectPrefix    = "printmux.events."
	defaultSubjects  = subjectPrefix + ">"
	defaultStream    = "printmux-events"
	contentTypeJSON  = "application/json"
	cloudEventsSpecV = "1.0"
)

// EngineEventData is the CloudEvents data payload for engine events.
type EngineEventData struct {
	ContextID  string  `json:"context_id,omitempty"`
	PreviousID string  `json:"previous_id,omitempty"`
	State      string  `json:"state,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// EventPublisher publishes CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
}

// NewEventPublisher creates an EventPublisher for the stream.
func NewEventPublisher(js jetstream.JetStream, streamName string) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
	}
}

// PublishEngineEvent wraps a bus event in a CloudEvents envelope and
// publishes it under printmux.events.<type>.
func (p *EventPublisher) PublishEngineEvent(ctx context.Context, e eventbus.Event) error {
	data := EngineEventData{
		ContextID:  e.ContextID,
		PreviousID: e.PreviousID,
	}

	if e.Snapshot != nil {
		data.State = string(e.Snapshot.State)

		if e.Snapshot.Job != nil {
			data.Progress = e.Snapshot.Job.Progress
		}
	}

	if e.Error != nil {
		data.Error = e.Error.Error()
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	event := models.CloudEvent{
		SpecVersion:     cloudEventsSpecV,
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventTypePrefix + string(e.Type),
		DataContentType: contentTypeJSON,
		Subject:         subjectPrefix + string(e.Type),
		Time:            &ts,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal engine event: %w", err)
	}

	if _, err := p.js.Publish(ctx, event.Subject, eventBytes); err != nil {
		return fmt.Errorf("failed to publish engine event: %w", err)
	}

	return nil
}

// Connect creates a NATS connection with JetStream, ensures the event
// stream exists, and returns an EventPublisher bound to it.
func Connect(ctx context.Context, natsURL, streamName string, opts ...nats.Option) (*EventPublisher, *nats.Conn, error) {
	if streamName == "" {
		streamName = defaultStream
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, streamName); err != nil {
		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{defaultSubjects},
		}

		if _, err := js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}
	}

	return NewEventPublisher(js, streamName), nc, nil
}
