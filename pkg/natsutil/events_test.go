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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 10*time.Second, 100*time.Millisecond)

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestConnectCreatesStream(t *testing.T) {
	srv := runJetStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publisher, nc, err := Connect(ctx, srv.ClientURL(), "printmux-events")
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	require.NotNil(t, publisher)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "printmux-events")
	require.NoError(t, err)
	assert.Contains(t, stream.CachedInfo().Config.Subjects, "printmux.events.>")
}

func TestPublishEngineEvent(t *testing.T) {
	srv := runJetStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publisher, nc, err := Connect(ctx, srv.ClientURL(), "")
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	now := time.Now()

	err = publisher.PublishEngineEvent(ctx, eventbus.Event{
		Type:      eventbus.TypePollingData,
		ContextID: "ctx-a",
		Time:      now,
		Snapshot: &models.StatusSnapshot{
			State: models.StatePrinting,
			Job:   &models.JobStatus{Name: "benchy.gcode", Progress: 33},
		},
	})
	require.NoError(t, err)

	// Read the event back and check the CloudEvents envelope.
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	consumer, err := js.CreateOrUpdateConsumer(ctx, defaultStream, jetstream.ConsumerConfig{
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	require.NoError(t, err)

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	require.NoError(t, err)

	var got *nats.Msg

	for msg := range msgs.Messages() {
		got = &nats.Msg{Subject: msg.Subject(), Data: msg.Data()}

		require.NoError(t, msg.Ack())
	}

	require.NotNil(t, got, "expected one mirrored event")
	assert.Equal(t, "printmux.events.polling.data", got.Subject)

	var event models.CloudEvent

	require.NoError(t, json.Unmarshal(got.Data, &event))
	assert.Equal(t, "1.0", event.SpecVersion)
	assert.Equal(t, "printmux/engine", event.Source)
	assert.Equal(t, "io.printmux.polling.data", event.Type)
	assert.NotEmpty(t, event.ID)

	payload, err := json.Marshal(event.Data)
	require.NoError(t, err)

	var data EngineEventData

	require.NoError(t, json.Unmarshal(payload, &data))
	assert.Equal(t, "ctx-a", data.ContextID)
	assert.Equal(t, "printing", data.State)
	assert.Equal(t, float64(33), data.Progress)
}

func TestMirrorForwardsBusEvents(t *testing.T) {
	srv := runJetStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := eventbus.NewBus(logger.NewTestLogger())

	mirror, err := NewMirror(ctx, srv.ClientURL(), "printmux-events", bus, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(mirror.Close)

	bus.Publish(eventbus.Event{Type: eventbus.TypeContextCreated, ContextID: "ctx-a"})
	bus.Publish(eventbus.Event{
		Type:      eventbus.TypePollingError,
		ContextID: "ctx-a",
		Error:     errors.New("connection refused"),
	})

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)

	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stream, streamErr := js.Stream(ctx, "printmux-events")
		if streamErr != nil {
			return false
		}

		info, infoErr := stream.Info(ctx)

		return infoErr == nil && info.State.Msgs == 2
	}, 10*time.Second, 100*time.Millisecond, "both events mirrored")
}

func TestMirrorCloseIdempotent(t *testing.T) {
	srv := runJetStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := eventbus.NewBus(logger.NewTestLogger())

	mirror, err := NewMirror(ctx, srv.ClientURL(), "", bus, logger.NewTestLogger())
	require.NoError(t, err)

	mirror.Close()
	mirror.Close()

	// Publishing after close is harmless; the subscription is gone.
	bus.Publish(eventbus.Event{Type: eventbus.TypeContextCreated, ContextID: "ctx-a"})
}

func TestConnectBadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := Connect(ctx, "nats://127.0.0.1:1", "printmux-events")
	require.Error(t, err)
}
