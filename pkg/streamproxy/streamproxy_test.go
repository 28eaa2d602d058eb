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

package streamproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmux/printmux/pkg/backend/sim"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

func simSource(t *testing.T) SourceFunc {
	t.Helper()

	b, err := sim.New(models.DeviceDetails{Address: "10.0.0.1", DualChannel: true}, logger.NewTestLogger())
	require.NoError(t, err)

	return b.OpenCameraStream
}

func newTestProxy(t *testing.T, source SourceFunc) *Proxy {
	t.Helper()

	p, err := NewProxy("ctx-a", 0, source, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close() })

	return p
}

func dial(t *testing.T, p *Proxy) *websocket.Conn {
	t.Helper()

	url := fmt.Sprintf("ws://127.0.0.1:%d/stream", p.Port())

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestProxyRelaysFrames(t *testing.T) {
	p := newTestProxy(t, simSource(t))
	conn := dial(t, p)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	msgType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	require.NotEmpty(t, frame)

	// Frames carry the JPEG start-of-image marker.
	assert.Equal(t, byte(0xFF), frame[0])
	assert.Equal(t, byte(0xD8), frame[1])
}

func TestProxyFansOutToMultipleViewers(t *testing.T) {
	p := newTestProxy(t, simSource(t))

	a := dial(t, p)
	b := dial(t, p)

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.NotEmpty(t, frame)
	}
}

func TestSourceErrorDisconnectsViewers(t *testing.T) {
	failing := func(context.Context) (io.ReadCloser, error) {
		return nil, &models.ConnectionError{Address: "10.0.0.1", Err: errors.New("camera offline")}
	}

	p := newTestProxy(t, failing)
	conn := dial(t, p)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err, "viewer is disconnected rather than left hanging")
}

func TestSourceReopenedForLaterViewer(t *testing.T) {
	var opens atomic.Int32

	source := simSource(t)

	counting := func(ctx context.Context) (io.ReadCloser, error) {
		opens.Add(1)
		return source(ctx)
	}

	p := newTestProxy(t, counting)

	first := dial(t, p)
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Wait for the pump to notice the empty viewer set and wind down.
	require.Eventually(t, func() bool {
		return p.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	second := dial(t, p)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = second.ReadMessage()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, opens.Load(), int32(1))
}

func TestProxyCloseIdempotent(t *testing.T) {
	p, err := NewProxy("ctx-a", 0, simSource(t), logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(logger.NewTestLogger())
	t.Cleanup(m.StopAll)

	p, err := m.StartProxy("ctx-a", 0, simSource(t))
	require.NoError(t, err)

	got, ok := m.Get("ctx-a")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, err = m.StartProxy("ctx-a", 0, simSource(t))
	require.ErrorIs(t, err, errProxyExists)

	m.StopProxy("ctx-a")

	_, ok = m.Get("ctx-a")
	assert.False(t, ok)

	m.StopProxy("ctx-a") // idempotent
}

func TestManagerStopAll(t *testing.T) {
	m := NewManager(logger.NewTestLogger())

	for _, id := range []string{"a", "b"} {
		_, err := m.StartProxy(id, 0, simSource(t))
		require.NoError(t, err)
	}

	m.StopAll()

	_, ok := m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("b")
	assert.False(t, ok)
}
