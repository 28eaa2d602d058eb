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

// Package streamproxy relays camera frames from a printer backend to
// WebSocket viewers. Each context with a camera gets its own proxy on
// its allocated port; the camera connection is opened only while at
// least one viewer is connected.
package streamproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/printmux/printmux/pkg/logger"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 32 * 1024
	frameBufferSize = 32 * 1024
	writeTimeout    = 5 * time.Second
)

var errProxyClosed = errors.New("streamproxy: proxy closed")

// SourceFunc opens the upstream frame source, typically a backend's
// OpenCameraStream.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

// Proxy serves one context's camera stream over WebSocket at /stream.
type Proxy struct {
	contextID string
	source    SourceFunc
	logger    logger.Logger

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	pumping bool
	closed  bool

	wg sync.WaitGroup
}

// NewProxy binds the proxy to the port and starts serving. Port 0
// binds an ephemeral port, used by tests; Addr reports the bound
// address either way.
func NewProxy(contextID string, port int, source SourceFunc, log logger.Logger) (*Proxy, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("streamproxy: bind port %d: %w", port, err)
	}

	p := &Proxy{
		contextID: contextID,
		source:    source,
		logger:    log.WithComponent("streamproxy"),
		listener:  ln,
		clients:   make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", p.handleStream)

	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		if serveErr := p.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			p.logger.Error().Err(serveErr).Str("context_id", contextID).Msg("Stream proxy server exited")
		}
	}()

	return p, nil
}

// Addr returns the bound listen address.
func (p *Proxy) Addr() string {
	return p.listener.Addr().String()
}

// Port returns the bound TCP port.
func (p *Proxy) Port() int {
	if addr, ok := p.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// ClientCount reports the number of connected viewers.
func (p *Proxy) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.clients)
}

func (p *Proxy) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	if addErr := p.addClient(conn); addErr != nil {
		_ = conn.Close()
		return
	}

	p.logger.Debug().
		Str("context_id", p.contextID).
		Str("remote_addr", r.RemoteAddr).
		Msg("Viewer connected")

	// Block on reads to detect disconnect; viewers never send data we
	// care about.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			break
		}
	}

	p.removeClient(conn)
}

func (p *Proxy) addClient(conn *websocket.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errProxyClosed
	}

	p.clients[conn] = struct{}{}

	if !p.pumping {
		p.pumping = true
		p.wg.Add(1)

		go p.pump()
	}

	return nil
}

func (p *Proxy) removeClient(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.clients[conn]; ok {
		delete(p.clients, conn)
		_ = conn.Close()
	}
}

// pump copies frames from the camera source to every viewer. It exits
// when the source fails or the last viewer leaves; a later viewer gets
// a fresh source.
func (p *Proxy) pump() {
	defer p.wg.Done()

	src, err := p.source(context.Background())
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("context_id", p.contextID).
			Msg("Camera source unavailable")

		p.endPump(true)

		return
	}

	defer func() { _ = src.Close() }()

	buf := make([]byte, frameBufferSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			p.broadcast(buf[:n])
		}

		if readErr != nil {
			p.logger.Debug().
				Err(readErr).
				Str("context_id", p.contextID).
				Msg("Camera source ended")

			p.endPump(true)

			return
		}

		if p.stopIfIdle() {
			return
		}
	}
}

// endPump clears the pumping flag; a source failure also disconnects
// the viewers so they notice instead of hanging on a silent stream.
func (p *Proxy) endPump(dropClients bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pumping = false

	if dropClients {
		for conn := range p.clients {
			_ = conn.Close()
			delete(p.clients, conn)
		}
	}
}

// stopIfIdle ends the pump only if no viewer slipped in since the last
// frame; otherwise the pump keeps running for them.
func (p *Proxy) stopIfIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.clients) > 0 {
		return false
	}

	p.pumping = false

	return true
}

func (p *Proxy) broadcast(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for conn := range p.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			_ = conn.Close()
			delete(p.clients, conn)
		}
	}
}

// Close stops serving and disconnects all viewers.
func (p *Proxy) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil
	}

	p.closed = true

	for conn := range p.clients {
		_ = conn.Close()
		delete(p.clients, conn)
	}
	p.mu.Unlock()

	err := p.server.Close()

	p.wg.Wait()

	return err
}
