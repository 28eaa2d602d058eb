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

package sim

import (
	"encoding/binary"
	"io"
	"sync"
	"time"
)

const (
	frameSize     = 256
	frameInterval = 33 * time.Millisecond
)

// frameReader produces synthetic camera frames at a fixed rate: each
// frame is a JPEG start-of-image marker, a sequence number, and padding.
type frameReader struct {
	mu     sync.Mutex
	seq    uint32
	buf    []byte
	closed chan struct{}
	once   sync.Once
}

func newFrameReader() io.ReadCloser {
	return &frameReader{closed: make(chan struct{})}
}

func (f *frameReader) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf) == 0 {
		select {
		case <-f.closed:
			return 0, io.EOF
		case <-time.After(frameInterval):
		}

		f.buf = f.nextFrame()
	}

	select {
	case <-f.closed:
		return 0, io.EOF
	default:
	}

	n := copy(p, f.buf)
	f.buf = f.buf[n:]

	return n, nil
}

func (f *frameReader) nextFrame() []byte {
	frame := make([]byte, frameSize)
	frame[0] = 0xFF
	frame[1] = 0xD8
	binary.BigEndian.PutUint32(frame[2:6], f.seq)
	f.seq++

	return frame
}

func (f *frameReader) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}
