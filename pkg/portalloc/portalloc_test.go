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

package portalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmux/printmux/pkg/models"
)

func TestAllocateSequential(t *testing.T) {
	a, err := New(Config{First: 8000, Last: 8002})
	require.NoError(t, err)

	for want := 8000; want <= 8002; want++ {
		port, err := a.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, port)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a, err := New(Config{First: 8000, Last: 8001})
	require.NoError(t, err)

	_, err = a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	require.ErrorIs(t, err, models.ErrPortsExhausted)
}

func TestReleaseMakesPortReusable(t *testing.T) {
	a, err := New(Config{First: 8000, Last: 8000})
	require.NoError(t, err)

	port, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 8000, port)

	a.Release(port)

	again, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

func TestReleaseIsFIFO(t *testing.T) {
	a, err := New(Config{First: 8000, Last: 8002})
	require.NoError(t, err)

	p0, _ := a.Allocate()
	p1, _ := a.Allocate()
	p2, _ := a.Allocate()

	a.Release(p1)
	a.Release(p0)

	got, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p1, got, "first released port is reused first")

	got, err = a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p0, got)

	_ = p2
}

func TestNeverDoubleAllocates(t *testing.T) {
	a, err := New(Config{First: 8000, Last: 8004})
	require.NoError(t, err)

	seen := make(map[int]bool)

	for i := 0; i < 5; i++ {
		port, err := a.Allocate()
		require.NoError(t, err)
		require.False(t, seen[port], "port %d allocated twice", port)
		seen[port] = true
	}
}

func TestReleaseIgnoresUnknownPorts(t *testing.T) {
	a, err := New(Config{First: 8000, Last: 8001})
	require.NoError(t, err)

	a.Release(9999) // outside range
	a.Release(8000) // never allocated

	assert.Equal(t, 2, a.Free())
	assert.Equal(t, 0, a.InUse())
}

func TestInvalidRange(t *testing.T) {
	_, err := New(Config{First: 0, Last: 10})
	require.Error(t, err)

	_, err = New(Config{First: 9000, Last: 8000})
	require.Error(t, err)

	_, err = New(Config{First: 65000, Last: 70000})
	require.Error(t, err)
}
