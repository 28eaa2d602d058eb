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

package journal

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmux/printmux/pkg/eventbus"
	"github.com/printmux/printmux/pkg/logger"
	"github.com/printmux/printmux/pkg/models"
)

func readAll(t *testing.T, path string, filter Filter) []Record {
	t.Helper()

	r, err := NewFilteredReader(path, filter)
	require.NoError(t, err)

	defer func() { require.NoError(t, r.Close()) }()

	var records []Record

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records
		}

		require.NoError(t, err)

		records = append(records, rec)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		Type:      "polling.data",
		ContextID: "ctx-a",
		State:     "printing",
		Progress:  42.5,
	}

	data, err := EncodeRecord(rec)
	require.NoError(t, err)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.ContextID, got.ContextID)
	assert.Equal(t, rec.Progress, got.Progress)
	assert.True(t, rec.Timestamp.Equal(got.Timestamp), "nanosecond precision preserved")
}

func TestDeterministicEncoding(t *testing.T) {
	rec := Record{Timestamp: time.Unix(1700000000, 0).UTC(), Type: "context.created", ContextID: "ctx-a"}

	a, err := EncodeRecord(rec)
	require.NoError(t, err)
	b, err := EncodeRecord(rec)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFileJournalAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	j, err := Open(path)
	require.NoError(t, err)

	j.Write(Record{Type: "context.created", ContextID: "ctx-a"})
	j.Write(Record{Type: "context.switched", ContextID: "ctx-a"})
	require.NoError(t, j.Close())

	// Reopen appends rather than truncating.
	j, err = Open(path)
	require.NoError(t, err)
	j.Write(Record{Type: "context.removed", ContextID: "ctx-a"})
	require.NoError(t, j.Close())

	records := readAll(t, path, Filter{})
	require.Len(t, records, 3)
	assert.Equal(t, "context.created", records[0].Type)
	assert.Equal(t, "context.removed", records[2].Type)
	assert.False(t, records[0].Timestamp.IsZero(), "write stamps missing timestamps")
}

func TestWriteAfterCloseIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	j.Write(Record{Type: "context.created"})

	assert.Empty(t, readAll(t, path, Filter{}))
}

func TestAttachRecordsBusEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	j, err := Open(path)
	require.NoError(t, err)

	bus := eventbus.NewBus(logger.NewTestLogger())
	j.Attach(bus)

	bus.Publish(eventbus.Event{Type: eventbus.TypeContextCreated, ContextID: "ctx-a"})
	bus.Publish(eventbus.Event{
		Type:      eventbus.TypePollingData,
		ContextID: "ctx-a",
		Snapshot: &models.StatusSnapshot{
			State: models.StatePrinting,
			Job:   &models.JobStatus{Name: "benchy.gcode", Progress: 12.5},
		},
	})
	bus.Publish(eventbus.Event{
		Type:      eventbus.TypePollingError,
		ContextID: "ctx-a",
		Error:     errors.New("connection refused"),
	})

	require.NoError(t, j.Close())

	records := readAll(t, path, Filter{})
	require.Len(t, records, 3)

	assert.Equal(t, "context.created", records[0].Type)

	assert.Equal(t, "printing", records[1].State)
	assert.Equal(t, 12.5, records[1].Progress)
	assert.True(t, records[1].HasTelemetry())

	assert.Equal(t, "connection refused", records[2].Error)
	assert.False(t, records[2].HasTelemetry())
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	j, err := Open(path)
	require.NoError(t, err)

	j.Write(Record{Type: "context.created", ContextID: "ctx-a"})
	j.Write(Record{Type: "context.created", ContextID: "ctx-b"})
	j.Write(Record{Type: "context.removed", ContextID: "ctx-a"})
	require.NoError(t, j.Close())

	byContext := readAll(t, path, Filter{ContextID: "ctx-a"})
	require.Len(t, byContext, 2)

	byType := readAll(t, path, Filter{Type: "context.removed"})
	require.Len(t, byType, 1)
	assert.Equal(t, "ctx-a", byType[0].ContextID)
}
