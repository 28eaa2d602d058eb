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
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for selecting journal records. Empty
// fields match everything for that criterion.
type Filter struct {
	// ContextID filters by exact context id match.
	ContextID string

	// Type filters by event type string.
	Type string

	// TimeStart keeps records at or after this time.
	TimeStart *time.Time

	// TimeEnd keeps records before this time.
	TimeEnd *time.Time
}

func (f *Filter) matches(r Record) bool {
	if f.ContextID != "" && r.ContextID != f.ContextID {
		return false
	}

	if f.Type != "" && r.Type != f.Type {
		return false
	}

	if f.TimeStart != nil && r.Timestamp.Before(*f.TimeStart) {
		return false
	}

	if f.TimeEnd != nil && !r.Timestamp.Before(*f.TimeEnd) {
		return false
	}

	return true
}

// Reader streams records out of a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader reads all records from the journal at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader reads records matching the filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching record, io.EOF when exhausted.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}

			return Record{}, err
		}

		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
