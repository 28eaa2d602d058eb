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

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateDevice is returned when a context already exists for the
	// same physical device. Reconnection does not replace the old context;
	// callers remove it explicitly first.
	ErrDuplicateDevice = errors.New("device already has a live context")

	// ErrContextNotFound is returned for operations referencing a context
	// id that is not in the live map.
	ErrContextNotFound = errors.New("context not found")

	// ErrNoActiveContext is returned when an operation defaults to the
	// active context and none is active.
	ErrNoActiveContext = errors.New("no active context")

	// ErrUnsupportedOperation is returned when a backend lacks the
	// capability for a requested operation. Never retried.
	ErrUnsupportedOperation = errors.New("operation not supported by backend")

	// ErrPortsExhausted is returned by the allocator when the configured
	// port range has no free ports left. Reported, never retried.
	ErrPortsExhausted = errors.New("no ports left in range")

	// ErrQueueOverflow is returned when a per-context request queue would
	// exceed its pending limit.
	ErrQueueOverflow = errors.New("request queue limit exceeded")

	// ErrRequestCancelled marks queue results resolved by CancelAll.
	ErrRequestCancelled = errors.New("request cancelled")
)

// ConnectionError wraps transient unreachability of a device. Polling
// retries these a bounded number of times; they are never fatal to a loop.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s unreachable: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionFailedError means the device was reachable but rejected or
// timed out a supported operation.
type ExecutionFailedError struct {
	Op  string
	Err error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("device rejected %s: %v", e.Op, e.Err)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Err }

// IsRetryable reports whether an error may be retried under a bounded
// retry policy. Capability and validation errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnsupportedOperation) ||
		errors.Is(err, ErrPortsExhausted) ||
		errors.Is(err, ErrRequestCancelled) {
		return false
	}

	return true
}
