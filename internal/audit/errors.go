/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent matches every *ValidationError.
	ErrInvalidEvent = errors.New("invalid audit event")

	// ErrNotFound is returned when an event id cannot be located.
	ErrNotFound = errors.New("audit event not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("audit store is closed")
)

// ValidationError rejects an event before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid audit event: %s", e.Reason)
	}
	return fmt.Sprintf("invalid audit event: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// WriteError reports that an event could not be durably stored.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write audit event to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports an unrecoverable failure to enumerate stored files.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read audit storage at %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ExportError reports a failed export. Sidecar names the error record
// written next to the intended output.
type ExportError struct {
	Format  ExportFormat
	Output  string
	Sidecar string
	Err     error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("failed to export audit events as %s to %s: %v", e.Format, e.Output, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
