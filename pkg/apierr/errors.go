// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apierr classifies gateway failures into a small, stable vocabulary
// of kinds and maps each kind onto an HTTP status.
package apierr

import (
	"fmt"
	"net/http"
)

// Kind tags a failure with its external meaning.
type Kind uint8

const (
	// Internal covers coordination-store connectivity loss and unexpected faults.
	Internal Kind = iota
	// InvalidArgument covers malformed topic names, partition counts and request bodies.
	InvalidArgument
	// AlreadyExists is returned when a topic name collides with a registered topic.
	AlreadyExists
	// NotFound is returned when a read references a topic that does not exist.
	NotFound
	// PublishFailed wraps producer faults. It has no status of its own.
	PublishFailed
	// ConsumeFailed wraps read session faults. It has no status of its own.
	ConsumeFailed
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case InvalidArgument:
		return "invalid_argument"
	case AlreadyExists:
		return "already_exists"
	case NotFound:
		return "not_found"
	case PublishFailed:
		return "publish_failed"
	case ConsumeFailed:
		return "consume_failed"
	default:
		return fmt.Sprintf("kind_%d", uint8(k))
	}
}

// Status returns the HTTP status for kinds that route directly. PublishFailed
// and ConsumeFailed report false so resolution keeps walking their causes.
func (k Kind) Status() (int, bool) {
	switch k {
	case InvalidArgument:
		return http.StatusBadRequest, true
	case AlreadyExists:
		return http.StatusConflict, true
	case NotFound:
		return http.StatusNotFound, true
	case Internal:
		return http.StatusInternalServerError, true
	default:
		return 0, false
	}
}

// Error is a failure carrying a Kind tag and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// New builds a tagged error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields a nil error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind exposes the tag to Resolve.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Is matches another *Error of the same kind, so sentinel-style comparisons
// such as errors.Is(err, &Error{Kind: NotFound}) work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// IsKind reports whether resolving err yields kind.
func IsKind(err error, kind Kind) bool {
	return Resolve(err).Kind == kind
}
