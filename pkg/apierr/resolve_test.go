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

package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/twmb/franz-go/pkg/kerr"
)

func TestResolveDirectKinds(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{InvalidArgument, http.StatusBadRequest},
		{AlreadyExists, http.StatusConflict},
		{NotFound, http.StatusNotFound},
		{Internal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		res := Resolve(New(tc.kind, "boom"))
		if res.Status != tc.status || res.Kind != tc.kind {
			t.Fatalf("%s: unexpected resolution %+v", tc.kind, res)
		}
		if res.Message != "boom" {
			t.Fatalf("%s: unexpected message %q", tc.kind, res.Message)
		}
	}
}

func TestResolveWalksPastUnroutedKinds(t *testing.T) {
	inner := New(NotFound, "topic does not exist: orders")
	err := Wrap(ConsumeFailed, fmt.Errorf("open stream: %w", inner), "read orders")
	res := Resolve(err)
	if res.Status != http.StatusNotFound || res.Kind != NotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
	if res.Message != "read orders: open stream: topic does not exist: orders" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestResolveUnroutedKindFallsBackTo500(t *testing.T) {
	err := Wrap(PublishFailed, errors.New("connection reset"), "publish to orders")
	res := Resolve(err)
	if res.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Status)
	}
	if res.Kind != PublishFailed {
		t.Fatalf("expected publish_failed kind, got %s", res.Kind)
	}
	if !IsKind(err, PublishFailed) {
		t.Fatalf("expected IsKind to report publish_failed")
	}
}

func TestResolveUntaggedIsInternal(t *testing.T) {
	res := Resolve(fmt.Errorf("wrapped: %w", errors.New("plain")))
	if res.Status != http.StatusInternalServerError || res.Kind != Internal {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if res := Resolve(nil); res.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for nil, got %d", res.Status)
	}
}

func TestResolveKafkaErrorCodes(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{kerr.TopicAlreadyExists, http.StatusConflict},
		{kerr.UnknownTopicOrPartition, http.StatusNotFound},
		{kerr.InvalidTopicException, http.StatusBadRequest},
		{kerr.InvalidPartitions, http.StatusBadRequest},
		{kerr.RequestTimedOut, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := Wrap(PublishFailed, fmt.Errorf("produce: %w", tc.err), "publish")
		if got := Resolve(err).Status; got != tc.status {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.status, got)
		}
	}
}

func TestResolveDecodingFailures(t *testing.T) {
	var v struct{ Topic string }
	jsonErr := json.Unmarshal([]byte("{bad"), &v)
	if jsonErr == nil {
		t.Fatalf("expected json error")
	}
	if got := Resolve(fmt.Errorf("decode body: %w", jsonErr)).Status; got != http.StatusBadRequest {
		t.Fatalf("expected 400 for syntax error, got %d", got)
	}
	if got := Resolve(&http.MaxBytesError{Limit: 10}).Status; got != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", got)
	}
	if got := Resolve(MalformedBody(errors.New("unexpected EOF"))).Status; got != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", got)
	}
}

func TestResolveJoinedErrors(t *testing.T) {
	joined := errors.Join(errors.New("first"), New(AlreadyExists, "topic exists"))
	if got := Resolve(joined).Status; got != http.StatusConflict {
		t.Fatalf("expected 409 from joined chain, got %d", got)
	}
	var merr *multierror.Error
	merr = multierror.Append(merr, errors.New("close stream"), New(NotFound, "gone"))
	if got := Resolve(merr).Status; got != http.StatusNotFound {
		t.Fatalf("expected 404 from multierror chain, got %d", got)
	}
}

type cyclicError struct {
	next error
}

func (c *cyclicError) Error() string { return "cycle" }
func (c *cyclicError) Unwrap() error { return c.next }

func TestResolveTerminatesOnCyclicChain(t *testing.T) {
	a := &cyclicError{}
	b := &cyclicError{next: a}
	a.next = b
	res := Resolve(a)
	if res.Status != http.StatusInternalServerError || res.Kind != Internal {
		t.Fatalf("expected internal for cyclic chain, got %+v", res)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(Internal, nil, "noop"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(NotFound, "topic does not exist: x"))
	if !errors.Is(err, &Error{Kind: NotFound}) {
		t.Fatalf("expected errors.Is to match kind")
	}
	if errors.Is(err, &Error{Kind: AlreadyExists}) {
		t.Fatalf("unexpected kind match")
	}
}
