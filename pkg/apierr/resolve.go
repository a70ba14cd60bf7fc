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
	"net/http"

	"github.com/twmb/franz-go/pkg/kerr"
)

// maxChainSteps bounds the cause walk so self-referential chains terminate.
const maxChainSteps = 32

// Resolution is the external view of a failure.
type Resolution struct {
	Kind    Kind
	Status  int
	Message string
}

type kinded interface {
	ErrorKind() Kind
}

// Resolve walks err and its causes looking for the first kind tag that maps
// to a status. Tags without a status (PublishFailed, ConsumeFailed) are
// remembered but skipped. When nothing routes, the result is a 500 carrying
// the first unrouted kind seen, or Internal.
func Resolve(err error) Resolution {
	if err == nil {
		return Resolution{Kind: Internal, Status: http.StatusInternalServerError, Message: "unknown error"}
	}
	fallback := Internal
	seenFallback := false
	stack := []error{err}
	for steps := 0; len(stack) > 0 && steps < maxChainSteps; steps++ {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil {
			continue
		}
		if kind, ok := tagOf(cur); ok {
			if status, routed := kind.Status(); routed {
				return Resolution{Kind: kind, Status: status, Message: err.Error()}
			}
			if !seenFallback {
				fallback = kind
				seenFallback = true
			}
		}
		switch u := cur.(type) {
		case interface{ Unwrap() []error }:
			causes := u.Unwrap()
			for i := len(causes) - 1; i >= 0; i-- {
				stack = append(stack, causes[i])
			}
		case interface{ WrappedErrors() []error }:
			causes := u.WrappedErrors()
			for i := len(causes) - 1; i >= 0; i-- {
				stack = append(stack, causes[i])
			}
		case interface{ Unwrap() error }:
			stack = append(stack, u.Unwrap())
		}
	}
	return Resolution{Kind: fallback, Status: http.StatusInternalServerError, Message: err.Error()}
}

// tagOf inspects a single link of the chain without unwrapping it.
func tagOf(err error) (Kind, bool) {
	switch e := err.(type) {
	case kinded:
		return e.ErrorKind(), true
	case *kerr.Error:
		return kindForKafkaCode(e.Code)
	case *http.MaxBytesError:
		return InvalidArgument, true
	case *json.SyntaxError, *json.UnmarshalTypeError:
		return InvalidArgument, true
	}
	return 0, false
}

// MalformedBody tags a body decoding failure as InvalidArgument.
func MalformedBody(err error) error {
	return Wrap(InvalidArgument, err, "request malformed")
}

func kindForKafkaCode(code int16) (Kind, bool) {
	switch code {
	case kerr.TopicAlreadyExists.Code:
		return AlreadyExists, true
	case kerr.UnknownTopicOrPartition.Code, kerr.UnknownTopicID.Code:
		return NotFound, true
	case kerr.InvalidTopicException.Code,
		kerr.InvalidPartitions.Code,
		kerr.InvalidReplicationFactor.Code,
		kerr.InvalidRequest.Code,
		kerr.InvalidConfig.Code,
		kerr.PolicyViolation.Code,
		kerr.MessageTooLarge.Code,
		kerr.RecordListTooLarge.Code:
		return InvalidArgument, true
	default:
		return 0, false
	}
}
