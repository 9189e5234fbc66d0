// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package minipb

import (
	"errors"

	"buf.build/go/minipb/internal/decode"
)

// ErrCode classifies why a wire-format unmarshal failed. Use errors.Is
// against the values below, not a type switch: the concrete error type
// unmarshaling returns is not part of this package's compatibility
// guarantees.
type ErrCode = decode.ErrCode

// The error codes a wire-format unmarshal can fail with.
const (
	ErrTruncated      = decode.ErrTruncated
	ErrOverflow       = decode.ErrOverflow
	ErrRecursionDepth = decode.ErrRecursionDepth
	ErrMalformed      = decode.ErrMalformed
	ErrInvalidUTF8    = decode.ErrInvalidUTF8
)

// ErrRequiredFieldMissing is returned (wrapped) when a proto2 `required`
// field, in the message being unmarshaled or in any submessage it
// contains, was never populated, and [WithAllowPartial] was not given.
var ErrRequiredFieldMissing = errors.New("minipb: required field missing")

// Offseter is implemented by the errors this package's unmarshal
// functions return: both wire-format and JSON parse failures carry the
// input byte offset at which the problem was detected.
type Offseter interface {
	error
	Offset() int64
}

type offsetError struct {
	err    error
	offset int64
}

func (e *offsetError) Error() string { return e.err.Error() }
func (e *offsetError) Unwrap() error { return e.err }
func (e *offsetError) Offset() int64 { return e.offset }

var _ Offseter = (*offsetError)(nil)
