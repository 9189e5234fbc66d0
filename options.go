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
	"buf.build/go/minipb/internal/decode"
	"buf.build/go/minipb/internal/json"
)

// UnmarshalOption configures [Type.Unmarshal] and [Type.UnmarshalJSON].
type UnmarshalOption struct {
	apply func(*unmarshalOptions)
}

type unmarshalOptions struct {
	decode decode.Options
	json   json.Options
}

func resolveOptions(opts []UnmarshalOption) unmarshalOptions {
	o := unmarshalOptions{decode: decode.DefaultOptions()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// WithMaxDepth sets the maximum message/group nesting depth an unmarshal
// will follow before failing with [ErrRecursionDepth]. Only meaningful
// for wire-format unmarshaling; the JSON parser's recursion depth is
// bounded by the Go call stack instead (see [Type.UnmarshalJSON]'s doc).
func WithMaxDepth(depth int) UnmarshalOption {
	return UnmarshalOption{func(o *unmarshalOptions) { o.decode.MaxDepth = depth }}
}

// WithAllowPartial disables the check that every proto2 `required` field,
// anywhere in the decoded message tree, was populated. Only meaningful
// for wire-format unmarshaling; JSON has no required-field concept.
func WithAllowPartial(allow bool) UnmarshalOption {
	return UnmarshalOption{func(o *unmarshalOptions) { o.decode.AllowPartial = allow }}
}

// WithDiscardUnknown discards fields the compiled [Type] doesn't
// recognize instead of preserving them for round-tripping. Applies to
// both wire-format and JSON unmarshaling.
func WithDiscardUnknown(discard bool) UnmarshalOption {
	return UnmarshalOption{func(o *unmarshalOptions) {
		o.decode.DiscardUnknown = discard
		o.json.DiscardUnknown = discard
	}}
}
