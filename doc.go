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

// Package minipb is a compact Protobuf runtime: compile a descriptor into
// a [Type] once, then decode many messages of that type from either wire
// format or JSON without generated code.
//
// Decoding allocates the message tree and its repeated-field arrays on
// one [Arena]. Wire-format string and bytes fields are not copied: they
// alias the input buffer, which the caller keeps alive and unmodified for
// as long as the messages are used. JSON string contents are copied into
// one buffer on the same Arena. Freeing that arena invalidates every
// [Message] decoded onto it; there is no per-message finalizer or
// garbage collection to rely on instead.
//
// # Support status
//
// This package does not implement [protoreflect.Message]: that interface
// also requires descriptor-driven reflection over arbitrary message
// types, which is out of scope for a mini-table runtime compiled against
// one fixed layout. Instead, [Message] exposes typed Get/Set accessors
// keyed directly by [protoreflect.FieldDescriptor] -- Set, Clear, and the
// Append* family are the mutating duals of the Get family, and
// [Message.Marshal] re-serializes a message (decoded, mutated, or built
// from scratch via [Type.New]) back to wire format, replaying any
// unrecognized fields a decode captured. There is still no extension
// resolution: unrecognized field numbers, including ones in an extension
// range, are preserved as unknown bytes rather than decoded.
package minipb
