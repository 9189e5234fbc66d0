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

// Package json implements the JSON text-format parser: a recursive
// descent reader over a [mini.Table] that resolves fields by JSON or
// proto name, synthesizes map entries, and decodes enum/base64 values.
package json

import "fmt"

// Error is a JSON-parse failure, carrying the byte offset the underlying
// tokenizer had reached when the failure was detected.
type Error struct {
	Offset  int64
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("minipb: json parse error at offset %d: %s", e.Offset, e.Message)
}

func errorf(offset int64, format string, args ...any) *Error {
	return &Error{Offset: offset, Message: fmt.Sprintf(format, args...)}
}
