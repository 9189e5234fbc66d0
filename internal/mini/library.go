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

package mini

import "google.golang.org/protobuf/reflect/protoreflect"

// Library is the output of compiling a set of related message descriptors
// (a message and everything reachable from it through field references)
// into [Table]s. Given any one descriptor's table, the library can produce
// the table for any other descriptor compiled alongside it, which lets
// Subs entries be resolved without re-compiling shared sub-message types.
type Library struct {
	Root  *Table
	Types map[protoreflect.MessageDescriptor]*Table
}

// Table returns the compiled table for md, if md was compiled as part of
// this library.
func (l *Library) Table(md protoreflect.MessageDescriptor) (*Table, bool) {
	t, ok := l.Types[md]
	return t, ok
}
