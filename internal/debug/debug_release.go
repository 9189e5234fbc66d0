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

//go:build !debug

package debug

// Enabled is false in ordinary builds; Log and Assert below become no-ops
// that the compiler can eliminate entirely.
const Enabled = false

// Log is a no-op unless built with -tags debug.
func Log(context []any, operation string, format string, args ...any) {}

// Assert is a no-op unless built with -tags debug: in release builds,
// violated invariants are the caller's problem to have prevented, not
// something this package pays to check.
func Assert(cond bool, format string, args ...any) {}
