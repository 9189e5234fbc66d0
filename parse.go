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
	"fmt"

	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/decode"
	"buf.build/go/minipb/internal/json"
	"buf.build/go/minipb/internal/mini"
)

// Unmarshal parses wire-format data into a new message of this Type,
// allocating it (and everything it transitively owns) on a.
//
// A decode error is an [Offseter]; compare its cause against
// [ErrTruncated] and friends with errors.Is. A missing required field is
// reported instead as an error wrapping [ErrRequiredFieldMissing], which
// carries no offset.
func (t *Type) Unmarshal(data []byte, a *Arena, opts ...UnmarshalOption) (*Message, error) {
	o := resolveOptions(opts)
	msg, err := decode.Unmarshal(data, a.impl, t.table, o.decode)
	if err != nil {
		de, _ := err.(*decode.Error)
		offset := int64(0)
		if de != nil {
			offset = int64(de.Offset)
		}
		return nil, &offsetError{err: err, offset: offset}
	}
	if !o.decode.AllowPartial {
		if missing := findMissingRequired(msg); missing != "" {
			return nil, fmt.Errorf("%w: %s", ErrRequiredFieldMissing, missing)
		}
	}
	return wrapMessage(msg), nil
}

// UnmarshalJSON parses proto3-JSON-encoded data into a new message of
// this Type, allocating it on a.
//
// Unlike [Type.Unmarshal], nesting depth here is bounded only by the Go
// call stack (each nested JSON object or array recurses through
// encoding/json's tokenizer and this package's own parser), matching how
// encoding/json itself has no configurable depth limit either.
func (t *Type) UnmarshalJSON(data []byte, a *Arena, opts ...UnmarshalOption) (*Message, error) {
	o := resolveOptions(opts)
	msg, err := json.Unmarshal(data, a.impl, t.table, o.json)
	if err != nil {
		je, _ := err.(*json.Error)
		offset := int64(0)
		if je != nil {
			offset = je.Offset
		}
		return nil, &offsetError{err: err, offset: offset}
	}
	return wrapMessage(msg), nil
}

// findMissingRequired walks msg and every message reachable from it,
// returning the qualified name of the first unset `required` field it
// finds, or "" if none is missing.
func findMissingRequired(msg *access.Message) string {
	t := msg.Table
	if t.RequiredCount > 0 {
		for i := range t.Fields {
			f := &t.Fields[i]
			if f.Required && !access.Has(msg, f) {
				return fmt.Sprintf("%s.%s", t.Descriptor.FullName(), t.Descriptor.Fields().ByNumber(protoreflect.FieldNumber(f.Number)).Name())
			}
		}
	}
	for i := range t.Fields {
		f := &t.Fields[i]
		if !isMessageField(f) {
			continue
		}
		if missing := requiredInSubmessages(msg, f); missing != "" {
			return missing
		}
	}
	return ""
}

func isMessageField(f *mini.Field) bool {
	return f.DescriptorType == protoreflect.MessageKind || f.DescriptorType == protoreflect.GroupKind
}

func requiredInSubmessages(msg *access.Message, f *mini.Field) string {
	switch f.Mode {
	case mini.Repeated, mini.Packed, mini.Map:
		a := access.GetArray(msg, f)
		for i := range a.Len() {
			sub := access.GetArrayValue[*access.Message](a, i)
			if sub == nil {
				continue
			}
			if f.Mode == mini.Map {
				// The entry's own value field (number 2) may itself be a
				// message; check it instead of the synthetic entry, which
				// has no required fields of its own.
				valField := sub.Table.FindFieldByNumber(2)
				if valField != nil && isMessageField(valField) {
					if vm := access.GetMessage(sub, valField); vm != nil {
						if missing := findMissingRequired(vm); missing != "" {
							return missing
						}
					}
				}
				continue
			}
			if missing := findMissingRequired(sub); missing != "" {
				return missing
			}
		}
	default:
		if sub := access.GetMessage(msg, f); sub != nil {
			if missing := findMissingRequired(sub); missing != "" {
				return missing
			}
		}
	}
	return ""
}
