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

package json

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"unicode/utf8"
	"unsafe"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/zc"
)

// Options configures a single JSON decode.
type Options struct {
	// DiscardUnknown silently ignores object keys that don't resolve to a
	// field instead of failing the parse.
	DiscardUnknown bool
}

// Unmarshal decodes the JSON text in data according to table, allocating
// the resulting message (and everything it points to) on a.
func Unmarshal(data []byte, a *arena.Arena, table *mini.Table, opts Options) (*access.Message, error) {
	if !utf8.Valid(data) {
		return nil, errorf(0, "invalid UTF-8 in input")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	p := &parser{arena: a, scratch: newScratch(a, len(data)), opts: opts}

	msg := access.New(a, table)
	msg.Src = p.scratch.buf
	if err := p.parseMessage(dec, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

type parser struct {
	arena   *arena.Arena
	scratch *scratch
	opts    Options
}

// parseMessage consumes a JSON object (or null) and populates msg from it.
func (p *parser) parseMessage(dec *json.Decoder, msg *access.Message) error {
	if ok, err := p.expectDelim(dec, '{'); err != nil || !ok {
		return err
	}
	return p.parseMessageBody(dec, msg)
}

// resolveField looks up a field by its JSON name, falling back to its
// declared proto name, matching proto3 JSON's acceptance of either.
func resolveField(t *mini.Table, name string) *mini.Field {
	fds := t.Descriptor.Fields()
	fd := fds.ByJSONName(name)
	if fd == nil {
		fd = fds.ByTextName(name)
	}
	if fd == nil {
		return nil
	}
	return t.FindFieldByNumber(protowire.Number(fd.Number()))
}

// parseFieldValue parses one field occurrence -- scalar, message, array,
// or map -- according to f's mode.
func (p *parser) parseFieldValue(dec *json.Decoder, msg *access.Message, f *mini.Field) error {
	switch f.Mode {
	case mini.Map:
		return p.parseMap(dec, msg, f)
	case mini.Repeated, mini.Packed:
		return p.parseArray(dec, msg, f)
	default:
		return p.parseSingular(dec, msg, f)
	}
}

// parseSingular parses one scalar or message value and stores it
// directly into f (as opposed to appending to an array).
func (p *parser) parseSingular(dec *json.Decoder, msg *access.Message, f *mini.Field) error {
	if f.DescriptorType == protoreflect.MessageKind || f.DescriptorType == protoreflect.GroupKind {
		ok, err := p.expectDelim(dec, '{')
		if err != nil || !ok {
			return err
		}
		sub := access.GetMutableMessage(msg, f)
		return p.parseMessageBody(dec, sub)
	}

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	return p.storeScalar(msg, f, tok, dec)
}

// parseMessageBody parses the remainder of an object whose leading '{'
// has already been consumed by the caller (used when the caller needed
// to peek the token to distinguish null from an object).
func (p *parser) parseMessageBody(dec *json.Decoder, msg *access.Message) error {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		f := resolveField(msg.Table, key)
		if f == nil {
			if !p.opts.DiscardUnknown {
				return errorf(dec.InputOffset(), "unknown field %q for %s", key, msg.Table.Descriptor.FullName())
			}
			if err := skipValue(dec); err != nil {
				return err
			}
			continue
		}
		if err := p.parseFieldValue(dec, msg, f); err != nil {
			return err
		}
	}
	_, err := dec.Token() // consume '}'
	return err
}

// parseArray parses a JSON array into a repeated field.
func (p *parser) parseArray(dec *json.Decoder, msg *access.Message, f *mini.Field) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return errorf(dec.InputOffset(), "expected array for repeated field %d", f.Number)
	}

	isMsg := f.DescriptorType == protoreflect.MessageKind || f.DescriptorType == protoreflect.GroupKind
	for dec.More() {
		if isMsg {
			if ok, err := p.expectDelim(dec, '{'); err != nil || !ok {
				return err
			}
			subTable := msg.Table.Subs[f.SubmsgIndex].Submsg
			sub := access.New(p.arena, subTable)
			sub.Src = msg.Src
			if err := p.parseMessageBody(dec, sub); err != nil {
				return err
			}
			slot := access.AppendArrayValue(msg, f, 8)
			*(*unsafe.Pointer)(slot) = unsafe.Pointer(sub)
			continue
		}

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		slot := access.AppendArrayValue(msg, f, elemSize(f.DescriptorType))
		if err := p.storeScalarAt(msg.Table, f, valTok, slot, dec); err != nil {
			return err
		}
	}

	_, err = dec.Token() // consume ']'
	return err
}

// parseMap parses a JSON object into a map field, synthesizing one entry
// submessage per key.
func (p *parser) parseMap(dec *json.Decoder, msg *access.Message, f *mini.Field) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errorf(dec.InputOffset(), "expected object for map field %d", f.Number)
	}

	entryTable := msg.Table.Subs[f.SubmsgIndex].Submsg
	keyField := entryTable.FindFieldByNumber(1)
	valField := entryTable.FindFieldByNumber(2)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		keyStr, _ := keyTok.(string)

		entry := access.New(p.arena, entryTable)
		entry.Src = msg.Src
		if err := p.storeMapKey(entry, keyField, keyStr, dec); err != nil {
			return err
		}
		if err := p.parseFieldValue(dec, entry, valField); err != nil {
			return err
		}

		slot := access.AppendArrayValue(msg, f, 8)
		*(*unsafe.Pointer)(slot) = unsafe.Pointer(entry)
	}

	_, err = dec.Token() // consume '}'
	return err
}

// storeMapKey converts a JSON object key (always a string) to the map
// key field's declared kind and stores it.
func (p *parser) storeMapKey(entry *access.Message, f *mini.Field, key string, dec *json.Decoder) error {
	switch f.DescriptorType {
	case protoreflect.StringKind:
		access.SetString(entry, f, p.scratch.put(key))
		return nil
	case protoreflect.BoolKind:
		v, err := strconv.ParseBool(key)
		if err != nil {
			return errorf(dec.InputOffset(), "invalid bool map key %q", key)
		}
		access.SetBool(entry, f, v)
		return nil
	default:
		return p.storeScalar(entry, f, json.Number(key), dec)
	}
}

// expectDelim consumes the next token and confirms it is the given
// delimiter; returns ok=false (with no error) if the token was a JSON
// null instead, which callers treat as "leave unset".
func (p *parser) expectDelim(dec *json.Decoder, want json.Delim) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	if tok == nil {
		return false, nil
	}
	d, ok := tok.(json.Delim)
	if !ok || d != want {
		return false, errorf(dec.InputOffset(), "expected %q, got %v", want, tok)
	}
	return true, nil
}

// skipValue discards the next complete JSON value, used for unrecognized
// object keys.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if _, ok := tok.(json.Delim); !ok {
		return nil // scalar or null: already consumed.
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

func elemSize(k protoreflect.Kind) int {
	switch k {
	case protoreflect.BoolKind:
		return 1
	case protoreflect.Int32Kind, protoreflect.Uint32Kind, protoreflect.Sint32Kind,
		protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind,
		protoreflect.EnumKind:
		return 4
	default:
		return 8
	}
}

// storeScalar decodes tok (a JSON token already matched to f's position)
// per f's declared kind and stores it into msg via the typed accessors.
func (p *parser) storeScalar(msg *access.Message, f *mini.Field, tok any, dec *json.Decoder) error {
	switch f.DescriptorType {
	case protoreflect.BoolKind:
		v, ok := tok.(bool)
		if !ok {
			return errorf(dec.InputOffset(), "expected bool for field %d", f.Number)
		}
		access.SetBool(msg, f, v)
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		v, err := parseInt(tok, 32)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetInt32(msg, f, int32(v))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		v, err := parseInt(tok, 64)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetInt64(msg, f, v)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		v, err := parseUint(tok, 32)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetUInt32(msg, f, uint32(v))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		v, err := parseUint(tok, 64)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetUInt64(msg, f, v)
	case protoreflect.FloatKind:
		v, err := parseFloat(tok)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetFloat(msg, f, float32(v))
	case protoreflect.DoubleKind:
		v, err := parseFloat(tok)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetDouble(msg, f, v)
	case protoreflect.EnumKind:
		v, err := p.resolveEnum(msg.Table, f, tok, dec)
		if err != nil {
			return err
		}
		access.SetEnum(msg, f, v)
	case protoreflect.StringKind:
		s, ok := tok.(string)
		if !ok {
			return errorf(dec.InputOffset(), "expected string for field %d", f.Number)
		}
		access.SetString(msg, f, p.scratch.put(s))
	case protoreflect.BytesKind:
		s, ok := tok.(string)
		if !ok {
			return errorf(dec.InputOffset(), "expected base64 string for field %d", f.Number)
		}
		b, err := decodeBase64(s)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		access.SetString(msg, f, p.scratch.put(string(b)))
	default:
		return errorf(dec.InputOffset(), "unsupported kind for field %d", f.Number)
	}
	return nil
}

// storeScalarAt is like storeScalar but writes into a bare array slot
// (e.g. from [access.AppendArrayValue]) rather than through the
// presence-tracking Set* accessors, mirroring internal/decode's split
// between singular and repeated scalar storage.
func (p *parser) storeScalarAt(table *mini.Table, f *mini.Field, tok any, slot unsafe.Pointer, dec *json.Decoder) error {
	switch f.DescriptorType {
	case protoreflect.BoolKind:
		v, ok := tok.(bool)
		if !ok {
			return errorf(dec.InputOffset(), "expected bool for field %d", f.Number)
		}
		*(*bool)(slot) = v
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		v, err := parseInt(tok, 32)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*int32)(slot) = int32(v)
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		v, err := parseInt(tok, 64)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*int64)(slot) = v
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		v, err := parseUint(tok, 32)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*uint32)(slot) = uint32(v)
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		v, err := parseUint(tok, 64)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*uint64)(slot) = v
	case protoreflect.FloatKind:
		v, err := parseFloat(tok)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*float32)(slot) = float32(v)
	case protoreflect.DoubleKind:
		v, err := parseFloat(tok)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*float64)(slot) = v
	case protoreflect.EnumKind:
		v, err := p.resolveEnum(table, f, tok, dec)
		if err != nil {
			return err
		}
		*(*int32)(slot) = v
	case protoreflect.StringKind:
		s, ok := tok.(string)
		if !ok {
			return errorf(dec.InputOffset(), "expected string for field %d", f.Number)
		}
		*(*zc.Range)(slot) = p.scratch.put(s)
	case protoreflect.BytesKind:
		s, ok := tok.(string)
		if !ok {
			return errorf(dec.InputOffset(), "expected base64 string for field %d", f.Number)
		}
		b, err := decodeBase64(s)
		if err != nil {
			return errorf(dec.InputOffset(), "field %d: %v", f.Number, err)
		}
		*(*zc.Range)(slot) = p.scratch.put(string(b))
	default:
		return errorf(dec.InputOffset(), "unsupported kind for field %d", f.Number)
	}
	return nil
}

// resolveEnum converts a JSON enum token (either its integer value or its
// name) to the enum's raw numeric value. Name resolution consults the
// full descriptor directly rather than [mini.Enum], since that table is
// only built for closed (proto2/legacy) enums but JSON name lookup must
// work for open enums too.
func (p *parser) resolveEnum(table *mini.Table, f *mini.Field, tok any, dec *json.Decoder) (int32, error) {
	switch v := tok.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errorf(dec.InputOffset(), "invalid enum value %q for field %d", v, f.Number)
		}
		return int32(n), nil
	case string:
		fd := table.Descriptor.Fields().ByNumber(f.Number)
		if fd == nil || fd.Enum() == nil {
			return 0, errorf(dec.InputOffset(), "cannot resolve enum name %q for field %d", v, f.Number)
		}
		evd := fd.Enum().Values().ByName(protoreflect.Name(v))
		if evd == nil {
			return 0, errorf(dec.InputOffset(), "unknown enum value %q for field %d", v, f.Number)
		}
		return int32(evd.Number()), nil
	default:
		return 0, errorf(dec.InputOffset(), "expected enum value for field %d", f.Number)
	}
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func parseInt(tok any, bits int) (int64, error) {
	switch v := tok.(type) {
	case json.Number:
		return strconv.ParseInt(string(v), 10, bits)
	case string:
		return strconv.ParseInt(v, 10, bits)
	default:
		return 0, errorf(0, "expected integer, got %T", tok)
	}
}

func parseUint(tok any, bits int) (uint64, error) {
	switch v := tok.(type) {
	case json.Number:
		return strconv.ParseUint(string(v), 10, bits)
	case string:
		return strconv.ParseUint(v, 10, bits)
	default:
		return 0, errorf(0, "expected unsigned integer, got %T", tok)
	}
}

func parseFloat(tok any) (float64, error) {
	switch v := tok.(type) {
	case json.Number:
		return strconv.ParseFloat(string(v), 64)
	case string:
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return strconv.ParseFloat(v, 64)
	default:
		return 0, errorf(0, "expected number, got %T", tok)
	}
}
