/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// FieldType is the semantic tag of one template field
type FieldType uint8

// Template field semantic tags
const (
	FieldTimestamp FieldType = iota
	FieldStatusCode
	FieldGPS
	FieldSpeed
	FieldHeading
	FieldAltitude
	FieldDistance
	FieldGeofence
	FieldSequence
	FieldInt
	FieldString
	FieldBinary
)

// FieldTypeToString is a map from FieldType to string
var FieldTypeToString = map[FieldType]string{
	FieldTimestamp:  "TIMESTAMP",
	FieldStatusCode: "STATUS_CODE",
	FieldGPS:        "GPS",
	FieldSpeed:      "SPEED",
	FieldHeading:    "HEADING",
	FieldAltitude:   "ALTITUDE",
	FieldDistance:   "DISTANCE",
	FieldGeofence:   "GEOFENCE",
	FieldSequence:   "SEQUENCE",
	FieldInt:        "INT",
	FieldString:     "STRING",
	FieldBinary:     "BINARY",
}

func (f FieldType) String() string {
	s := FieldTypeToString[f]
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

// FieldDescriptor describes one field of a payload template. Index
// disambiguates repeated semantic tags (the two geofence IDs), Length
// is the field width in bytes.
type FieldDescriptor struct {
	Type   FieldType
	HiRes  bool
	Index  uint8
	Length uint8
}

// Template is the ordered, typed schema for the payload of one packet
// type. It drives the binary event layout, the CSV framing and the
// FORMAT_DEF_24 wire form.
type Template struct {
	PacketType uint8
	Fields     []FieldDescriptor
}

// Size returns the total payload length the template describes
func (t *Template) Size() int {
	n := 0
	for _, f := range t.Fields {
		n += int(f.Length)
	}
	return n
}

// maxTemplateFields bounds one FORMAT_DEF_24 upload: each descriptor is
// 3 bytes, plus type and count bytes, within the 253 byte payload cap
const maxTemplateFields = 83

// EncodeDef24 produces the FORMAT_DEF_24 payload describing this
// template: event type byte, field count, then 3 bytes per field
// (hiRes|fieldType, index, length)
func (t *Template) EncodeDef24() ([]byte, error) {
	if len(t.Fields) > maxTemplateFields {
		return nil, fmt.Errorf("template has too many fields: %d", len(t.Fields))
	}
	p := NewPayload(nil)
	p.WriteUint(uint64(t.PacketType), 1)
	p.WriteUint(uint64(len(t.Fields)), 1)
	for _, f := range t.Fields {
		b0 := uint8(f.Type) & 0x7F
		if f.HiRes {
			b0 |= 0x80
		}
		p.WriteUint(uint64(b0), 1)
		p.WriteUint(uint64(f.Index), 1)
		p.WriteUint(uint64(f.Length), 1)
	}
	return p.Bytes(), nil
}

// DecodeDef24 parses a FORMAT_DEF_24 payload into a template
func DecodeDef24(payload []byte) (*Template, error) {
	p := NewPayload(payload)
	ptype := uint8(p.ReadUint(1))
	count := int(p.ReadUint(1))
	if !IsCustomEventType(ptype) {
		return nil, fmt.Errorf("format definition for non-custom type 0x%02X", ptype)
	}
	if count == 0 || count > maxTemplateFields {
		return nil, fmt.Errorf("format definition field count out of range: %d", count)
	}
	if p.Remaining() < count*3 {
		return nil, fmt.Errorf("format definition truncated: %d fields, %d bytes left", count, p.Remaining())
	}
	t := &Template{PacketType: ptype}
	for i := 0; i < count; i++ {
		b0 := uint8(p.ReadUint(1))
		ft := FieldType(b0 & 0x7F)
		if ft > FieldBinary {
			return nil, fmt.Errorf("format definition field %d has unknown type 0x%02X", i, b0)
		}
		t.Fields = append(t.Fields, FieldDescriptor{
			Type:   ft,
			HiRes:  b0&0x80 != 0,
			Index:  uint8(p.ReadUint(1)),
			Length: uint8(p.ReadUint(1)),
		})
	}
	return t, nil
}

// EncodeCSV renders a payload as one CSV column per template field
func (t *Template) EncodeCSV(payload []byte) (string, error) {
	p := NewPayload(payload)
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		n := int(f.Length)
		switch f.Type {
		case FieldGPS:
			pt := p.ReadGPS(n)
			cols = append(cols, fmt.Sprintf("%.5f/%.5f", pt.Lat, pt.Lon))
		case FieldAltitude:
			cols = append(cols, strconv.FormatInt(p.ReadInt(n), 10))
		case FieldString:
			cols = append(cols, p.ReadString(n))
		case FieldBinary:
			cols = append(cols, fmt.Sprintf("%X", p.ReadBytes(n)))
		default:
			cols = append(cols, strconv.FormatUint(p.ReadUint(n), 10))
		}
	}
	return strings.Join(cols, ","), nil
}

// DecodeCSV parses CSV columns back into the binary payload the
// template describes. Missing trailing columns decode as zero fields.
func (t *Template) DecodeCSV(line string) ([]byte, error) {
	cols := strings.Split(line, ",")
	p := NewPayload(nil)
	for i, f := range t.Fields {
		var col string
		if i < len(cols) {
			col = cols[i]
		}
		n := int(f.Length)
		switch f.Type {
		case FieldGPS:
			var pt GeoPoint
			if col != "" {
				parts := strings.SplitN(col, "/", 2)
				if len(parts) != 2 {
					return nil, fmt.Errorf("column %d: bad GPS value %q", i, col)
				}
				var err error
				if pt.Lat, err = strconv.ParseFloat(parts[0], 64); err != nil {
					return nil, fmt.Errorf("column %d: bad latitude %q", i, parts[0])
				}
				if pt.Lon, err = strconv.ParseFloat(parts[1], 64); err != nil {
					return nil, fmt.Errorf("column %d: bad longitude %q", i, parts[1])
				}
			}
			p.WriteGPS(pt, n)
		case FieldAltitude:
			v := int64(0)
			if col != "" {
				var err error
				if v, err = strconv.ParseInt(col, 10, 64); err != nil {
					return nil, fmt.Errorf("column %d: bad integer %q", i, col)
				}
			}
			p.WriteInt(v, n)
		case FieldString:
			p.WriteString(col, n)
		case FieldBinary:
			if len(col)%2 != 0 {
				return nil, fmt.Errorf("column %d: bad hex value %q", i, col)
			}
			raw := make([]byte, 0, n)
			for j := 0; j < len(col); j += 2 {
				v, err := strconv.ParseUint(col[j:j+2], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("column %d: bad hex value %q", i, col)
				}
				raw = append(raw, byte(v))
			}
			p.WriteBytes(raw, n)
		default:
			v := uint64(0)
			if col != "" {
				var err error
				if v, err = strconv.ParseUint(col, 10, 64); err != nil {
					return nil, fmt.Errorf("column %d: bad integer %q", i, col)
				}
			}
			p.WriteUint(v, n)
		}
	}
	return p.Bytes(), nil
}

// Static client->server templates for the well-known packet types.
// Event layouts follow the fixed formats: status code, timestamp, GPS,
// motion data, sequence.
var clientTemplates = map[uint8]*Template{
	TypeUniqueID: {PacketType: TypeUniqueID, Fields: []FieldDescriptor{
		{Type: FieldBinary, Length: 6},
	}},
	TypeAccountID: {PacketType: TypeAccountID, Fields: []FieldDescriptor{
		{Type: FieldString, Length: 20},
	}},
	TypeDeviceID: {PacketType: TypeDeviceID, Fields: []FieldDescriptor{
		{Type: FieldString, Length: 20},
	}},
	TypeEventFixedStd: {PacketType: TypeEventFixedStd, Fields: []FieldDescriptor{
		{Type: FieldStatusCode, Length: 2},
		{Type: FieldTimestamp, Length: 4},
		{Type: FieldGPS, Length: 6},
		{Type: FieldSpeed, Length: 1},
		{Type: FieldHeading, Length: 1},
		{Type: FieldAltitude, Length: 3},
		{Type: FieldSequence, Length: 4},
	}},
	TypeEventFixedHi: {PacketType: TypeEventFixedHi, Fields: []FieldDescriptor{
		{Type: FieldStatusCode, Length: 2},
		{Type: FieldTimestamp, Length: 4},
		{Type: FieldGPS, HiRes: true, Length: 8},
		{Type: FieldSpeed, HiRes: true, Length: 2},
		{Type: FieldHeading, HiRes: true, Length: 2},
		{Type: FieldAltitude, Length: 3},
		{Type: FieldSequence, Length: 4},
	}},
	TypeClientError: {PacketType: TypeClientError, Fields: []FieldDescriptor{
		{Type: FieldInt, Length: 2},
		{Type: FieldBinary, Length: 0},
	}},
}

// dmtspTemplate is the layout shared by the DMTSP format events
// 0x50..0x5F: the standard fixed event extended with odometer and the
// two geofence IDs
func dmtspTemplate(ptype uint8) *Template {
	return &Template{PacketType: ptype, Fields: []FieldDescriptor{
		{Type: FieldStatusCode, Length: 2},
		{Type: FieldTimestamp, Length: 4},
		{Type: FieldGPS, Length: 6},
		{Type: FieldSpeed, Length: 1},
		{Type: FieldHeading, Length: 1},
		{Type: FieldAltitude, Length: 3},
		{Type: FieldDistance, Length: 3},
		{Type: FieldGeofence, Index: 0, Length: 2},
		{Type: FieldGeofence, Index: 1, Length: 2},
		{Type: FieldSequence, Length: 4},
	}}
}

// Server->client templates, used by the CSV framing of outbound packets
var serverTemplates = map[uint8]*Template{
	TypeAck: {PacketType: TypeAck, Fields: []FieldDescriptor{
		{Type: FieldSequence, Length: 4},
	}},
	TypeGetProperty: {PacketType: TypeGetProperty, Fields: []FieldDescriptor{
		{Type: FieldInt, Length: 4},
	}},
	TypeSetProperty: {PacketType: TypeSetProperty, Fields: []FieldDescriptor{
		{Type: FieldInt, Length: 2},
		{Type: FieldBinary, Length: 0},
	}},
	TypeFileUpload: {PacketType: TypeFileUpload, Fields: []FieldDescriptor{
		{Type: FieldInt, Index: 0, Length: 1},
		{Type: FieldInt, Index: 1, Length: 3},
		{Type: FieldBinary, Length: 0},
	}},
	TypeServerError: {PacketType: TypeServerError, Fields: []FieldDescriptor{
		{Type: FieldInt, Index: 0, Length: 2},
		{Type: FieldInt, Index: 1, Length: 1},
		{Type: FieldInt, Index: 2, Length: 1},
		{Type: FieldBinary, Length: 0},
	}},
}

// StaticTemplate returns the built-in template for a packet type, or
// nil when the type has none registered
func StaticTemplate(d Direction, ptype uint8) *Template {
	if d == ServerToClient {
		return serverTemplates[ptype]
	}
	if t, ok := clientTemplates[ptype]; ok {
		return t
	}
	if ptype >= TypeEventDMTSPFirst && ptype <= TypeEventDMTSPLast {
		return dmtspTemplate(ptype)
	}
	return nil
}

type templateKey struct {
	accountID string
	deviceID  string
	ptype     uint8
}

// TemplateRegistry holds per-device template overrides uploaded via
// FORMAT_DEF_24. Safe for concurrent use by independent sessions.
type TemplateRegistry struct {
	mu     sync.RWMutex
	custom map[templateKey]*Template
}

// NewTemplateRegistry returns an empty registry
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{custom: map[templateKey]*Template{}}
}

// Register stores a device-scoped template override
func (r *TemplateRegistry) Register(accountID, deviceID string, t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[templateKey{accountID, deviceID, t.PacketType}] = t
}

// Lookup returns the device-scoped override for a packet type, or nil
func (r *TemplateRegistry) Lookup(accountID, deviceID string, ptype uint8) *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.custom[templateKey{accountID, deviceID, ptype}]
}
