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
	"time"
)

// SequenceNone marks an event that carried no sequence number
const SequenceNone uint32 = 0xFFFFFFFF

// Field unit scales. Low resolution speed/heading/distance are whole
// units, high resolution fields are tenths; a one-byte heading covers
// the full circle in 256 steps.
const (
	scaleTenth      = 0.1
	scaleHeadingLow = 360.0 / 256.0
)

// GeoEvent is everything decoded from one event packet
type GeoEvent struct {
	Timestamp  int64 // seconds since Unix epoch
	StatusCode uint16
	Location   GeoPoint
	Speed      float64 // km/h
	TopSpeed   float64 // km/h
	Heading    float64 // degrees 0-360
	Altitude   float64 // meters
	Odometer   float64 // km
	Geofence   [2]uint32
	Sequence   uint32 // SequenceNone when absent
	Raw        []byte // packet bytes as received
	Source     string // data-source tag, e.g. "tcp" or "udp"
}

func (e *GeoEvent) String() string {
	return fmt.Sprintf("GeoEvent(status=0x%04X time=%s loc=%s speed=%.1f)",
		e.StatusCode, time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339), e.Location, e.Speed)
}

// Time returns the event timestamp as time.Time
func (e *GeoEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// HasSequence reports whether the event carried a sequence number
func (e *GeoEvent) HasSequence() bool {
	return e.Sequence != SequenceNone
}

// RequiresValidGPS reports whether the event's template demands a
// usable fix: any template that carries a GPS field does
func (t *Template) RequiresValidGPS() bool {
	for _, f := range t.Fields {
		if f.Type == FieldGPS {
			return true
		}
	}
	return false
}

// DecodeEvent decodes an event payload through its template
func DecodeEvent(t *Template, payload []byte) (*GeoEvent, error) {
	if len(payload) < t.Size() {
		return nil, fmt.Errorf("event payload too short: %d bytes, template needs %d", len(payload), t.Size())
	}
	ev := &GeoEvent{Sequence: SequenceNone}
	p := NewPayload(payload)
	for _, f := range t.Fields {
		n := int(f.Length)
		switch f.Type {
		case FieldTimestamp:
			ev.Timestamp = int64(p.ReadUint(n))
		case FieldStatusCode:
			ev.StatusCode = uint16(p.ReadUint(n))
		case FieldGPS:
			ev.Location = p.ReadGPS(n)
		case FieldSpeed:
			v := speedScale(f, p)
			if f.Index == 1 {
				ev.TopSpeed = v
			} else {
				ev.Speed = v
			}
		case FieldHeading:
			if f.HiRes || n >= 2 {
				ev.Heading = p.ReadScaled(scaleTenth, n)
			} else {
				ev.Heading = p.ReadScaled(scaleHeadingLow, n)
			}
		case FieldAltitude:
			ev.Altitude = float64(p.ReadInt(n))
		case FieldDistance:
			if f.HiRes {
				ev.Odometer = p.ReadScaled(scaleTenth, n)
			} else {
				ev.Odometer = float64(p.ReadUint(n))
			}
		case FieldGeofence:
			if f.Index < 2 {
				ev.Geofence[f.Index] = uint32(p.ReadUint(n))
			} else {
				p.ReadBytes(n)
			}
		case FieldSequence:
			v := p.ReadUint(n)
			if allOnes(v, n) {
				ev.Sequence = SequenceNone
			} else {
				ev.Sequence = uint32(v)
			}
		default:
			// generic int/string/binary fields are not part of GeoEvent
			p.ReadBytes(n)
		}
	}
	return ev, nil
}

// EncodeEvent produces the payload of an event packet through its
// template. Generic fields encode as zero.
func EncodeEvent(t *Template, ev *GeoEvent) []byte {
	p := NewPayload(nil)
	for _, f := range t.Fields {
		n := int(f.Length)
		switch f.Type {
		case FieldTimestamp:
			p.WriteUint(uint64(ev.Timestamp), n)
		case FieldStatusCode:
			p.WriteUint(uint64(ev.StatusCode), n)
		case FieldGPS:
			p.WriteGPS(ev.Location, n)
		case FieldSpeed:
			v := ev.Speed
			if f.Index == 1 {
				v = ev.TopSpeed
			}
			if f.HiRes || n >= 2 {
				p.WriteScaled(v, scaleTenth, n)
			} else {
				p.WriteScaled(v, 1, n)
			}
		case FieldHeading:
			if f.HiRes || n >= 2 {
				p.WriteScaled(ev.Heading, scaleTenth, n)
			} else {
				p.WriteScaled(ev.Heading, scaleHeadingLow, n)
			}
		case FieldAltitude:
			p.WriteInt(int64(ev.Altitude), n)
		case FieldDistance:
			if f.HiRes {
				p.WriteScaled(ev.Odometer, scaleTenth, n)
			} else {
				p.WriteUint(uint64(ev.Odometer), n)
			}
		case FieldGeofence:
			if f.Index < 2 {
				p.WriteUint(uint64(ev.Geofence[f.Index]), n)
			} else {
				p.WriteUint(0, n)
			}
		case FieldSequence:
			if ev.Sequence == SequenceNone {
				p.WriteUint(^uint64(0), n)
			} else {
				p.WriteUint(uint64(ev.Sequence), n)
			}
		default:
			p.WriteBytes(nil, n)
		}
	}
	return p.Bytes()
}

func speedScale(f FieldDescriptor, p *Payload) float64 {
	if f.HiRes || f.Length >= 2 {
		return p.ReadScaled(scaleTenth, int(f.Length))
	}
	return float64(p.ReadUint(int(f.Length)))
}

// allOnes reports whether v is the all-ones value of an n-byte field
func allOnes(v uint64, n int) bool {
	if n <= 0 || n >= 8 {
		return v == ^uint64(0)
	}
	return v == 1<<(8*n)-1
}
