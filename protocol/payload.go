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
	"strings"
)

/*
Payload is an append/consume cursor over a packet payload buffer.
All multi-byte integers are big-endian, signed values are two's
complement over the specified width. Reading past the end yields zero
for integers and empty values for strings and blobs; writing beyond
MaxPayloadLength truncates silently at the cap. Both behaviours are
wire-protocol requirements, not conveniences.
*/
type Payload struct {
	data []byte
	rIdx int
}

// NewPayload returns a Payload reading from (and appending after) b
func NewPayload(b []byte) *Payload {
	return &Payload{data: b}
}

// Bytes returns the whole underlying buffer
func (p *Payload) Bytes() []byte {
	return p.data
}

// Len returns the number of bytes written so far
func (p *Payload) Len() int {
	return len(p.data)
}

// Remaining returns the number of unread bytes
func (p *Payload) Remaining() int {
	return len(p.data) - p.rIdx
}

// Rewind resets the read cursor to the start of the buffer
func (p *Payload) Rewind() {
	p.rIdx = 0
}

// avail caps n to the writable space left before MaxPayloadLength
func (p *Payload) avail(n int) int {
	if left := MaxPayloadLength - len(p.data); n > left {
		return left
	}
	return n
}

// WriteUint appends an n-byte big-endian unsigned integer, n in 1..8
func (p *Payload) WriteUint(v uint64, n int) {
	if n > 8 {
		n = 8
	}
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	p.data = append(p.data, buf[:p.avail(n)]...)
}

// WriteInt appends an n-byte big-endian two's complement integer
func (p *Payload) WriteInt(v int64, n int) {
	p.WriteUint(uint64(v), n)
}

// WriteString appends a string. With n > 0 the field is fixed-length,
// NUL-padded on the right; with n <= 0 the raw bytes are appended as-is.
func (p *Payload) WriteString(s string, n int) {
	b := []byte(s)
	if n > 0 {
		if len(b) > n {
			b = b[:n]
		}
		for len(b) < n {
			b = append(b, 0)
		}
	}
	p.data = append(p.data, b[:p.avail(len(b))]...)
}

// WriteBytes appends a blob. With n > 0 the field is fixed-length,
// zero-padded; with n <= 0 the blob is appended as-is.
func (p *Payload) WriteBytes(b []byte, n int) {
	if n > 0 {
		if len(b) > n {
			b = b[:n]
		}
		for len(b) < n {
			b = append(b, 0)
		}
	}
	p.data = append(p.data, b[:p.avail(len(b))]...)
}

// WriteGPS appends a GeoPoint in 6-byte standard or 8-byte high
// resolution form; any other n writes the closest of the two.
func (p *Payload) WriteGPS(pt GeoPoint, n int) {
	if n >= 8 {
		p.WriteBytes(pt.Encode8(), 8)
		return
	}
	p.WriteBytes(pt.Encode6(), 6)
}

// WriteScaled appends a float encoded as an n-byte unsigned integer of
// v/scale rounded to nearest
func (p *Payload) WriteScaled(v, scale float64, n int) {
	if scale == 0 {
		scale = 1
	}
	r := v/scale + 0.5
	if r < 0 {
		r = 0
	}
	p.WriteUint(uint64(r), n)
}

// ReadUint consumes an n-byte big-endian unsigned integer. A short
// field yields the value of the bytes actually present; a read fully
// past the end yields 0.
func (p *Payload) ReadUint(n int) uint64 {
	var v uint64
	for i := 0; i < n && p.rIdx < len(p.data); i++ {
		v = v<<8 | uint64(p.data[p.rIdx])
		p.rIdx++
	}
	return v
}

// ReadInt consumes an n-byte big-endian two's complement integer
func (p *Payload) ReadInt(n int) int64 {
	if n > 8 {
		n = 8
	}
	avail := len(p.data) - p.rIdx
	if avail <= 0 {
		return 0
	}
	if n > avail {
		n = avail
	}
	v := p.ReadUint(n)
	// sign-extend from the width actually read
	shift := uint(64 - 8*n)
	return int64(v<<shift) >> shift
}

// ReadString consumes an n-byte fixed string, stripping trailing NUL
// and space padding. n <= 0 consumes the rest of the buffer.
func (p *Payload) ReadString(n int) string {
	b := p.ReadBytes(n)
	return strings.TrimRight(string(b), "\x00 ")
}

// ReadBytes consumes n bytes, or the rest of the buffer if n <= 0.
// A read past the end returns the empty slice.
func (p *Payload) ReadBytes(n int) []byte {
	avail := len(p.data) - p.rIdx
	if avail <= 0 {
		return []byte{}
	}
	if n <= 0 || n > avail {
		n = avail
	}
	b := make([]byte, n)
	copy(b, p.data[p.rIdx:p.rIdx+n])
	p.rIdx += n
	return b
}

// ReadGPS consumes a GPS point: 8 bytes high resolution when n >= 8,
// 6 bytes standard otherwise
func (p *Payload) ReadGPS(n int) GeoPoint {
	if n >= 8 {
		return DecodeGeoPoint8(p.ReadBytes(8))
	}
	return DecodeGeoPoint6(p.ReadBytes(6))
}

// ReadScaled consumes an n-byte unsigned integer and scales it back to
// a float
func (p *Payload) ReadScaled(scale float64, n int) float64 {
	return float64(p.ReadUint(n)) * scale
}
