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
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadUintRoundTrip(t *testing.T) {
	p := NewPayload(nil)
	p.WriteUint(0x0102, 2)
	p.WriteUint(0xDEADBEEF, 4)
	p.WriteUint(7, 1)
	require.Equal(t, []byte{0x01, 0x02, 0xDE, 0xAD, 0xBE, 0xEF, 0x07}, p.Bytes())

	require.Equal(t, uint64(0x0102), p.ReadUint(2))
	require.Equal(t, uint64(0xDEADBEEF), p.ReadUint(4))
	require.Equal(t, uint64(7), p.ReadUint(1))
	require.Equal(t, 0, p.Remaining())
}

func TestPayloadIntSignExtension(t *testing.T) {
	p := NewPayload(nil)
	p.WriteInt(-1500, 3)
	p.WriteInt(1500, 3)
	p.Rewind()
	require.Equal(t, int64(-1500), p.ReadInt(3))
	require.Equal(t, int64(1500), p.ReadInt(3))
}

func TestPayloadReadPastEnd(t *testing.T) {
	p := NewPayload([]byte{0xAB})
	// short field reads the bytes actually present
	require.Equal(t, uint64(0xAB), p.ReadUint(4))
	// fully past the end yields zero values
	require.Equal(t, uint64(0), p.ReadUint(2))
	require.Equal(t, int64(0), p.ReadInt(2))
	require.Equal(t, "", p.ReadString(4))
	require.Equal(t, []byte{}, p.ReadBytes(4))
}

func TestPayloadString(t *testing.T) {
	p := NewPayload(nil)
	p.WriteString("acme", 8)
	require.Equal(t, 8, p.Len())
	require.Equal(t, "acme", p.ReadString(8))

	p = NewPayload(nil)
	p.WriteString("longaccountname", 4)
	require.Equal(t, "long", p.ReadString(4))

	// n <= 0 appends and consumes raw
	p = NewPayload(nil)
	p.WriteString("raw", -1)
	require.Equal(t, "raw", p.ReadString(-1))
}

func TestPayloadCapAtMaxLength(t *testing.T) {
	p := NewPayload(nil)
	p.WriteBytes(bytes.Repeat([]byte{0xFF}, 300), -1)
	require.Equal(t, MaxPayloadLength, p.Len())
	// further writes are silently dropped
	p.WriteUint(0xAA, 1)
	require.Equal(t, MaxPayloadLength, p.Len())
}

func TestPayloadScaled(t *testing.T) {
	p := NewPayload(nil)
	p.WriteScaled(88.4, 0.1, 2)
	p.Rewind()
	require.InDelta(t, 88.4, p.ReadScaled(0.1, 2), 0.05)

	// negative values clamp to zero
	p = NewPayload(nil)
	p.WriteScaled(-5, 0.1, 2)
	p.Rewind()
	require.Equal(t, 0.0, p.ReadScaled(0.1, 2))
}

func TestPayloadGPS(t *testing.T) {
	pt := GeoPoint{Lat: 37.48508, Lon: -122.14843}

	p := NewPayload(nil)
	p.WriteGPS(pt, 6)
	require.Equal(t, 6, p.Len())
	got := p.ReadGPS(6)
	require.InDelta(t, pt.Lat, got.Lat, 0.0001)
	require.InDelta(t, pt.Lon, got.Lon, 0.0001)

	p = NewPayload(nil)
	p.WriteGPS(pt, 8)
	require.Equal(t, 8, p.Len())
	got = p.ReadGPS(8)
	require.InDelta(t, pt.Lat, got.Lat, 0.0000005)
	require.InDelta(t, pt.Lon, got.Lon, 0.0000005)
}
