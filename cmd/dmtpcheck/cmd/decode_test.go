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

package cmd

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmts/dmtp/protocol"
)

func TestDecodeFrameHex(t *testing.T) {
	got, err := decodeFrame("E0 11 06 00 00 12 34 56 78", protocol.ClientToServer)
	require.NoError(t, err)
	require.Equal(t, "UNIQUE_ID", got.Type)
	require.Equal(t, uint8(0x11), got.TypeByte)
	require.Equal(t, "BINARY", got.Encoding)
	require.Equal(t, "000012345678", got.Payload)
}

func TestDecodeFrameASCII(t *testing.T) {
	got, err := decodeFrame("$E011=AAASNFZ4", protocol.ClientToServer)
	require.NoError(t, err)
	require.Equal(t, "UNIQUE_ID", got.Type)
	require.Equal(t, "BASE64", got.Encoding)
	require.False(t, got.Checksum)
}

func TestDecodeFrameServerDirection(t *testing.T) {
	got, err := decodeFrame("E0 FF 00", protocol.ServerToClient)
	require.NoError(t, err)
	require.Equal(t, "EOT", got.Type)
}

func TestDecodeFrameErrors(t *testing.T) {
	_, err := decodeFrame("zz", protocol.ClientToServer)
	require.Error(t, err)

	_, err = decodeFrame("55 11 00", protocol.ClientToServer)
	require.Error(t, err)
}

func TestDecodeEventPayload(t *testing.T) {
	tmpl := protocol.StaticTemplate(protocol.ClientToServer, protocol.TypeEventFixedStd)
	ev := &protocol.GeoEvent{
		Timestamp:  1721000000,
		StatusCode: 0xF020,
		Location:   protocol.GeoPoint{Lat: 37.48508, Lon: -122.14843},
		Speed:      88,
		Sequence:   7,
	}
	payload := hex.EncodeToString(protocol.EncodeEvent(tmpl, ev))

	got, err := decodeEventPayload(protocol.TypeEventFixedStd, payload)
	require.NoError(t, err)
	require.Equal(t, "EVENT_FIXED_STD", got.Type)
	require.Equal(t, uint16(0xF020), got.Status)
	require.Equal(t, 88.0, got.Speed)
	require.Equal(t, "7", got.Sequence)

	// custom types have no static template
	_, err = decodeEventPayload(0x70, payload)
	require.Error(t, err)
}
