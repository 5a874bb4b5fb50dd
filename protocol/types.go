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

/*
Package protocol implements the DMTP wire protocol spoken by mobile
tracking devices: binary and ASCII packet framings, the payload cursor,
GPS point codecs, payload templates and template-driven event decoding.
The package is pure: no I/O, no shared mutable state outside the
template registry.
*/
package protocol

// PacketHeader is the only header byte the protocol recognizes for its own packets
const PacketHeader = 0xE0

// MaxPayloadLength is the maximum number of payload bytes in one packet
const MaxPayloadLength = 253

// Direction tags a packet type byte: the same value has different meaning
// client->server vs server->client
type Direction uint8

// Packet directions
const (
	ClientToServer Direction = iota
	ServerToClient
)

// DirectionToString is a map from Direction to string
var DirectionToString = map[Direction]string{
	ClientToServer: "CLIENT_TO_SERVER",
	ServerToClient: "SERVER_TO_CLIENT",
}

func (d Direction) String() string {
	return DirectionToString[d]
}

// Client->server packet types
const (
	TypeEOBDone       uint8 = 0x00
	TypeEOBMore       uint8 = 0x01
	TypeUniqueID      uint8 = 0x11
	TypeAccountID     uint8 = 0x12
	TypeDeviceID      uint8 = 0x13
	TypeEventFixedStd uint8 = 0x30
	TypeEventFixedHi  uint8 = 0x31
	// 0x50..0x5F are DMTSP format events, 0x70..0x7F are custom format events
	TypeEventDMTSPFirst  uint8 = 0x50
	TypeEventDMTSPLast   uint8 = 0x5F
	TypeEventCustomFirst uint8 = 0x70
	TypeEventCustomLast  uint8 = 0x7F
	TypePropertyValue    uint8 = 0xB0
	TypeFormatDef24      uint8 = 0xCF
	TypeDiagnostic       uint8 = 0xD0
	TypeClientError      uint8 = 0xE0
)

// Server->client packet types
const (
	TypeEOBSpeakFreely uint8 = 0x01
	TypeAck            uint8 = 0xA0
	TypeGetProperty    uint8 = 0xB0
	TypeSetProperty    uint8 = 0xB1
	TypeFileUpload     uint8 = 0xC0
	TypeServerError    uint8 = 0xE0
	TypeEOT            uint8 = 0xFF
)

// ClientTypeToString is a map from client->server type byte to string
var ClientTypeToString = map[uint8]string{
	TypeEOBDone:       "EOB_DONE",
	TypeEOBMore:       "EOB_MORE",
	TypeUniqueID:      "UNIQUE_ID",
	TypeAccountID:     "ACCOUNT_ID",
	TypeDeviceID:      "DEVICE_ID",
	TypeEventFixedStd: "EVENT_FIXED_STD",
	TypeEventFixedHi:  "EVENT_FIXED_HIGH",
	TypePropertyValue: "PROPERTY_VALUE",
	TypeFormatDef24:   "FORMAT_DEF_24",
	TypeDiagnostic:    "DIAGNOSTIC",
	TypeClientError:   "ERROR",
}

// ServerTypeToString is a map from server->client type byte to string
var ServerTypeToString = map[uint8]string{
	TypeEOBDone:        "EOB_DONE",
	TypeEOBSpeakFreely: "EOB_SPEAK_FREELY",
	TypeAck:            "ACK",
	TypeGetProperty:    "GET_PROPERTY",
	TypeSetProperty:    "SET_PROPERTY",
	TypeFileUpload:     "FILE_UPLOAD",
	TypeServerError:    "ERROR",
	TypeEOT:            "EOT",
}

// TypeString returns the name of a packet type byte for the given direction
func TypeString(d Direction, t uint8) string {
	var s string
	if d == ClientToServer {
		if t >= TypeEventDMTSPFirst && t <= TypeEventDMTSPLast {
			return "EVENT_DMTSP_FMT"
		}
		if t >= TypeEventCustomFirst && t <= TypeEventCustomLast {
			return "EVENT_CUSTOM"
		}
		s = ClientTypeToString[t]
	} else {
		s = ServerTypeToString[t]
	}
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

// IsEventType reports whether a client->server type byte carries a GeoEvent
func IsEventType(t uint8) bool {
	switch {
	case t == TypeEventFixedStd, t == TypeEventFixedHi:
		return true
	case t >= TypeEventDMTSPFirst && t <= TypeEventDMTSPLast:
		return true
	case t >= TypeEventCustomFirst && t <= TypeEventCustomLast:
		return true
	}
	return false
}

// IsCustomEventType reports whether a type byte is in the custom event range,
// which requires an uploaded or stored template
func IsCustomEventType(t uint8) bool {
	return t >= TypeEventCustomFirst && t <= TypeEventCustomLast
}

// ErrorCode is a 16-bit NAK code carried in ERROR packets
type ErrorCode uint16

// NAK error code namespace
const (
	NakOK                   ErrorCode = 0x0000
	NakPacketHeader         ErrorCode = 0xF111
	NakPacketType           ErrorCode = 0xF112
	NakPacketLength         ErrorCode = 0xF113
	NakPacketEncoding       ErrorCode = 0xF114
	NakPacketChecksum       ErrorCode = 0xF115
	NakFormatNotRecognized  ErrorCode = 0xF116
	NakIDExpected           ErrorCode = 0xF121
	NakAccountInvalid       ErrorCode = 0xF311
	NakDeviceInvalid        ErrorCode = 0xF312
	NakUniqueIDInvalid      ErrorCode = 0xF313
	NakExcessiveConnections ErrorCode = 0xF511
	NakExcessiveEvents      ErrorCode = 0xF512
	NakEventError           ErrorCode = 0xF521
)

// ErrorCodeToString is a map from ErrorCode to string
var ErrorCodeToString = map[ErrorCode]string{
	NakOK:                   "NAK_OK",
	NakPacketHeader:         "PACKET_HEADER",
	NakPacketType:           "PACKET_TYPE",
	NakPacketLength:         "PACKET_LENGTH",
	NakPacketEncoding:       "PACKET_ENCODING",
	NakPacketChecksum:       "PACKET_CHECKSUM",
	NakFormatNotRecognized:  "FORMAT_NOT_RECOGNIZED",
	NakIDExpected:           "ID_EXPECTED",
	NakAccountInvalid:       "ACCOUNT_INVALID",
	NakDeviceInvalid:        "DEVICE_INVALID",
	NakUniqueIDInvalid:      "UNIQUE_ID_INVALID",
	NakExcessiveConnections: "EXCESSIVE_CONNECTIONS",
	NakExcessiveEvents:      "EXCESSIVE_EVENTS",
	NakEventError:           "EVENT_ERROR",
}

func (c ErrorCode) String() string {
	s := ErrorCodeToString[c]
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

// Encoding selects the wire framing of a packet
type Encoding uint8

// Supported encodings. Binary is the three-byte-header framing, the rest
// are ASCII line framings distinguished by the discriminator character.
const (
	EncodingBinary Encoding = iota
	EncodingBase64
	EncodingHex
	EncodingCSV
)

// EncodingToString is a map from Encoding to string
var EncodingToString = map[Encoding]string{
	EncodingBinary: "BINARY",
	EncodingBase64: "BASE64",
	EncodingHex:    "HEX",
	EncodingCSV:    "CSV",
}

func (e Encoding) String() string {
	return EncodingToString[e]
}

// Encoding support bitmask as carried in device records
const (
	SupportBinary uint8 = 1 << 0
	SupportBase64 uint8 = 1 << 1
	SupportHex    uint8 = 1 << 2
	SupportCSV    uint8 = 1 << 3
)

// SupportBit returns the device support mask bit for the encoding
func (e Encoding) SupportBit() uint8 {
	switch e {
	case EncodingBase64:
		return SupportBase64
	case EncodingHex:
		return SupportHex
	case EncodingCSV:
		return SupportCSV
	}
	return SupportBinary
}
