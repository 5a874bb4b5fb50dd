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
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Packet is one protocol frame in abstract form: a direction-tagged
// (header, type, payload) triple
type Packet struct {
	Direction Direction
	Header    uint8
	Type      uint8
	Payload   []byte
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s[0x%02X/0x%02X len=%d]", TypeString(p.Direction, p.Type), p.Header, p.Type, len(p.Payload))
}

// NewPacket returns a packet with the standard header
func NewPacket(d Direction, t uint8, payload []byte) *Packet {
	return &Packet{Direction: d, Header: PacketHeader, Type: t, Payload: payload}
}

// DecodeError is a framing or encoding failure mapped onto the NAK
// namespace, carrying the offending header and type bytes when known
type DecodeError struct {
	Code   ErrorCode
	Header uint8
	Type   uint8
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: %s (header=0x%02X type=0x%02X)", e.Code, e.Header, e.Type)
}

// TemplateLookup resolves the payload template for a packet type byte.
// CSV framing cannot be parsed or produced without one.
type TemplateLookup func(packetType uint8) *Template

// EncodeBinary produces the binary framing: header|type|length|payload
func (p *Packet) EncodeBinary() ([]byte, error) {
	if len(p.Payload) > MaxPayloadLength {
		return nil, &DecodeError{Code: NakPacketLength, Header: p.Header, Type: p.Type}
	}
	b := make([]byte, 0, 3+len(p.Payload))
	b = append(b, p.Header, p.Type, uint8(len(p.Payload)))
	return append(b, p.Payload...), nil
}

// EncodeASCII produces the ASCII line framing
// $HHTT<disc><payload>[*HH]\r\n for the selected encoding. CSV with no
// registered template falls back to Base64.
func (p *Packet) EncodeASCII(enc Encoding, checksum bool, lookup TemplateLookup) ([]byte, error) {
	if len(p.Payload) > MaxPayloadLength {
		return nil, &DecodeError{Code: NakPacketLength, Header: p.Header, Type: p.Type}
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "%02X%02X", p.Header, p.Type)
	switch enc {
	case EncodingCSV:
		var tmpl *Template
		if lookup != nil {
			tmpl = lookup(p.Type)
		}
		if tmpl == nil {
			// no template, fall back to Base64
			if len(p.Payload) > 0 {
				body.WriteByte('=')
				body.WriteString(base64.StdEncoding.EncodeToString(p.Payload))
			}
			break
		}
		csv, err := tmpl.EncodeCSV(p.Payload)
		if err != nil {
			return nil, err
		}
		body.WriteByte(',')
		body.WriteString(csv)
	case EncodingHex:
		if len(p.Payload) > 0 {
			body.WriteByte(':')
			body.WriteString(fmt.Sprintf("%X", p.Payload))
		}
	case EncodingBase64:
		if len(p.Payload) > 0 {
			body.WriteByte('=')
			body.WriteString(base64.StdEncoding.EncodeToString(p.Payload))
		}
	default:
		return nil, &DecodeError{Code: NakPacketEncoding, Header: p.Header, Type: p.Type}
	}

	var out bytes.Buffer
	out.WriteByte('$')
	out.Write(body.Bytes())
	if checksum {
		fmt.Fprintf(&out, "*%02X", xorChecksum(body.Bytes()))
	}
	out.WriteString("\r\n")
	return out.Bytes(), nil
}

// Encode produces the wire form of the packet in the selected framing
func (p *Packet) Encode(enc Encoding, checksum bool, lookup TemplateLookup) ([]byte, error) {
	if enc == EncodingBinary {
		return p.EncodeBinary()
	}
	return p.EncodeASCII(enc, checksum, lookup)
}

// xorChecksum is the running XOR of all bytes between '$' exclusive and
// '*' exclusive
func xorChecksum(b []byte) uint8 {
	var cs uint8
	for _, c := range b {
		cs ^= c
	}
	return cs
}

// Decode parses one frame (as produced by the frame scanner) into a
// packet. It returns the detected encoding and whether the ASCII frame
// carried a checksum. Errors are *DecodeError values in the NAK
// namespace.
func Decode(d Direction, frame []byte, lookup TemplateLookup) (*Packet, Encoding, bool, error) {
	if len(frame) == 0 {
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketLength}
	}
	if frame[0] == '$' {
		return decodeASCII(d, frame, lookup)
	}
	return decodeBinary(d, frame)
}

func decodeBinary(d Direction, frame []byte) (*Packet, Encoding, bool, error) {
	if len(frame) < 3 {
		var h, t uint8
		if len(frame) > 0 {
			h = frame[0]
		}
		if len(frame) > 1 {
			t = frame[1]
		}
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketLength, Header: h, Type: t}
	}
	h, t, l := frame[0], frame[1], int(frame[2])
	if h != PacketHeader {
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketHeader, Header: h, Type: t}
	}
	if l > MaxPayloadLength || len(frame) != 3+l {
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketLength, Header: h, Type: t}
	}
	payload := make([]byte, l)
	copy(payload, frame[3:])
	return &Packet{Direction: d, Header: h, Type: t, Payload: payload}, EncodingBinary, false, nil
}

func decodeASCII(d Direction, frame []byte, lookup TemplateLookup) (*Packet, Encoding, bool, error) {
	line := bytes.TrimRight(frame[1:], "\r\n")
	// Optional *HH checksum suffix. '*' is outside the base64 and hex
	// alphabets but can occur inside a CSV string column, so only a
	// trailing '*' followed by exactly two hex digits counts as framing.
	// A string column that itself ends in '*' plus two hex digits is
	// indistinguishable from a checksum and reads as one.
	hasChecksum := false
	if i := bytes.LastIndexByte(line, '*'); i >= 0 && len(line)-i == 3 {
		if want, err := hex.DecodeString(string(line[i+1:])); err == nil {
			body := line[:i]
			if xorChecksum(body) != want[0] {
				p, _, _, _ := decodeASCIIBody(d, body, lookup)
				derr := &DecodeError{Code: NakPacketChecksum}
				if p != nil {
					derr.Header, derr.Type = p.Header, p.Type
				} else if len(body) >= 4 {
					if hd, err := hex.DecodeString(string(body[:4])); err == nil {
						derr.Header, derr.Type = hd[0], hd[1]
					}
				}
				return nil, EncodingBinary, false, derr
			}
			line = body
			hasChecksum = true
		}
	}
	p, enc, _, err := decodeASCIIBody(d, line, lookup)
	return p, enc, hasChecksum, err
}

// decodeASCIIBody parses HHTT<disc><payload> with the checksum already
// verified and stripped
func decodeASCIIBody(d Direction, body []byte, lookup TemplateLookup) (*Packet, Encoding, bool, error) {
	if len(body) < 4 {
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketLength}
	}
	hd, err := hex.DecodeString(string(body[:4]))
	if err != nil {
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketEncoding}
	}
	h, t := hd[0], hd[1]
	if h != PacketHeader {
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketHeader, Header: h, Type: t}
	}
	rest := body[4:]
	if len(rest) == 0 {
		return &Packet{Direction: d, Header: h, Type: t, Payload: []byte{}}, EncodingBase64, false, nil
	}
	var payload []byte
	var enc Encoding
	switch rest[0] {
	case '=':
		enc = EncodingBase64
		payload, err = base64.StdEncoding.DecodeString(string(rest[1:]))
		if err != nil {
			return nil, enc, false, &DecodeError{Code: NakPacketEncoding, Header: h, Type: t}
		}
	case ':':
		enc = EncodingHex
		payload, err = hex.DecodeString(string(rest[1:]))
		if err != nil {
			return nil, enc, false, &DecodeError{Code: NakPacketEncoding, Header: h, Type: t}
		}
	case ',':
		enc = EncodingCSV
		var tmpl *Template
		if lookup != nil {
			tmpl = lookup(t)
		}
		if tmpl == nil {
			return nil, enc, false, &DecodeError{Code: NakFormatNotRecognized, Header: h, Type: t}
		}
		payload, err = tmpl.DecodeCSV(string(rest[1:]))
		if err != nil {
			return nil, enc, false, &DecodeError{Code: NakPacketEncoding, Header: h, Type: t}
		}
	default:
		return nil, EncodingBinary, false, &DecodeError{Code: NakPacketEncoding, Header: h, Type: t}
	}
	if len(payload) > MaxPayloadLength {
		return nil, enc, false, &DecodeError{Code: NakPacketLength, Header: h, Type: t}
	}
	return &Packet{Direction: d, Header: h, Type: t, Payload: payload}, enc, false, nil
}

// MaxFrameLength bounds a single frame on the wire: 3+253 for binary,
// and ASCII lines comfortably within the same order of magnitude
const MaxFrameLength = 600

// ScanFrames is a bufio.SplitFunc emitting one protocol frame at a
// time: binary frames are delimited by their length byte, ASCII frames
// by EOL. Arbitrary interleavings of \r and \n between frames are
// tolerated. A byte that can start neither framing is emitted alone so
// the decoder can report PACKET_HEADER.
func ScanFrames(data []byte, atEOF bool) (int, []byte, error) {
	// skip stray EOL bytes between frames
	start := 0
	for start < len(data) && (data[start] == '\r' || data[start] == '\n') {
		start++
	}
	if start == len(data) {
		if atEOF {
			return start, nil, nil
		}
		return start, nil, nil
	}
	switch data[start] {
	case PacketHeader:
		if len(data)-start < 3 {
			if atEOF {
				return len(data), data[start:], nil
			}
			return start, nil, nil
		}
		total := 3 + int(data[start+2])
		if len(data)-start < total {
			if atEOF {
				return len(data), data[start:], nil
			}
			return start, nil, nil
		}
		return start + total, data[start : start+total], nil
	case '$':
		if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
			return start + i + 1, data[start : start+i], nil
		}
		if atEOF {
			return len(data), data[start:], nil
		}
		return start, nil, nil
	default:
		return start + 1, data[start : start+1], nil
	}
}

// NewFrameScanner wraps a reader in a scanner splitting on ScanFrames
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, MaxFrameLength), MaxFrameLength)
	sc.Split(ScanFrames)
	return sc
}
