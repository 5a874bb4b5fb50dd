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

package server

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openmts/dmtp/protocol"
	"github.com/openmts/dmtp/storage"
)

// sessionState is one of the possible states of the session state machine
type sessionState uint8

// Session states
const (
	stateAwaitingIdentity sessionState = iota
	stateIdentified
	stateActive
	stateClosing
	stateClosed
)

// sessionStateToString is a map from sessionState to string
var sessionStateToString = map[sessionState]string{
	stateAwaitingIdentity: "AWAITING_IDENTITY",
	stateIdentified:       "IDENTIFIED",
	stateActive:           "ACTIVE",
	stateClosing:          "CLOSING",
	stateClosed:           "CLOSED",
}

func (s sessionState) String() string {
	return sessionStateToString[s]
}

// session drives the conversation with one device over one transport.
// One instance per accepted TCP connection or demuxed UDP flow.
type session struct {
	srv    *Server
	tr     transport
	duplex bool
	source string

	state   sessionState
	account *storage.Account
	device  *storage.Device

	// account name received while waiting for the device name
	pendingAccount string

	// encoding negotiation: the first packet locks the session to
	// binary or to the ASCII discriminator it used
	locked     bool
	enc        protocol.Encoding
	checksum   bool
	maskWarned bool

	// templates uploaded this session and loaded per-device overrides
	overrides map[uint8]*protocol.Template
	stored    map[uint8]*protocol.Template

	// event bookkeeping
	eventCount  uint32
	blockEvents int
	lastSeq     uint32
	haveSeq     bool

	// rate accounting
	total     *RateProfile
	dup       *RateProfile
	admitTime int64
	admitted  bool

	started   time.Time
	writeBack sync.Once
}

func newSession(srv *Server, tr transport, duplex bool) *session {
	source := "udp"
	if duplex {
		source = "tcp"
	}
	return &session{
		srv:       srv,
		tr:        tr,
		duplex:    duplex,
		source:    source,
		enc:       protocol.EncodingBinary,
		overrides: map[uint8]*protocol.Template{},
		stored:    map[uint8]*protocol.Template{},
	}
}

// sessionDeadline returns the hard end of the whole session
func (s *session) sessionDeadline() time.Time {
	if s.duplex {
		return s.started.Add(s.srv.Config.SessionTimeout)
	}
	return s.started.Add(s.srv.Config.UDPSessionTimeout)
}

// run consumes frames until the session reaches CLOSING, then drains
// and writes back the rate accounting exactly once
func (s *session) run(ctx context.Context) {
	s.srv.Stats.IncActiveSessions()
	defer s.srv.Stats.DecActiveSessions()

	s.started = s.srv.now()
	log.Debugf("Session from %s over %s", s.tr.RemoteAddr(), s.source)

	// a cancelled server interrupts the pending read
	stop := context.AfterFunc(ctx, func() { s.tr.Close() })
	defer stop()

	for s.state != stateClosing {
		deadline := s.srv.now().Add(s.srv.Config.IdleTimeout)
		if hard := s.sessionDeadline(); deadline.After(hard) {
			deadline = hard
		}
		if err := s.tr.SetReadDeadline(deadline); err != nil {
			break
		}
		frame, err := s.tr.ReadFrame()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.srv.Stats.IncTimeouts()
				log.Debugf("Session from %s timed out in %s", s.tr.RemoteAddr(), s.state)
				s.sendEOT()
			} else if !errors.Is(err, os.ErrClosed) {
				s.srv.Stats.IncReadErrors()
				log.Debugf("Read failed for %s: %v", s.tr.RemoteAddr(), err)
			}
			break
		}
		pkt, enc, cs, derr := protocol.Decode(protocol.ClientToServer, frame, s.lookupTemplate)
		if derr != nil {
			s.handleDecodeError(derr)
			continue
		}
		if !s.negotiateEncoding(enc, cs, pkt) {
			continue
		}
		s.srv.Stats.IncRX(pkt.Type)
		s.handlePacket(ctx, pkt)
	}
	s.state = stateClosed

	s.tr.Flush()
	s.tr.Close()
	s.persistSessionStats()
	log.Debugf("Session from %s closed after %s, %d events", s.tr.RemoteAddr(), s.srv.now().Sub(s.started), s.eventCount)
}

// handleDecodeError reports a framing failure and decides whether the
// stream can be resynchronised. Header disagreement and length
// corruption leave no way back; everything else continues.
func (s *session) handleDecodeError(derr error) {
	var de *protocol.DecodeError
	if !errors.As(derr, &de) {
		s.state = stateClosing
		return
	}
	s.sendError(de.Code, de.Header, de.Type, nil)
	if de.Code == protocol.NakPacketHeader || de.Code == protocol.NakPacketLength {
		s.sendEOT()
		s.state = stateClosing
	}
}

// negotiateEncoding locks the session encoding on the first packet and
// rejects later framing switches
func (s *session) negotiateEncoding(enc protocol.Encoding, checksum bool, pkt *protocol.Packet) bool {
	if s.locked {
		binaryNow := enc == protocol.EncodingBinary
		binaryLocked := s.enc == protocol.EncodingBinary
		if binaryNow != binaryLocked {
			s.sendError(protocol.NakPacketEncoding, pkt.Header, pkt.Type, nil)
			return false
		}
	}
	s.locked = true
	// an identified device speaking outside its declared support mask
	// is tolerated; the stored record may understate its firmware
	if s.device != nil && s.device.SupportedEncodings&enc.SupportBit() == 0 && !s.maskWarned {
		s.maskWarned = true
		log.Warningf("Device %s/%s sent a %s frame outside its encoding support mask", s.device.AccountID, s.device.DeviceID, enc)
	}
	// within ASCII, follow the discriminator the device last used
	s.enc = enc
	s.checksum = checksum
	return true
}

// outboundEncoding picks the framing for server packets: the locked
// session encoding when the device supports it, binary otherwise
func (s *session) outboundEncoding() protocol.Encoding {
	if s.device != nil && s.device.SupportedEncodings&s.enc.SupportBit() == 0 {
		return protocol.EncodingBinary
	}
	return s.enc
}

// lookupTemplate resolves a client packet type to its payload template:
// session uploads first, then stored per-device overrides, then the
// static table
func (s *session) lookupTemplate(ptype uint8) *protocol.Template {
	if t, ok := s.overrides[ptype]; ok {
		return t
	}
	if t, ok := s.stored[ptype]; ok {
		return t
	}
	if s.device != nil {
		if t := s.srv.Templates.Lookup(s.device.AccountID, s.device.DeviceID, ptype); t != nil {
			return t
		}
	}
	return protocol.StaticTemplate(protocol.ClientToServer, ptype)
}

func (s *session) handlePacket(ctx context.Context, pkt *protocol.Packet) {
	switch s.state {
	case stateAwaitingIdentity:
		s.handleIdentity(ctx, pkt)
	case stateIdentified, stateActive:
		s.handleActive(ctx, pkt)
	}
}

// handleIdentity processes the identification dialog
func (s *session) handleIdentity(ctx context.Context, pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeUniqueID:
		account, device, code := resolveUniqueID(ctx, s.srv.Store, pkt.Payload)
		if code != protocol.NakOK {
			s.terminate(code, pkt)
			return
		}
		s.identified(ctx, account, device, pkt)
	case protocol.TypeAccountID:
		s.pendingAccount = protocol.NewPayload(pkt.Payload).ReadString(-1)
	case protocol.TypeDeviceID:
		deviceID := protocol.NewPayload(pkt.Payload).ReadString(-1)
		account, device, code := resolveAccountDevice(ctx, s.srv.Store, s.pendingAccount, deviceID)
		if code != protocol.NakOK {
			s.terminate(code, pkt)
			return
		}
		s.identified(ctx, account, device, pkt)
	default:
		s.terminate(protocol.NakIDExpected, pkt)
	}
}

// identified moves the session to IDENTIFIED after running the
// rate-limit admission
func (s *session) identified(ctx context.Context, account *storage.Account, device *storage.Device, pkt *protocol.Packet) {
	s.account = account
	s.device = device
	log.Debugf("Session from %s identified as %s/%s", s.tr.RemoteAddr(), account.AccountID, device.DeviceID)

	if !s.admit() {
		s.srv.Stats.IncRateLimited()
		s.terminate(protocol.NakExcessiveConnections, pkt)
		return
	}

	// stored FORMAT_DEF_24 overrides from previous sessions
	if templates, err := s.srv.Store.LoadTemplates(ctx, device.AccountID, device.DeviceID); err == nil {
		for _, t := range templates {
			s.stored[t.PacketType] = t
		}
	}
	s.state = stateIdentified
}

// admit runs the once-per-session rate-limit check: the total profile
// for every transport, the duplex profile for TCP on top
func (s *session) admit() bool {
	d := s.device
	now := s.srv.now().Unix()
	s.admitTime = now

	s.total = NewRateProfile(d.UnitLimitIntervalMinutes, d.TotalProfileMask)
	ok := s.total.Admit(d.LastTotalConnectTime, now, d.TotalMaxConn, d.TotalMaxConnPerMin)
	if s.duplex {
		s.dup = NewRateProfile(d.UnitLimitIntervalMinutes, d.DuplexProfileMask)
		if !s.dup.Admit(d.LastDuplexConnectTime, now, d.DuplexMaxConn, d.DuplexMaxConnPerMin) {
			ok = false
		}
	}
	s.admitted = ok
	return ok
}

// handleActive processes the post-identification dialog
func (s *session) handleActive(ctx context.Context, pkt *protocol.Packet) {
	if protocol.IsEventType(pkt.Type) {
		s.state = stateActive
		s.handleEvent(ctx, pkt)
		return
	}
	switch pkt.Type {
	case protocol.TypeEOBDone:
		s.endBlock(true)
	case protocol.TypeEOBMore:
		s.endBlock(false)
	case protocol.TypePropertyValue:
		s.handleProperty(pkt)
	case protocol.TypeFormatDef24:
		s.handleFormatDef(ctx, pkt)
	case protocol.TypeDiagnostic:
		log.Debugf("Diagnostic from %s/%s: %X", s.device.AccountID, s.device.DeviceID, pkt.Payload)
	case protocol.TypeClientError:
		p := protocol.NewPayload(pkt.Payload)
		log.Warningf("Device %s/%s reports error 0x%04X", s.device.AccountID, s.device.DeviceID, p.ReadUint(2))
	default:
		s.sendError(protocol.NakPacketType, pkt.Header, pkt.Type, nil)
	}
	s.state = stateActive
}

// endBlock closes the current event block: acknowledge the sequence if
// one was seen, then answer the boundary packet
func (s *session) endBlock(done bool) {
	if s.haveSeq && s.blockEvents > 0 {
		ackPayload := protocol.NewPayload(nil)
		ackPayload.WriteUint(uint64(s.lastSeq), 4)
		s.send(protocol.NewPacket(protocol.ServerToClient, protocol.TypeAck, ackPayload.Bytes()))
	}
	s.blockEvents = 0
	s.haveSeq = false

	if done {
		s.send(protocol.NewPacket(protocol.ServerToClient, protocol.TypeEOBDone, nil))
		s.tr.Flush()
		return
	}
	s.send(protocol.NewPacket(protocol.ServerToClient, protocol.TypeEOBSpeakFreely, nil))
}

// handleEvent decodes, validates and persists one event packet
func (s *session) handleEvent(ctx context.Context, pkt *protocol.Packet) {
	tmpl := s.lookupTemplate(pkt.Type)
	if tmpl == nil {
		s.srv.Stats.IncEventsRejected()
		s.sendError(protocol.NakFormatNotRecognized, pkt.Header, pkt.Type, nil)
		return
	}

	if quota := s.device.MaxAllowedEvents; quota > 0 && s.eventCount >= quota {
		s.srv.Stats.IncEventsRejected()
		s.sendError(protocol.NakExcessiveEvents, pkt.Header, pkt.Type, nil)
		return
	}

	ev, err := protocol.DecodeEvent(tmpl, pkt.Payload)
	if err != nil {
		log.Debugf("Bad event 0x%02X from %s/%s: %v", pkt.Type, s.device.AccountID, s.device.DeviceID, err)
		s.srv.Stats.IncEventsRejected()
		s.sendError(protocol.NakEventError, pkt.Header, pkt.Type, nil)
		return
	}
	if tmpl.RequiresValidGPS() && !ev.Location.Valid() {
		s.srv.Stats.IncEventsRejected()
		s.sendError(protocol.NakEventError, pkt.Header, pkt.Type, nil)
		return
	}
	ev.Raw = append([]byte(nil), pkt.Payload...)
	ev.Source = s.source

	err = s.srv.Store.InsertEvent(ctx, s.device.AccountID, s.device.DeviceID, ev)
	switch {
	case errors.Is(err, storage.ErrDuplicateEvent):
		// re-delivery of a stored event still gets acknowledged
		s.srv.Stats.IncEventsDuplicate()
	case err != nil:
		log.Errorf("Failed to persist event from %s/%s: %v", s.device.AccountID, s.device.DeviceID, err)
		s.srv.Stats.IncEventsRejected()
		s.sendError(protocol.NakEventError, pkt.Header, pkt.Type, nil)
		return
	default:
		s.srv.Stats.IncEventsPersisted()
	}

	s.eventCount++
	s.blockEvents++
	if ev.HasSequence() {
		s.lastSeq = ev.Sequence
		s.haveSeq = true
	}
}

// handleProperty applies a device-reported property value. Properties
// are opaque to the session; they are logged and kept for operators.
func (s *session) handleProperty(pkt *protocol.Packet) {
	p := protocol.NewPayload(pkt.Payload)
	key := p.ReadUint(2)
	value := p.ReadBytes(-1)
	log.Debugf("Property 0x%04X = %X from %s/%s", key, value, s.device.AccountID, s.device.DeviceID)
}

// handleFormatDef registers a device-uploaded custom event template for
// this session and persists it for later ones
func (s *session) handleFormatDef(ctx context.Context, pkt *protocol.Packet) {
	tmpl, err := protocol.DecodeDef24(pkt.Payload)
	if err != nil {
		log.Debugf("Bad format definition from %s/%s: %v", s.device.AccountID, s.device.DeviceID, err)
		s.sendError(protocol.NakFormatNotRecognized, pkt.Header, pkt.Type, nil)
		return
	}
	s.overrides[tmpl.PacketType] = tmpl
	s.srv.Templates.Register(s.device.AccountID, s.device.DeviceID, tmpl)
	if err := s.srv.Store.StoreTemplate(ctx, s.device.AccountID, s.device.DeviceID, tmpl); err != nil {
		log.Errorf("Failed to store template 0x%02X for %s/%s: %v", tmpl.PacketType, s.device.AccountID, s.device.DeviceID, err)
	}
	log.Debugf("Registered custom format 0x%02X for %s/%s", tmpl.PacketType, s.device.AccountID, s.device.DeviceID)
}

// terminate reports a fatal condition: exactly one ERROR then EOT, then
// the session moves to CLOSING
func (s *session) terminate(code protocol.ErrorCode, causing *protocol.Packet) {
	s.sendError(code, causing.Header, causing.Type, nil)
	s.sendEOT()
	s.state = stateClosing
}

// sendError emits an ERROR packet naming the offending header and type
func (s *session) sendError(code protocol.ErrorCode, causingHeader, causingType uint8, extra []byte) {
	s.srv.Stats.IncNak(code)
	p := protocol.NewPayload(nil)
	p.WriteUint(uint64(code), 2)
	p.WriteUint(uint64(causingHeader), 1)
	p.WriteUint(uint64(causingType), 1)
	p.WriteBytes(extra, len(extra))
	s.send(protocol.NewPacket(protocol.ServerToClient, protocol.TypeServerError, p.Bytes()))
}

// sendEOT announces the server is about to close the transport
func (s *session) sendEOT() {
	s.send(protocol.NewPacket(protocol.ServerToClient, protocol.TypeEOT, nil))
	s.tr.Flush()
}

// send encodes and writes one outbound packet in the session encoding
func (s *session) send(pkt *protocol.Packet) {
	b, err := pkt.Encode(s.outboundEncoding(), s.checksum, func(t uint8) *protocol.Template {
		return protocol.StaticTemplate(protocol.ServerToClient, t)
	})
	if err != nil {
		log.Errorf("Failed to encode %s: %v", pkt, err)
		return
	}
	if _, err := s.tr.Write(b); err != nil {
		log.Debugf("Failed to write %s to %s: %v", pkt, s.tr.RemoteAddr(), err)
		return
	}
	s.srv.Stats.IncTX(pkt.Type)
}

// persistSessionStats writes the updated profile masks and last-connect
// times exactly once. Rejected sessions leave the stored record as-is.
func (s *session) persistSessionStats() {
	s.writeBack.Do(func() {
		if !s.admitted || s.device == nil {
			return
		}
		st := &storage.SessionStats{
			TotalProfileMask:     s.total.Mask(),
			LastTotalConnectTime: s.admitTime,
			Duplex:               s.duplex,
		}
		if s.duplex {
			st.DuplexProfileMask = s.dup.Mask()
			st.LastDuplexConnectTime = s.admitTime
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.srv.Config.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Store.UpdateDeviceSessionStats(ctx, s.device.AccountID, s.device.DeviceID, st); err != nil {
			log.Errorf("Failed to update session stats for %s/%s: %v", s.device.AccountID, s.device.DeviceID, err)
		}
	})
}
