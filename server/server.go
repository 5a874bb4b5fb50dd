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
Package server accepts DMTP device sessions over TCP and UDP on a shared
port, drives the per-session state machine and enforces the per-device
connection rate limits.
*/
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openmts/dmtp/protocol"
	"github.com/openmts/dmtp/stats"
	"github.com/openmts/dmtp/storage"
)

// maxUDPDatagram covers any datagram a device can legally send
const maxUDPDatagram = 65535

// Server is the DMTP telemetry server
type Server struct {
	Config    *Config
	Store     storage.Store
	Stats     stats.Stats
	Templates *protocol.TemplateRegistry

	// Clock is overridable for tests; nil means time.Now
	Clock func() time.Time

	mu       sync.Mutex
	flows    map[string]*udpTransport
	sessions sync.WaitGroup
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Start listens on the configured TCP and UDP port and serves sessions
// until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if s.Templates == nil {
		s.Templates = protocol.NewTemplateRegistry()
	}
	s.flows = map[string]*udpTransport{}

	addr := &net.TCPAddr{IP: s.Config.IP, Port: s.Config.Port}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on tcp port %d: %w", s.Config.Port, err)
	}
	defer ln.Close()

	uconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: s.Config.IP, Port: s.Config.Port})
	if err != nil {
		return fmt.Errorf("listening on udp port %d: %w", s.Config.Port, err)
	}
	defer uconn.Close()

	log.Infof("Listening on %s tcp+udp", ln.Addr())

	// cancellation unblocks both read loops
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		uconn.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.serveTCP(ctx, ln)
	}()
	go func() {
		defer wg.Done()
		s.serveUDP(ctx, uconn)
	}()
	wg.Wait()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.Config.ShutdownTimeout):
		log.Warning("Shutdown timeout expired with sessions still draining")
	}
	return ctx.Err()
}

func (s *Server) serveTCP(ctx context.Context, ln *net.TCPListener) {
	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("Accept failed: %v", err)
			}
			return
		}
		s.Stats.IncTCPConnections()
		if err := conn.SetLinger(int(s.Config.Linger / time.Second)); err != nil {
			log.Debugf("Failed to set linger on %s: %v", conn.RemoteAddr(), err)
		}
		tr := newTCPTransport(conn, s.Config.MaxPacketLength, s.Config.PacketTimeout)
		sess := newSession(s, tr, true)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			sess.run(ctx)
		}()
	}
}

// serveUDP demuxes datagrams into per-endpoint flows, each served by
// its own session over a udpTransport
func (s *Server) serveUDP(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, maxUDPDatagram)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("UDP read failed: %v", err)
			}
			return
		}
		s.flowFor(ctx, conn, remote).deliver(buf[:n])
	}
}

// flowFor returns the live flow for a remote endpoint, starting a new
// session when none exists
func (s *Server) flowFor(ctx context.Context, conn udpWriter, remote net.Addr) *udpTransport {
	key := remote.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.flows[key]; ok {
		return tr
	}
	tr := newUDPTransport(conn, remote)
	s.flows[key] = tr
	s.Stats.IncUDPFlows()

	sess := newSession(s, tr, false)
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		sess.run(ctx)
		s.mu.Lock()
		if s.flows[key] == tr {
			delete(s.flows, key)
		}
		s.mu.Unlock()
	}()
	return tr
}

// UpdateDynamicConfig reloads the reloadable options from the config file
func (s *Server) UpdateDynamicConfig() {
	dc, err := ReadDynamicConfig(s.Config.ConfigFile)
	if err != nil {
		log.Errorf("Failed to read dynamic config: %v", err)
		return
	}
	s.Config.DynamicConfig = *dc
	log.Infof("Dynamic config applied: %+v", *dc)
}
