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
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/openmts/dmtp/protocol"
)

// transport delivers inbound frames one at a time and carries outbound
// bytes back to the device. Both TCP connections and UDP flows hide
// behind it so the session state machine is transport-agnostic.
type transport interface {
	// ReadFrame blocks for the next frame, honoring the read deadline
	ReadFrame() ([]byte, error)
	// Write queues outbound bytes
	Write(b []byte) (int, error)
	// Flush pushes queued outbound bytes to the wire
	Flush() error
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// tcpTransport assembles frames from one accepted connection. A frame
// whose first byte has arrived must complete within packetTimeout, even
// when the caller's idle deadline is further out.
type tcpTransport struct {
	conn          net.Conn
	w             *bufio.Writer
	packetTimeout time.Duration

	buf        []byte
	start, end int
	deadline   time.Time
	frameStart time.Time
}

func newTCPTransport(conn net.Conn, maxFrame int, packetTimeout time.Duration) *tcpTransport {
	return &tcpTransport{
		conn:          conn,
		w:             bufio.NewWriter(conn),
		packetTimeout: packetTimeout,
		buf:           make([]byte, maxFrame),
	}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	if t.start < t.end {
		// leftover bytes of the next frame arrived with the previous
		// one; their assembly clock starts when we come back for them
		t.frameStart = time.Now()
	}
	for {
		adv, frame, err := protocol.ScanFrames(t.buf[t.start:t.end], false)
		if err != nil {
			return nil, err
		}
		t.start += adv
		if frame != nil {
			cp := make([]byte, len(frame))
			copy(cp, frame)
			return cp, nil
		}
		if t.start == t.end {
			t.start, t.end = 0, 0
		} else {
			// a partial frame is buffered: tighten the deadline so the
			// remainder arrives within the packet timeout
			if t.packetTimeout > 0 {
				d := t.frameStart.Add(t.packetTimeout)
				if t.deadline.IsZero() || d.Before(t.deadline) {
					if err := t.conn.SetReadDeadline(d); err != nil {
						return nil, err
					}
				}
			}
			if t.end == len(t.buf) {
				if t.start == 0 {
					return nil, bufio.ErrTooLong
				}
				copy(t.buf, t.buf[t.start:t.end])
				t.end -= t.start
				t.start = 0
			}
		}
		n, err := t.conn.Read(t.buf[t.end:])
		if n > 0 {
			if t.start == t.end {
				t.frameStart = time.Now()
			}
			t.end += n
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, os.ErrClosed
		}
		return nil, err
	}
}

func (t *tcpTransport) Write(b []byte) (int, error) {
	return t.w.Write(b)
}

func (t *tcpTransport) Flush() error {
	return t.w.Flush()
}

func (t *tcpTransport) SetReadDeadline(d time.Time) error {
	t.deadline = d
	return t.conn.SetReadDeadline(d)
}

func (t *tcpTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *tcpTransport) Close() error {
	t.w.Flush()
	return t.conn.Close()
}

// udpWriter is the narrow slice of net.UDPConn a flow writes through;
// an interface so tests can capture outbound datagrams
type udpWriter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// udpTransport is one demuxed datagram flow. The server read loop
// delivers whole datagrams; the transport splits them into frames and
// feeds the session.
type udpTransport struct {
	conn   udpWriter
	remote net.Addr

	frames chan []byte

	mu       sync.Mutex
	deadline time.Time
	closed   chan struct{}
	once     sync.Once
}

// udpFrameBacklog bounds undelivered frames per flow; a device that
// floods faster than its session drains loses the excess
const udpFrameBacklog = 64

func newUDPTransport(conn udpWriter, remote net.Addr) *udpTransport {
	return &udpTransport{
		conn:   conn,
		remote: remote,
		frames: make(chan []byte, udpFrameBacklog),
		closed: make(chan struct{}),
	}
}

// deliver splits one datagram into frames and queues them
func (t *udpTransport) deliver(datagram []byte) {
	rest := datagram
	for len(rest) > 0 {
		adv, frame, err := protocol.ScanFrames(rest, true)
		if err != nil || adv == 0 {
			return
		}
		rest = rest[adv:]
		if frame == nil {
			continue
		}
		cp := make([]byte, len(frame))
		copy(cp, frame)
		select {
		case t.frames <- cp:
		case <-t.closed:
			return
		default:
			// backlog full, drop
			return
		}
	}
}

func (t *udpTransport) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	deadline := t.deadline
	t.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case frame := <-t.frames:
		return frame, nil
	case <-timeout:
		return nil, os.ErrDeadlineExceeded
	case <-t.closed:
		return nil, os.ErrClosed
	}
}

func (t *udpTransport) Write(b []byte) (int, error) {
	return t.conn.WriteTo(b, t.remote)
}

// Flush is a no-op: datagrams leave on Write
func (t *udpTransport) Flush() error {
	return nil
}

func (t *udpTransport) SetReadDeadline(d time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = d
	return nil
}

func (t *udpTransport) RemoteAddr() net.Addr {
	return t.remote
}

func (t *udpTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
