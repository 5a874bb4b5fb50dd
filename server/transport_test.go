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
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	datagrams [][]byte
	addrs     []net.Addr
}

func (w *captureWriter) WriteTo(b []byte, addr net.Addr) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	w.datagrams = append(w.datagrams, cp)
	w.addrs = append(w.addrs, addr)
	return len(b), nil
}

func TestTCPTransportFraming(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := newTCPTransport(server, DefaultMaxPacketLength, 0)
	defer tr.Close()

	go func() {
		client.Write([]byte{0xE0, 0x00, 0x00})
		client.Write([]byte("$E011=AAASNFZ4\r\n"))
		client.Close()
	}()

	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0xE0, 0x00, 0x00}, frame)

	frame, err = tr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "$E011=AAASNFZ4", string(frame))

	// clean peer close reads as os.ErrClosed
	_, err = tr.ReadFrame()
	require.ErrorIs(t, err, os.ErrClosed)
}

func TestTCPTransportPacketAssemblyTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := newTCPTransport(server, DefaultMaxPacketLength, 50*time.Millisecond)
	defer tr.Close()
	require.NoError(t, tr.SetReadDeadline(time.Now().Add(time.Second)))

	// frame header arrives, the payload stalls past the packet timeout
	go func() {
		client.Write([]byte{0xE0, 0x11, 0x06})
		time.Sleep(300 * time.Millisecond)
		client.Write([]byte{0x00, 0x00, 0x12, 0x34, 0x56, 0x78})
	}()

	start := time.Now()
	_, err := tr.ReadFrame()
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	require.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestTCPTransportSlowFrameAssembles(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := newTCPTransport(server, DefaultMaxPacketLength, 500*time.Millisecond)
	defer tr.Close()
	require.NoError(t, tr.SetReadDeadline(time.Now().Add(time.Second)))

	// trickled in two writes, but within the packet timeout
	go func() {
		client.Write([]byte{0xE0, 0x11, 0x06})
		time.Sleep(20 * time.Millisecond)
		client.Write([]byte{0x00, 0x00, 0x12, 0x34, 0x56, 0x78})
	}()

	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0xE0, 0x11, 0x06, 0x00, 0x00, 0x12, 0x34, 0x56, 0x78}, frame)
}

func TestTCPTransportWriteBuffered(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := newTCPTransport(server, DefaultMaxPacketLength, 0)
	defer tr.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	_, err := tr.Write([]byte{0xE0, 0xFF, 0x00})
	require.NoError(t, err)
	require.NoError(t, tr.Flush())
	require.Equal(t, []byte{0xE0, 0xFF, 0x00}, <-done)
}

func TestUDPTransportDeliver(t *testing.T) {
	w := &captureWriter{}
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 31000}
	tr := newUDPTransport(w, remote)
	defer tr.Close()

	// two frames in one datagram
	datagram := append([]byte{0xE0, 0x00, 0x00}, []byte("$E001\r\n")...)
	tr.deliver(datagram)

	require.NoError(t, tr.SetReadDeadline(time.Now().Add(time.Second)))
	frame, err := tr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte{0xE0, 0x00, 0x00}, frame)

	frame, err = tr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "$E001", string(frame))
}

func TestUDPTransportDeadline(t *testing.T) {
	tr := newUDPTransport(&captureWriter{}, &net.UDPAddr{})
	defer tr.Close()

	require.NoError(t, tr.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, err := tr.ReadFrame()
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// a deadline already in the past fails immediately
	require.NoError(t, tr.SetReadDeadline(time.Now().Add(-time.Second)))
	_, err = tr.ReadFrame()
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestUDPTransportClose(t *testing.T) {
	tr := newUDPTransport(&captureWriter{}, &net.UDPAddr{})
	require.NoError(t, tr.Close())
	// closing twice is fine
	require.NoError(t, tr.Close())

	_, err := tr.ReadFrame()
	require.ErrorIs(t, err, os.ErrClosed)

	// frames delivered after close are dropped, not stuck
	tr.deliver([]byte{0xE0, 0x00, 0x00})
}

func TestUDPTransportWriteTargetsRemote(t *testing.T) {
	w := &captureWriter{}
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 31000}
	tr := newUDPTransport(w, remote)
	defer tr.Close()

	_, err := tr.Write([]byte{0xE0, 0xFF, 0x00})
	require.NoError(t, err)
	require.Len(t, w.datagrams, 1)
	require.Equal(t, []byte{0xE0, 0xFF, 0x00}, w.datagrams[0])
	require.Equal(t, remote, w.addrs[0])
}
