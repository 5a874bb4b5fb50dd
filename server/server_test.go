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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmts/dmtp/protocol"
)

// syncWriter is a captureWriter safe for the session goroutine
type syncWriter struct {
	mu sync.Mutex
	captureWriter
}

func (w *syncWriter) WriteTo(b []byte, addr net.Addr) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.captureWriter.WriteTo(b, addr)
}

func (w *syncWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.datagrams)
}

func TestServerUDPFlowDemux(t *testing.T) {
	srv, store := testServer(t)
	srv.Clock = nil // sessions run on real time here
	srv.Config.IdleTimeout = 100 * time.Millisecond
	srv.Config.UDPSessionTimeout = time.Second
	srv.flows = map[string]*udpTransport{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &syncWriter{}
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 31000}

	// same endpoint reuses the flow, a different one gets its own
	tr := srv.flowFor(ctx, w, remote)
	require.Same(t, tr, srv.flowFor(ctx, w, remote))
	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 8), Port: 31000}
	require.NotSame(t, tr, srv.flowFor(ctx, w, other))

	// identification followed by an event block
	ev := &protocol.GeoEvent{
		Timestamp: 1720999000,
		Location:  protocol.GeoPoint{Lat: 37.48508, Lon: -122.14843},
		Sequence:  3,
	}
	tr.deliver(uniqueIDFrame(t))
	tr.deliver(stdEventFrame(t, ev))
	tr.deliver(binaryFrame(t, protocol.TypeEOBDone, nil))

	require.Eventually(t, func() bool {
		return store.EventCount() == 1 && w.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "udp", store.Events()[0].Source)

	// the flow entry is reaped once the session ends
	cancel()
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.flows) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
