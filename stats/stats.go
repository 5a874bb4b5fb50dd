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
Package stats implements statistics collection and reporting for the
telemetry server: an interface the server reports into, a JSON
implementation served over HTTP, and a Prometheus exporter mirroring
the same counters.
*/
package stats

import (
	"sync"

	"github.com/openmts/dmtp/protocol"
)

// Stats is a metric collection interface
type Stats interface {
	// IncTCPConnections atomically adds 1 to the accepted TCP connection counter
	IncTCPConnections()
	// IncUDPFlows atomically adds 1 to the accepted UDP flow counter
	IncUDPFlows()
	// IncActiveSessions atomically adds 1 to the running session gauge
	IncActiveSessions()
	// DecActiveSessions atomically removes 1 from the running session gauge
	DecActiveSessions()
	// IncRX counts one received packet of the given type
	IncRX(packetType uint8)
	// IncTX counts one sent packet of the given type
	IncTX(packetType uint8)
	// IncEventsPersisted counts one stored event row
	IncEventsPersisted()
	// IncEventsDuplicate counts one event dropped as a duplicate
	IncEventsDuplicate()
	// IncEventsRejected counts one event refused (bad fix, quota, store error)
	IncEventsRejected()
	// IncNak counts one ERROR packet sent with the given code
	IncNak(code protocol.ErrorCode)
	// IncRateLimited counts one session rejected by the admission check
	IncRateLimited()
	// IncReadErrors counts one transport read failure
	IncReadErrors()
	// IncTimeouts counts one session ended by a deadline
	IncTimeouts()
	// Snapshot the values so they can be reported atomically
	Snapshot()
	// Reset atomically sets all the counters to 0
	Reset()
}

// counters is a concurrency-safe string-keyed counter set
type counters struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *counters) init() {
	c.m = map[string]int64{}
}

func (c *counters) inc(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]++
}

func (c *counters) dec(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]--
}

func (c *counters) load(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key]
}

func (c *counters) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.m {
		c.m[k] = 0
	}
}

func (c *counters) copy(dst *counters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	for k := range dst.m {
		delete(dst.m, k)
	}
	for k, v := range c.m {
		dst.m[k] = v
	}
}

func (c *counters) toMap() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}
