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

package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/openmts/dmtp/protocol"
)

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	report counters

	counters
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	s := &JSONStats{}

	s.init()
	s.report.init()

	return s
}

// Start runs the http json server
func (s *JSONStats) Start(monitoringport int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	err := http.ListenAndServe(addr, mux)
	if err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

// handleRequest is a handler used for all http monitoring requests
func (s *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.report.toMap())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// Snapshot the values so they can be reported atomically
func (s *JSONStats) Snapshot() {
	s.counters.copy(&s.report)
}

// Reset atomically sets all the counters to 0
func (s *JSONStats) Reset() {
	s.reset()
}

// IncTCPConnections atomically adds 1 to the counter
func (s *JSONStats) IncTCPConnections() {
	s.inc("connections.tcp")
}

// IncUDPFlows atomically adds 1 to the counter
func (s *JSONStats) IncUDPFlows() {
	s.inc("connections.udp")
}

// IncActiveSessions atomically adds 1 to the counter
func (s *JSONStats) IncActiveSessions() {
	s.inc("sessions.active")
}

// DecActiveSessions atomically removes 1 from the counter
func (s *JSONStats) DecActiveSessions() {
	s.dec("sessions.active")
}

// IncRX atomically adds 1 to the received packet counter
func (s *JSONStats) IncRX(packetType uint8) {
	s.inc("rx." + strings.ToLower(protocol.TypeString(protocol.ClientToServer, packetType)))
}

// IncTX atomically adds 1 to the sent packet counter
func (s *JSONStats) IncTX(packetType uint8) {
	s.inc("tx." + strings.ToLower(protocol.TypeString(protocol.ServerToClient, packetType)))
}

// IncEventsPersisted atomically adds 1 to the counter
func (s *JSONStats) IncEventsPersisted() {
	s.inc("events.persisted")
}

// IncEventsDuplicate atomically adds 1 to the counter
func (s *JSONStats) IncEventsDuplicate() {
	s.inc("events.duplicate")
}

// IncEventsRejected atomically adds 1 to the counter
func (s *JSONStats) IncEventsRejected() {
	s.inc("events.rejected")
}

// IncNak atomically adds 1 to the per-code NAK counter
func (s *JSONStats) IncNak(code protocol.ErrorCode) {
	s.inc("nak." + strings.ToLower(code.String()))
}

// IncRateLimited atomically adds 1 to the counter
func (s *JSONStats) IncRateLimited() {
	s.inc("sessions.rate_limited")
}

// IncReadErrors atomically adds 1 to the counter
func (s *JSONStats) IncReadErrors() {
	s.inc("errors.read")
}

// IncTimeouts atomically adds 1 to the counter
func (s *JSONStats) IncTimeouts() {
	s.inc("errors.timeout")
}

// FetchCounters returns the counter map published by a running server's
// monitoring port
func FetchCounters(url string) (map[string]int64, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching counters: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	counters := map[string]int64{}
	if err := json.Unmarshal(body, &counters); err != nil {
		return nil, err
	}
	return counters, nil
}
