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
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmts/dmtp/protocol"
)

// decodedEvent is the JSON view of one decoded event payload
type decodedEvent struct {
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Status    uint16  `json:"status"`
	Location  string  `json:"location"`
	Speed     float64 `json:"speed_kph"`
	Heading   float64 `json:"heading_deg"`
	Altitude  float64 `json:"altitude_m"`
	Odometer  float64 `json:"odometer_km,omitempty"`
	Sequence  string  `json:"sequence,omitempty"`
}

func decodeEventPayload(ptype uint8, payloadHex string) (*decodedEvent, error) {
	payload, err := hex.DecodeString(strings.ReplaceAll(payloadHex, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("parsing hex payload: %w", err)
	}
	tmpl := protocol.StaticTemplate(protocol.ClientToServer, ptype)
	if tmpl == nil {
		return nil, fmt.Errorf("no static template for event type 0x%02X", ptype)
	}
	ev, err := protocol.DecodeEvent(tmpl, payload)
	if err != nil {
		return nil, err
	}
	out := &decodedEvent{
		Type:      protocol.TypeString(protocol.ClientToServer, ptype),
		Timestamp: ev.Time().String(),
		Status:    ev.StatusCode,
		Location:  ev.Location.String(),
		Speed:     ev.Speed,
		Heading:   ev.Heading,
		Altitude:  ev.Altitude,
		Odometer:  ev.Odometer,
	}
	if ev.HasSequence() {
		out.Sequence = fmt.Sprintf("%d", ev.Sequence)
	}
	return out, nil
}

var eventType uint8

func init() {
	RootCmd.AddCommand(eventCmd)
	eventCmd.Flags().Uint8VarP(&eventType, "type", "t", protocol.TypeEventFixedStd, "event packet type byte")
}

var eventCmd = &cobra.Command{
	Use:   "event [payload]",
	Short: "Decode one event payload given as hex bytes and print it in JSON format",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()

		result, err := decodeEventPayload(eventType, args[0])
		if err != nil {
			log.Fatal(err)
		}
		toPrint, err := json.Marshal(result)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(toPrint))
	},
}
