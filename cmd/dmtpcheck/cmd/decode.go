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

var decodeFromServer bool

// decodedPacket is the JSON view of one decoded frame
type decodedPacket struct {
	Direction string `json:"direction"`
	Type      string `json:"type"`
	TypeByte  uint8  `json:"type_byte"`
	Encoding  string `json:"encoding"`
	Checksum  bool   `json:"checksum"`
	Payload   string `json:"payload"`
}

func decodeFrame(arg string, d protocol.Direction) (*decodedPacket, error) {
	var frame []byte
	if strings.HasPrefix(arg, "$") || strings.HasPrefix(arg, "'") {
		frame = []byte(strings.Trim(arg, "'") + "\r\n")
	} else {
		b, err := hex.DecodeString(strings.ReplaceAll(arg, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("parsing hex frame: %w", err)
		}
		frame = b
	}
	pkt, enc, checksum, err := protocol.Decode(d, frame, func(t uint8) *protocol.Template {
		return protocol.StaticTemplate(d, t)
	})
	if err != nil {
		return nil, err
	}
	return &decodedPacket{
		Direction: d.String(),
		Type:      protocol.TypeString(d, pkt.Type),
		TypeByte:  pkt.Type,
		Encoding:  enc.String(),
		Checksum:  checksum,
		Payload:   hex.EncodeToString(pkt.Payload),
	}, nil
}

func init() {
	RootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVarP(&decodeFromServer, "server", "S", false, "decode as a server->client packet")
}

var decodeCmd = &cobra.Command{
	Use:   "decode [frame]",
	Short: "Decode one frame given as hex bytes or an ASCII line and print it in JSON format",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()

		d := protocol.ClientToServer
		if decodeFromServer {
			d = protocol.ServerToClient
		}
		result, err := decodeFrame(args[0], d)
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
