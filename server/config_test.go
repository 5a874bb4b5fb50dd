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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaultsValidate(t *testing.T) {
	c := NewDefaultConfig()
	require.NoError(t, c.Validate())
	require.Equal(t, DefaultPort, c.Port)
	require.Equal(t, DefaultMaxPacketLength, c.MaxPacketLength)
}

func TestConfigValidateErrors(t *testing.T) {
	c := NewDefaultConfig()
	c.Port = 0
	require.Error(t, c.Validate())

	c = NewDefaultConfig()
	c.Port = 70000
	require.Error(t, c.Validate())

	c = NewDefaultConfig()
	c.MaxPacketLength = 100
	require.Error(t, c.Validate())

	c = NewDefaultConfig()
	c.IdleTimeout = 0
	require.Error(t, c.Validate())
}

func TestDynamicConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmtp.yaml")
	dc := &DynamicConfig{
		MaxPacketLength:   1024,
		IdleTimeout:       8 * time.Second,
		PacketTimeout:     time.Second,
		SessionTimeout:    10 * time.Second,
		UDPSessionTimeout: 2 * time.Minute,
		Linger:            3 * time.Second,
		ShutdownTimeout:   time.Second,
	}
	require.NoError(t, dc.Write(path))

	got, err := ReadDynamicConfig(path)
	require.NoError(t, err)
	require.Equal(t, dc, got)
}

func TestDynamicConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmtp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`max_packet_length: 2048
idle_timeout: 6s
session_timeout: 30s
`), 0644))

	dc, err := ReadDynamicConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2048, dc.MaxPacketLength)
	require.Equal(t, 6*time.Second, dc.IdleTimeout)
	require.Equal(t, 30*time.Second, dc.SessionTimeout)
}

func TestDynamicConfigMissingFile(t *testing.T) {
	_, err := ReadDynamicConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
