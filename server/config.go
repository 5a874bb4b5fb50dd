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
	"fmt"
	"net"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Default transport knobs
const (
	DefaultPort              = 31000
	DefaultMaxPacketLength   = 600
	DefaultIdleTimeout       = 4 * time.Second
	DefaultPacketTimeout     = 1 * time.Second
	DefaultSessionTimeout    = 5 * time.Second
	DefaultUDPSessionTimeout = 60 * time.Second
	DefaultLinger            = 5 * time.Second
	DefaultShutdownTimeout   = 2 * time.Second
)

// StaticConfig is the set of options which require a server restart
type StaticConfig struct {
	ConfigFile     string
	IP             net.IP
	Port           int
	LogLevel       string
	MonitoringPort int
}

// DynamicConfig is the set of options which can be reloaded from the
// config file without a restart
type DynamicConfig struct {
	// MaxPacketLength bounds one frame on the wire
	MaxPacketLength int `yaml:"max_packet_length"`
	// IdleTimeout closes a TCP session that reads no byte for this long
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// PacketTimeout bounds the assembly of a single packet
	PacketTimeout time.Duration `yaml:"packet_timeout"`
	// SessionTimeout bounds a whole TCP session
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// UDPSessionTimeout bounds a whole UDP flow
	UDPSessionTimeout time.Duration `yaml:"udp_session_timeout"`
	// Linger is the TCP close linger
	Linger time.Duration `yaml:"linger"`
	// ShutdownTimeout bounds the rate-profile write-back of sessions
	// abandoned by process shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config is the server config structure
type Config struct {
	StaticConfig
	DynamicConfig
}

// NewDefaultConfig returns a config with all transport defaults set
func NewDefaultConfig() *Config {
	return &Config{
		StaticConfig: StaticConfig{
			Port: DefaultPort,
		},
		DynamicConfig: DynamicConfig{
			MaxPacketLength:   DefaultMaxPacketLength,
			IdleTimeout:       DefaultIdleTimeout,
			PacketTimeout:     DefaultPacketTimeout,
			SessionTimeout:    DefaultSessionTimeout,
			UDPSessionTimeout: DefaultUDPSessionTimeout,
			Linger:            DefaultLinger,
			ShutdownTimeout:   DefaultShutdownTimeout,
		},
	}
}

// Validate checks if the config is sane
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxPacketLength < 256 {
		return fmt.Errorf("max packet length %d cannot hold a maximum size binary frame", c.MaxPacketLength)
	}
	if c.IdleTimeout <= 0 || c.PacketTimeout <= 0 || c.SessionTimeout <= 0 || c.UDPSessionTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// ReadDynamicConfig reads the reloadable options from a YAML file
func ReadDynamicConfig(path string) (*DynamicConfig, error) {
	dc := &DynamicConfig{}
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(cData, dc); err != nil {
		return nil, err
	}

	return dc, nil
}

// Write stores the reloadable options to a YAML file
func (dc *DynamicConfig) Write(path string) error {
	d, err := yaml.Marshal(dc)
	if err != nil {
		return err
	}

	return os.WriteFile(path, d, 0644)
}
