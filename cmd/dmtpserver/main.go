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

package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openmts/dmtp/server"
	"github.com/openmts/dmtp/stats"
	"github.com/openmts/dmtp/storage"
)

func main() {
	c := server.NewDefaultConfig()

	var ipaddr string
	var pprofaddr string
	var snapshotInterval time.Duration

	flag.StringVar(&ipaddr, "ip", "::", "IP to bind on")
	flag.IntVar(&c.Port, "port", server.DefaultPort, "Port to listen on for both TCP and UDP")
	flag.StringVar(&pprofaddr, "pprofaddr", "", "host:port for the pprof to bind")
	flag.StringVar(&c.LogLevel, "loglevel", "warning", "Set a log level. Can be: debug, info, warning, error")
	flag.IntVar(&c.MonitoringPort, "monitoringport", 8888, "Port to run monitoring server on")
	flag.StringVar(&c.ConfigFile, "config", "", "Path to the dynamic config file")
	flag.IntVar(&c.MaxPacketLength, "maxpacketlength", server.DefaultMaxPacketLength, "Maximum length of one frame on the wire")
	flag.DurationVar(&c.IdleTimeout, "idletimeout", server.DefaultIdleTimeout, "Close a TCP session idle for this long")
	flag.DurationVar(&c.SessionTimeout, "sessiontimeout", server.DefaultSessionTimeout, "Maximum duration of one TCP session")
	flag.DurationVar(&c.UDPSessionTimeout, "udpsessiontimeout", server.DefaultUDPSessionTimeout, "Maximum duration of one UDP flow")
	flag.DurationVar(&snapshotInterval, "snapshotinterval", 1*time.Second, "Interval of snapshotting monitoring counters")

	flag.Parse()

	switch c.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", c.LogLevel)
	}

	c.IP = net.ParseIP(ipaddr)

	if c.ConfigFile != "" {
		dc, err := server.ReadDynamicConfig(c.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to read config file: %v", err)
		}
		c.DynamicConfig = *dc
	}

	if err := c.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if pprofaddr != "" {
		log.Warningf("Starting profiler on %s", pprofaddr)
		go func() {
			log.Println(http.ListenAndServe(pprofaddr, nil))
		}()
	}

	// Monitoring
	// Replace with your implementation of Stats
	st := stats.NewJSONStats()
	go st.Start(c.MonitoringPort)
	go func() {
		for ; ; time.Sleep(snapshotInterval) {
			st.Snapshot()
		}
	}()

	s := &server.Server{
		Config: c,
		Store:  storage.NewMemStore(),
		Stats:  st,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for received := range sig {
			if received == syscall.SIGHUP {
				if c.ConfigFile != "" {
					s.UpdateDynamicConfig()
				}
				continue
			}
			log.Infof("Shutting down on %s", received)
			cancel()
			return
		}
	}()

	if err := s.Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Server run failed: %v", err)
	}
}
