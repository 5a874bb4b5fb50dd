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
Package storage defines the persistence boundary of the telemetry
server: account and device records, event rows and the Store interface
the session core talks to. The package also ships an in-memory Store
used by tests and standalone runs; production deployments provide their
own implementation behind the same interface.
*/
package storage

import (
	"context"
	"errors"

	"github.com/openmts/dmtp/protocol"
)

// ErrNotFound is returned by lookups that matched no row
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned when an event row already exists for
// its composite key (account, device, timestamp, status code)
var ErrDuplicateEvent = errors.New("duplicate event")

// Account is one customer account; devices hang off it
type Account struct {
	AccountID    string
	Description  string
	IsActive     bool
	PasswordHash string
}

// Device is one tracking unit. Rate-limit state (profile masks and
// last-connect times) is read at session start and written back once at
// session end.
type Device struct {
	AccountID          string
	DeviceID           string
	UniqueID           uint64 // 48-bit wire identifier, 0 when unset
	Description        string
	IsActive           bool
	SupportedEncodings uint8 // protocol.Support* bitmask

	UnitLimitIntervalMinutes int
	MaxAllowedEvents         uint32

	TotalMaxConn         uint32
	TotalMaxConnPerMin   uint32
	LastTotalConnectTime int64
	TotalProfileMask     []byte

	DuplexMaxConn         uint32
	DuplexMaxConnPerMin   uint32
	LastDuplexConnectTime int64
	DuplexProfileMask     []byte
}

// SessionStats is the per-session rate accounting written back when a
// session closes
type SessionStats struct {
	TotalProfileMask      []byte
	LastTotalConnectTime  int64
	DuplexProfileMask     []byte
	LastDuplexConnectTime int64
	Duplex                bool
}

// Store is the persistence interface consumed by the protocol core.
// Implementations must be safe for concurrent calls from independent
// sessions and must insert events at most once per composite key.
type Store interface {
	LookupAccount(ctx context.Context, accountID string) (*Account, error)
	LookupDevice(ctx context.Context, accountID, deviceID string) (*Device, error)
	LookupDeviceByUniqueID(ctx context.Context, uniqueID uint64) (*Account, *Device, error)
	InsertEvent(ctx context.Context, accountID, deviceID string, ev *protocol.GeoEvent) error
	UpdateDeviceSessionStats(ctx context.Context, accountID, deviceID string, st *SessionStats) error

	// FORMAT_DEF_24 overrides that outlive a session
	StoreTemplate(ctx context.Context, accountID, deviceID string, t *protocol.Template) error
	LoadTemplates(ctx context.Context, accountID, deviceID string) ([]*protocol.Template, error)
}
