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

package storage

import (
	"context"
	"sync"

	"github.com/openmts/dmtp/protocol"
)

type deviceKey struct {
	accountID string
	deviceID  string
}

type eventKey struct {
	accountID  string
	deviceID   string
	timestamp  int64
	statusCode uint16
}

type templateMemKey struct {
	accountID string
	deviceID  string
	ptype     uint8
}

// MemStore is a mutex-guarded in-memory Store
type MemStore struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	devices   map[deviceKey]*Device
	byUnique  map[uint64]deviceKey
	events    map[eventKey]*protocol.GeoEvent
	order     []eventKey // insertion order, for inspection in tests
	templates map[templateMemKey]*protocol.Template
}

// NewMemStore returns an empty MemStore
func NewMemStore() *MemStore {
	return &MemStore{
		accounts:  map[string]*Account{},
		devices:   map[deviceKey]*Device{},
		byUnique:  map[uint64]deviceKey{},
		events:    map[eventKey]*protocol.GeoEvent{},
		templates: map[templateMemKey]*protocol.Template{},
	}
}

// PutAccount inserts or replaces an account record
func (m *MemStore) PutAccount(a *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.AccountID] = &cp
}

// PutDevice inserts or replaces a device record
func (m *MemStore) PutDevice(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	k := deviceKey{d.AccountID, d.DeviceID}
	m.devices[k] = &cp
	if d.UniqueID != 0 {
		m.byUnique[d.UniqueID] = k
	}
}

// LookupAccount implements Store
func (m *MemStore) LookupAccount(_ context.Context, accountID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// LookupDevice implements Store
func (m *MemStore) LookupDevice(_ context.Context, accountID, deviceID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceKey{accountID, deviceID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// LookupDeviceByUniqueID implements Store
func (m *MemStore) LookupDeviceByUniqueID(_ context.Context, uniqueID uint64) (*Account, *Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.byUnique[uniqueID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	d := m.devices[k]
	a, ok := m.accounts[k.accountID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	acp, dcp := *a, *d
	return &acp, &dcp, nil
}

// InsertEvent implements Store: at most one row per
// (account, device, timestamp, status code)
func (m *MemStore) InsertEvent(_ context.Context, accountID, deviceID string, ev *protocol.GeoEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := eventKey{accountID, deviceID, ev.Timestamp, ev.StatusCode}
	if _, ok := m.events[k]; ok {
		return ErrDuplicateEvent
	}
	cp := *ev
	m.events[k] = &cp
	m.order = append(m.order, k)
	return nil
}

// UpdateDeviceSessionStats implements Store, last writer wins
func (m *MemStore) UpdateDeviceSessionStats(_ context.Context, accountID, deviceID string, st *SessionStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceKey{accountID, deviceID}]
	if !ok {
		return ErrNotFound
	}
	d.TotalProfileMask = append([]byte(nil), st.TotalProfileMask...)
	d.LastTotalConnectTime = st.LastTotalConnectTime
	if st.Duplex {
		d.DuplexProfileMask = append([]byte(nil), st.DuplexProfileMask...)
		d.LastDuplexConnectTime = st.LastDuplexConnectTime
	}
	return nil
}

// StoreTemplate implements Store
func (m *MemStore) StoreTemplate(_ context.Context, accountID, deviceID string, t *protocol.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateMemKey{accountID, deviceID, t.PacketType}] = t
	return nil
}

// LoadTemplates implements Store
func (m *MemStore) LoadTemplates(_ context.Context, accountID, deviceID string) ([]*protocol.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*protocol.Template
	for k, t := range m.templates {
		if k.accountID == accountID && k.deviceID == deviceID {
			out = append(out, t)
		}
	}
	return out, nil
}

// EventCount returns the number of stored events
func (m *MemStore) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Events returns stored events in insertion order
func (m *MemStore) Events() []*protocol.GeoEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*protocol.GeoEvent, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.events[k])
	}
	return out
}
