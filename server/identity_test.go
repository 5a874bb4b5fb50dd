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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmts/dmtp/protocol"
	"github.com/openmts/dmtp/storage"
)

func testStore(t *testing.T) *storage.MemStore {
	t.Helper()
	m := storage.NewMemStore()
	m.PutAccount(&storage.Account{AccountID: "acme", IsActive: true})
	m.PutAccount(&storage.Account{AccountID: "dormant", IsActive: false})
	m.PutDevice(&storage.Device{
		AccountID: "acme", DeviceID: "truck-7", UniqueID: 0x12345678,
		IsActive:           true,
		SupportedEncodings: protocol.SupportBinary | protocol.SupportBase64,
	})
	m.PutDevice(&storage.Device{
		AccountID: "acme", DeviceID: "truck-8", UniqueID: 0x22334455,
		IsActive: false,
	})
	m.PutDevice(&storage.Device{
		AccountID: "dormant", DeviceID: "unit-1", UniqueID: 0x99887766,
		IsActive: true,
	})
	return m
}

func TestUniqueIDFromBytes(t *testing.T) {
	v, ok := uniqueIDFromBytes([]byte{0x00, 0x00, 0x12, 0x34, 0x56, 0x78})
	require.True(t, ok)
	require.Equal(t, uint64(0x12345678), v)

	// wrong width
	_, ok = uniqueIDFromBytes([]byte{0x12, 0x34})
	require.False(t, ok)

	// zero
	_, ok = uniqueIDFromBytes([]byte{0, 0, 0, 0, 0, 0})
	require.False(t, ok)

	// reserved top bits set
	_, ok = uniqueIDFromBytes([]byte{0xFF, 0x00, 0x12, 0x34, 0x56, 0x78})
	require.False(t, ok)
}

func TestResolveUniqueID(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	account, device, code := resolveUniqueID(ctx, store, []byte{0, 0, 0x12, 0x34, 0x56, 0x78})
	require.Equal(t, protocol.NakOK, code)
	require.Equal(t, "acme", account.AccountID)
	require.Equal(t, "truck-7", device.DeviceID)

	// unknown ID
	_, _, code = resolveUniqueID(ctx, store, []byte{0, 0, 0x0B, 0xAD, 0x1D, 0x00})
	require.Equal(t, protocol.NakUniqueIDInvalid, code)

	// malformed payload
	_, _, code = resolveUniqueID(ctx, store, []byte{0x12})
	require.Equal(t, protocol.NakUniqueIDInvalid, code)

	// inactive device
	_, _, code = resolveUniqueID(ctx, store, []byte{0, 0, 0x22, 0x33, 0x44, 0x55})
	require.Equal(t, protocol.NakDeviceInvalid, code)

	// inactive account wins over an active device
	_, _, code = resolveUniqueID(ctx, store, []byte{0, 0, 0x99, 0x88, 0x77, 0x66})
	require.Equal(t, protocol.NakAccountInvalid, code)
}

func TestResolveAccountDevice(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	account, device, code := resolveAccountDevice(ctx, store, "acme", "truck-7")
	require.Equal(t, protocol.NakOK, code)
	require.Equal(t, "acme", account.AccountID)
	require.Equal(t, "truck-7", device.DeviceID)

	_, _, code = resolveAccountDevice(ctx, store, "nobody", "truck-7")
	require.Equal(t, protocol.NakAccountInvalid, code)

	_, _, code = resolveAccountDevice(ctx, store, "acme", "missing")
	require.Equal(t, protocol.NakDeviceInvalid, code)

	_, _, code = resolveAccountDevice(ctx, store, "dormant", "unit-1")
	require.Equal(t, protocol.NakAccountInvalid, code)

	_, _, code = resolveAccountDevice(ctx, store, "acme", "truck-8")
	require.Equal(t, protocol.NakDeviceInvalid, code)

	// empty and oversized names
	_, _, code = resolveAccountDevice(ctx, store, "", "truck-7")
	require.Equal(t, protocol.NakAccountInvalid, code)

	_, _, code = resolveAccountDevice(ctx, store, "acme", strings.Repeat("x", 21))
	require.Equal(t, protocol.NakDeviceInvalid, code)
}
