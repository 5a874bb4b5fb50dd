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

	"github.com/openmts/dmtp/protocol"
	"github.com/openmts/dmtp/storage"
)

// maxIdentifierLength caps account and device name payloads
const maxIdentifierLength = 20

// uniqueIDFromBytes converts the 6-byte wire form of a unique ID to
// its 48-bit integer. IDs with any of the top 16 bits set are rejected.
func uniqueIDFromBytes(b []byte) (uint64, bool) {
	if len(b) != 6 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	if v == 0 || v>>32 != 0 {
		return 0, false
	}
	return v, true
}

// resolveUniqueID translates a unique-ID payload into account and
// device records. A NAK code other than NakOK terminates the session.
func resolveUniqueID(ctx context.Context, store storage.Store, payload []byte) (*storage.Account, *storage.Device, protocol.ErrorCode) {
	uid, ok := uniqueIDFromBytes(payload)
	if !ok {
		return nil, nil, protocol.NakUniqueIDInvalid
	}
	account, device, err := store.LookupDeviceByUniqueID(ctx, uid)
	if err != nil {
		return nil, nil, protocol.NakUniqueIDInvalid
	}
	if !account.IsActive {
		return nil, nil, protocol.NakAccountInvalid
	}
	if !device.IsActive {
		return nil, nil, protocol.NakDeviceInvalid
	}
	return account, device, protocol.NakOK
}

// resolveAccountDevice translates account and device names into their
// records. Missing or inactive accounts report ACCOUNT_INVALID, missing
// or inactive devices DEVICE_INVALID.
func resolveAccountDevice(ctx context.Context, store storage.Store, accountID, deviceID string) (*storage.Account, *storage.Device, protocol.ErrorCode) {
	if accountID == "" || len(accountID) > maxIdentifierLength {
		return nil, nil, protocol.NakAccountInvalid
	}
	if deviceID == "" || len(deviceID) > maxIdentifierLength {
		return nil, nil, protocol.NakDeviceInvalid
	}
	account, err := store.LookupAccount(ctx, accountID)
	if err != nil {
		return nil, nil, protocol.NakAccountInvalid
	}
	if !account.IsActive {
		return nil, nil, protocol.NakAccountInvalid
	}
	device, err := store.LookupDevice(ctx, accountID, deviceID)
	if err != nil {
		return nil, nil, protocol.NakDeviceInvalid
	}
	if !device.IsActive {
		return nil, nil, protocol.NakDeviceInvalid
	}
	return account, device, protocol.NakOK
}
