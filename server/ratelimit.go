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
	"math/bits"
)

/*
RateProfile is a fixed-width circular bitmap over connection history:
bit m set means "a connection happened m minutes ago", bit 0 being the
current minute. The width equals the device's unitLimitIntervalMinutes
at the moment the session begins; resizing mid-session is not
permitted.
*/
type RateProfile struct {
	minutes int
	mask    []byte
}

// NewRateProfile builds a profile of the given width from a stored
// mask. Stored masks of the wrong size are truncated or zero-extended;
// a zero width yields an empty profile (interval cap disabled).
func NewRateProfile(minutes int, stored []byte) *RateProfile {
	p := &RateProfile{minutes: minutes}
	if minutes <= 0 {
		return p
	}
	p.mask = make([]byte, (minutes+7)/8)
	copy(p.mask, stored)
	p.clampTail()
	return p
}

// clampTail zeroes bits beyond the profile width
func (p *RateProfile) clampTail() {
	if p.minutes%8 == 0 || len(p.mask) == 0 {
		return
	}
	p.mask[len(p.mask)-1] &= byte(1<<(p.minutes%8)) - 1
}

// Minutes returns the profile width
func (p *RateProfile) Minutes() int {
	return p.minutes
}

// Mask returns a copy of the bitmap for persistence
func (p *RateProfile) Mask() []byte {
	return append([]byte(nil), p.mask...)
}

// Bit reports whether a connection is recorded m minutes ago
func (p *RateProfile) Bit(m int) bool {
	if m < 0 || m >= p.minutes {
		return false
	}
	return p.mask[m/8]&(1<<(m%8)) != 0
}

// Shift ages the bitmap by n minutes: every bit moves towards the old
// end, bits past the width fall off, the fresh minutes are zero
func (p *RateProfile) Shift(n int) {
	if n <= 0 || p.minutes <= 0 {
		return
	}
	if n >= p.minutes {
		for i := range p.mask {
			p.mask[i] = 0
		}
		return
	}
	// byte part then bit part, low byte holds the newest minutes
	byteShift, bitShift := n/8, uint(n%8)
	if byteShift > 0 {
		copy(p.mask[byteShift:], p.mask)
		for i := 0; i < byteShift; i++ {
			p.mask[i] = 0
		}
	}
	if bitShift > 0 {
		var carry byte
		for i := 0; i < len(p.mask); i++ {
			next := p.mask[i] >> (8 - bitShift)
			p.mask[i] = p.mask[i]<<bitShift | carry
			carry = next
		}
	}
	p.clampTail()
}

// MarkConnection records a connection in the current minute
func (p *RateProfile) MarkConnection() {
	if p.minutes <= 0 {
		return
	}
	p.mask[0] |= 1
}

// Count returns the number of minutes in the whole interval that saw a
// connection
func (p *RateProfile) Count() int {
	n := 0
	for _, b := range p.mask {
		n += bits.OnesCount8(b)
	}
	return n
}

// CountCurrentMinute returns the connection count attributed to the
// most recent minute
func (p *RateProfile) CountCurrentMinute() int {
	if p.minutes <= 0 || p.mask[0]&1 == 0 {
		return 0
	}
	return 1
}

/*
Admit runs the once-per-session admission check: age the bitmap by the
minutes elapsed since the device's last connection, record the new
connection, and verify both caps. One bitmap bit covers a whole minute,
so a repeat connection within the current minute counts as a second hit
even though the bit is already set. A zero maxPerInterval or a zero
profile width disables the per-interval cap; a zero maxPerMinute
disables the per-minute cap. The aged bitmap is kept either way so the
rejection itself stays on the record.
*/
func (p *RateProfile) Admit(lastConnect, now int64, maxPerInterval, maxPerMinute uint32) bool {
	nowMin := now / 60
	lastMin := lastConnect / 60
	if shift := nowMin - lastMin; shift > 0 {
		n := int(shift)
		if n > p.minutes {
			n = p.minutes
		}
		p.Shift(n)
	}
	repeat := p.Bit(0) || (lastConnect > 0 && nowMin == lastMin)
	p.MarkConnection()
	// the bitmap holds one bit per minute, so this connection always
	// contributes 1 to the current minute regardless of profile width
	interval := uint32(p.Count())
	perMinute := uint32(1)
	if repeat {
		interval++
		perMinute = 2
	}
	if maxPerInterval > 0 && p.minutes > 0 && interval > maxPerInterval {
		return false
	}
	if maxPerMinute > 0 && perMinute > maxPerMinute {
		return false
	}
	return true
}
