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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateProfileBits(t *testing.T) {
	p := NewRateProfile(10, nil)
	require.Equal(t, 10, p.Minutes())
	require.Equal(t, 2, len(p.Mask()))
	require.False(t, p.Bit(0))

	p.MarkConnection()
	require.True(t, p.Bit(0))
	require.Equal(t, 1, p.Count())
	require.Equal(t, 1, p.CountCurrentMinute())

	// out of range bits read as unset
	require.False(t, p.Bit(-1))
	require.False(t, p.Bit(10))
}

func TestRateProfileClampTail(t *testing.T) {
	// stored mask wider than the profile: bits past minute 9 are dropped
	p := NewRateProfile(10, []byte{0xFF, 0xFF, 0xFF})
	require.Equal(t, 10, p.Count())
	require.True(t, p.Bit(9))
	require.False(t, p.Bit(10))
}

func TestRateProfileShift(t *testing.T) {
	p := NewRateProfile(16, []byte{0x01, 0x00})
	p.Shift(3)
	require.False(t, p.Bit(0))
	require.True(t, p.Bit(3))

	// shift across the byte boundary
	p.Shift(8)
	require.True(t, p.Bit(11))
	require.Equal(t, 1, p.Count())

	// bits falling off the old end disappear
	p.Shift(5)
	require.Equal(t, 0, p.Count())
}

func TestRateProfileShiftWholeWidth(t *testing.T) {
	p := NewRateProfile(10, []byte{0xFF, 0x03})
	p.Shift(10)
	require.Equal(t, 0, p.Count())

	p = NewRateProfile(10, []byte{0xFF, 0x03})
	p.Shift(100)
	require.Equal(t, 0, p.Count())
}

func TestRateProfileAdmitInterval(t *testing.T) {
	// 3 connections allowed per 10 minute interval, one per distinct minute
	var mask []byte
	last := int64(0)
	now := int64(1721000000)
	for i := 0; i < 3; i++ {
		p := NewRateProfile(10, mask)
		require.True(t, p.Admit(last, now, 3, 0), "connection %d", i)
		mask = p.Mask()
		last = now
		now += 60
	}
	p := NewRateProfile(10, mask)
	require.False(t, p.Admit(last, now, 3, 0))

	// enough idle minutes age the history out and admission recovers
	p = NewRateProfile(10, mask)
	require.True(t, p.Admit(last, now+11*60, 3, 0))
}

func TestRateProfileAdmitRepeatMinute(t *testing.T) {
	// a second connection within the same minute trips a cap of 1 even
	// though the minute bit is already set
	now := int64(1721000000)
	p := NewRateProfile(10, nil)
	require.True(t, p.Admit(0, now, 1, 0))
	mask := p.Mask()

	p = NewRateProfile(10, mask)
	require.False(t, p.Admit(now, now+10, 1, 0))
}

func TestRateProfileAdmitPerMinute(t *testing.T) {
	now := int64(1721000000)
	p := NewRateProfile(10, nil)
	require.True(t, p.Admit(0, now, 0, 1))
	mask := p.Mask()

	// same minute again: 2 connections against a per-minute cap of 1
	p = NewRateProfile(10, mask)
	require.False(t, p.Admit(now, now+5, 0, 1))

	// next minute is fine
	p = NewRateProfile(10, mask)
	require.True(t, p.Admit(now, now+60, 0, 1))
}

func TestRateProfileZeroWidth(t *testing.T) {
	// zero interval disables the interval cap but keeps the per-minute one
	now := int64(1721000000)
	p := NewRateProfile(0, nil)
	require.True(t, p.Admit(0, now, 1, 0))

	p = NewRateProfile(0, nil)
	require.True(t, p.Admit(now-600, now, 1, 2))

	p = NewRateProfile(0, nil)
	require.False(t, p.Admit(now-5, now, 0, 1))
}

func TestRateProfileRejectionKeepsHistory(t *testing.T) {
	now := int64(1721000000)
	p := NewRateProfile(10, nil)
	require.True(t, p.Admit(0, now, 3, 0))
	mask := p.Mask()

	p = NewRateProfile(10, mask)
	require.False(t, p.Admit(now, now+10, 1, 0))
	// the aged bitmap still records the minute
	require.True(t, p.Bit(0))
}

func TestRateProfileAdmitSimulation(t *testing.T) {
	// property: the interval count the profile reports never exceeds the
	// number of distinct minutes with connections inside the window
	width := 30
	var mask []byte
	last := int64(0)
	now := int64(1721000000)
	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		p := NewRateProfile(width, mask)
		p.Admit(last, now, 0, 0)
		mask = p.Mask()
		seen[now/60] = true

		distinct := 0
		for min := range seen {
			if now/60-min < int64(width) {
				distinct++
			}
		}
		require.LessOrEqual(t, p.Count(), distinct)

		last = now
		now += int64((i*37)%180) + 1
	}
}
