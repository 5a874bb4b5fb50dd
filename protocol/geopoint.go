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

package protocol

import (
	"fmt"
	"math"
)

// nullIslandEpsilon is the dead zone around (0,0) within which a point
// is treated as "no fix" rather than a real position
const nullIslandEpsilon = 0.0002

// GeoPoint is a position in decimal degrees
type GeoPoint struct {
	Lat float64
	Lon float64
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.5f/%.5f", p.Lat, p.Lon)
}

// Valid reports whether the point is a usable fix: inside the lat/lon
// box and outside the null-island dead zone
func (p GeoPoint) Valid() bool {
	if math.Abs(p.Lat) >= 90 || math.Abs(p.Lon) >= 180 {
		return false
	}
	if math.Abs(p.Lat) < nullIslandEpsilon && math.Abs(p.Lon) < nullIslandEpsilon {
		return false
	}
	return true
}

// Encode6 returns the 6-byte standard wire form: 24 bits each for
// latitude and longitude.
//
//	lat_raw = round((lat - 90) * 2^24 / -180)
//	lon_raw = round((lon + 180) * 2^24 / 360)
//
// Zero raw value means "unknown".
func (p GeoPoint) Encode6() []byte {
	latRaw := uint32(math.Round((p.Lat - 90) * (1 << 24) / -180))
	lonRaw := uint32(math.Round((p.Lon + 180) * (1 << 24) / 360))
	return []byte{
		byte(latRaw >> 16), byte(latRaw >> 8), byte(latRaw),
		byte(lonRaw >> 16), byte(lonRaw >> 8), byte(lonRaw),
	}
}

// Encode8 returns the 8-byte high resolution wire form, same formulas
// with 2^32 scaling
func (p GeoPoint) Encode8() []byte {
	// rounding through uint64 keeps the box edges (raw == 2^32) defined
	latRaw := uint32(uint64(math.Round((p.Lat - 90) * (1 << 32) / -180)))
	lonRaw := uint32(uint64(math.Round((p.Lon + 180) * (1 << 32) / 360)))
	return []byte{
		byte(latRaw >> 24), byte(latRaw >> 16), byte(latRaw >> 8), byte(latRaw),
		byte(lonRaw >> 24), byte(lonRaw >> 16), byte(lonRaw >> 8), byte(lonRaw),
	}
}

// DecodeGeoPoint6 decodes the 6-byte standard wire form. Short input or
// zero raw coordinates decode to the zero GeoPoint ("unknown").
func DecodeGeoPoint6(b []byte) GeoPoint {
	if len(b) < 6 {
		return GeoPoint{}
	}
	latRaw := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	lonRaw := uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
	if latRaw == 0 || lonRaw == 0 {
		return GeoPoint{}
	}
	return GeoPoint{
		Lat: 90 - float64(latRaw)*180/(1<<24),
		Lon: float64(lonRaw)*360/(1<<24) - 180,
	}
}

// DecodeGeoPoint8 decodes the 8-byte high resolution wire form
func DecodeGeoPoint8(b []byte) GeoPoint {
	if len(b) < 8 {
		return GeoPoint{}
	}
	latRaw := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	lonRaw := uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	if latRaw == 0 || lonRaw == 0 {
		return GeoPoint{}
	}
	return GeoPoint{
		Lat: 90 - float64(latRaw)*180/(1<<32),
		Lon: float64(lonRaw)*360/(1<<32) - 180,
	}
}
