// Package util provides logging helpers and NMEA 0183 field utilities.
package util

import (
	"fmt"
	"math"
	"strconv"
)

// ParseNMEACoord converts NMEA ddmm.mmmm (latitude) or dddmm.mmmm
// (longitude) to decimal degrees. For example, 2101.7102,N -> 21.0285033
func ParseNMEACoord(value string, dir string) (float64, error) {
	width := 3
	switch dir {
	case "N", "S":
		width = 2
	case "E", "W":
	default:
		return 0, fmt.Errorf("invalid NMEA hemisphere %q", dir)
	}
	if len(value) < width+2 {
		return 0, fmt.Errorf("invalid NMEA coord %q", value)
	}
	deg, err := strconv.ParseFloat(value[:width], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(value[width:], 64)
	if err != nil {
		return 0, err
	}
	if min >= 60 {
		return 0, fmt.Errorf("invalid NMEA minutes %q", value)
	}
	dec := deg + min/60.0
	if dir == "S" || dir == "W" {
		dec = -dec
	}
	return dec, nil
}

// ToNMEACoord converts decimal degrees to ddmm.mmmm / dddmm.mmmm and a
// hemisphere letter.
func ToNMEACoord(dec float64, isLat bool) (string, string) {
	dir := "N"
	if !isLat {
		dir = "E"
	}
	if dec < 0 {
		dec = -dec
		if isLat {
			dir = "S"
		} else {
			dir = "W"
		}
	}
	deg := int(dec)
	min := math.Round((dec-float64(deg))*60*1e4) / 1e4
	if min >= 60 {
		deg++
		min = 0
	}
	if isLat {
		return fmt.Sprintf("%02d%07.4f", deg, min), dir
	}
	return fmt.Sprintf("%03d%07.4f", deg, min), dir
}

// NMEAChecksum XORs every byte of body, the text between '$' and '*'.
func NMEAChecksum(body string) byte {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return cs
}
