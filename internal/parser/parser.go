// Package parser converts telemetry records to and from the line formats
// written to export devices.
//
// CSV telemetry wire format:
//
//	VEHICLE_ID,CLASS,STATE,LAT,LON,SPEED,PASSENGERS,CAPACITY,ADHERENCE,DELAY
//
// NMEA telemetry wire format (proprietary sentence):
//
//	$PTFVT,VEHICLE_ID,CLASS,STATE,ddmm.mmmm,N,dddmm.mmmm,E,SPEED,PASSENGERS,CAPACITY,ADHERENCE,DELAY*CS
package parser

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"TransitFleet/internal/model"
)

// ErrUnknownFormat is returned by ForFormat for an unregistered name.
var ErrUnknownFormat = errors.New("parser: unknown wire format")

// Parser encodes telemetry to a single line and back.
type Parser interface {
	EncodeTelemetry(v model.VehicleData) (string, error)
	DecodeTelemetry(line string) (model.VehicleData, error)
}

var formats = map[string]func() Parser{
	"csv":  func() Parser { return NewCSVParser() },
	"json": func() Parser { return NewJSONParser() },
	"nmea": func() Parser { return NewNMEAParser() },
}

// ForFormat returns the parser registered under name (csv, json, nmea).
func ForFormat(name string) (Parser, error) {
	mk, ok := formats[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownFormat, name, strings.Join(Formats(), ", "))
	}
	return mk(), nil
}

// Formats lists the registered format names.
func Formats() []string {
	out := make([]string, 0, len(formats))
	for name := range formats {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
