package parser

import (
	"fmt"
	"strconv"
	"strings"

	"TransitFleet/internal/model"
)

// CSVParser implements Parser using comma-separated values.
type CSVParser struct{}

// NewCSVParser creates a new CSV parser instance.
func NewCSVParser() *CSVParser { return &CSVParser{} }

// EncodeTelemetry converts VehicleData into a CSV line.
func (p *CSVParser) EncodeTelemetry(v model.VehicleData) (string, error) {
	if strings.ContainsAny(v.VehicleID, ",\n") {
		return "", fmt.Errorf("vehicle id %q contains a separator", v.VehicleID)
	}
	return strings.Join(telemetryFields(v), ","), nil
}

// DecodeTelemetry parses a CSV telemetry line into VehicleData.
func (p *CSVParser) DecodeTelemetry(line string) (model.VehicleData, error) {
	return parseTelemetryFields(strings.Split(strings.TrimSpace(line), ","))
}

// telemetryFields renders the ten columns shared by the CSV and NMEA
// formats, with plain decimal coordinates.
func telemetryFields(v model.VehicleData) []string {
	return []string{
		v.VehicleID,
		v.Class,
		v.State,
		strconv.FormatFloat(v.Lat, 'f', 6, 64),
		strconv.FormatFloat(v.Lon, 'f', 6, 64),
		strconv.FormatFloat(v.Speed, 'f', 1, 64),
		strconv.Itoa(v.Passengers),
		strconv.Itoa(v.Capacity),
		strconv.FormatFloat(v.Adherence, 'f', 1, 64),
		strconv.FormatFloat(v.DelayMinutes, 'f', 1, 64),
	}
}

func parseTelemetryFields(fields []string) (model.VehicleData, error) {
	if len(fields) != 10 {
		return model.VehicleData{}, fmt.Errorf("expected 10 fields, got %d", len(fields))
	}
	v := model.VehicleData{VehicleID: fields[0], Class: fields[1], State: fields[2]}
	if v.VehicleID == "" {
		return model.VehicleData{}, fmt.Errorf("empty vehicle id")
	}

	floats := []struct {
		name string
		dst  *float64
		raw  string
	}{
		{"lat", &v.Lat, fields[3]},
		{"lon", &v.Lon, fields[4]},
		{"speed", &v.Speed, fields[5]},
		{"adherence", &v.Adherence, fields[8]},
		{"delay", &v.DelayMinutes, fields[9]},
	}
	for _, f := range floats {
		x, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return model.VehicleData{}, fmt.Errorf("invalid %s %q", f.name, f.raw)
		}
		*f.dst = x
	}

	var err error
	if v.Passengers, err = strconv.Atoi(fields[6]); err != nil {
		return model.VehicleData{}, fmt.Errorf("invalid passengers %q", fields[6])
	}
	if v.Capacity, err = strconv.Atoi(fields[7]); err != nil {
		return model.VehicleData{}, fmt.Errorf("invalid capacity %q", fields[7])
	}
	return v, nil
}
