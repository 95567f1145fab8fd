package parser

import (
	"fmt"
	"strconv"
	"strings"

	"TransitFleet/internal/model"
	"TransitFleet/internal/util"
)

// nmeaTalker is the proprietary sentence id for vehicle telemetry.
const nmeaTalker = "PTFVT"

// NMEAParser implements Parser as a checksummed NMEA 0183 sentence so
// exported telemetry can share a serial line with GPS receivers.
type NMEAParser struct{}

// NewNMEAParser creates a new NMEA parser.
func NewNMEAParser() *NMEAParser { return &NMEAParser{} }

// EncodeTelemetry builds a $PTFVT sentence.
func (p *NMEAParser) EncodeTelemetry(v model.VehicleData) (string, error) {
	if strings.ContainsAny(v.VehicleID, ",*$") {
		return "", fmt.Errorf("vehicle id %q contains an NMEA delimiter", v.VehicleID)
	}
	f := telemetryFields(v)
	lat, ns := util.ToNMEACoord(v.Lat, true)
	lon, ew := util.ToNMEACoord(v.Lon, false)

	parts := append([]string{nmeaTalker}, f[0], f[1], f[2], lat, ns, lon, ew)
	parts = append(parts, f[5:]...)
	body := strings.Join(parts, ",")
	return fmt.Sprintf("$%s*%02X", body, util.NMEAChecksum(body)), nil
}

// DecodeTelemetry verifies the checksum and parses a $PTFVT sentence.
func (p *NMEAParser) DecodeTelemetry(line string) (model.VehicleData, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return model.VehicleData{}, fmt.Errorf("missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || len(line)-star != 3 {
		return model.VehicleData{}, fmt.Errorf("missing checksum")
	}
	body := line[1:star]
	want, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil {
		return model.VehicleData{}, fmt.Errorf("invalid checksum %q", line[star+1:])
	}
	if got := util.NMEAChecksum(body); got != byte(want) {
		return model.VehicleData{}, fmt.Errorf("checksum mismatch: got %02X want %02X", got, want)
	}

	fields := strings.Split(body, ",")
	if len(fields) != 13 || fields[0] != nmeaTalker {
		return model.VehicleData{}, fmt.Errorf("not a %s sentence", nmeaTalker)
	}
	lat, err := util.ParseNMEACoord(fields[4], fields[5])
	if err != nil {
		return model.VehicleData{}, err
	}
	lon, err := util.ParseNMEACoord(fields[6], fields[7])
	if err != nil {
		return model.VehicleData{}, err
	}
	cols := append([]string{fields[1], fields[2], fields[3],
		strconv.FormatFloat(lat, 'f', -1, 64), strconv.FormatFloat(lon, 'f', -1, 64)}, fields[8:]...)
	return parseTelemetryFields(cols)
}
