package parser

import (
	"errors"
	"math"
	"strings"
	"testing"

	"TransitFleet/internal/model"
)

var sample = model.VehicleData{
	VehicleID:    "bus-12",
	Class:        "bus",
	State:        "delayed",
	Lat:          40.712776,
	Lon:          -74.005974,
	Speed:        27.5,
	Passengers:   31,
	Capacity:     55,
	Adherence:    82.5,
	DelayMinutes: 6.5,
}

func TestRoundTrip(t *testing.T) {
	for _, name := range Formats() {
		t.Run(name, func(t *testing.T) {
			p, err := ForFormat(name)
			if err != nil {
				t.Fatal(err)
			}
			line, err := p.EncodeTelemetry(sample)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if strings.Contains(line, "\n") {
				t.Fatalf("encoded line spans lines: %q", line)
			}
			got, err := p.DecodeTelemetry(line)
			if err != nil {
				t.Fatalf("decode %q: %v", line, err)
			}
			if math.Abs(got.Lat-sample.Lat) > 1e-5 || math.Abs(got.Lon-sample.Lon) > 1e-5 {
				t.Fatalf("position drifted: %.6f,%.6f", got.Lat, got.Lon)
			}
			got.Lat, got.Lon = sample.Lat, sample.Lon
			if got != sample {
				t.Fatalf("decoded %+v, want %+v", got, sample)
			}
		})
	}
}

func TestForFormatUnknown(t *testing.T) {
	if _, err := ForFormat("protobuf"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v", err)
	}
	if _, err := ForFormat(" JSON "); err != nil {
		t.Fatalf("format names should be case-insensitive: %v", err)
	}
}

func TestCSVDecodeErrors(t *testing.T) {
	p := NewCSVParser()
	for _, line := range []string{
		"",
		"bus-1,bus,active,1,2,3",
		"bus-1,bus,active,north,2,3,4,5,6,7",
		"bus-1,bus,active,1,2,3,many,5,6,7",
		",bus,active,1,2,3,4,5,6,7",
	} {
		if _, err := p.DecodeTelemetry(line); err == nil {
			t.Errorf("DecodeTelemetry(%q) succeeded", line)
		}
	}
	if _, err := p.EncodeTelemetry(model.VehicleData{VehicleID: "a,b"}); err == nil {
		t.Error("id with comma should not encode")
	}
}

func TestNMEAChecksumValidated(t *testing.T) {
	p := NewNMEAParser()
	line, err := p.EncodeTelemetry(sample)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "$PTFVT,bus-12,") {
		t.Fatalf("unexpected sentence %q", line)
	}
	if !strings.Contains(line, ",4042.7666,N,07400.3584,W,") {
		t.Fatalf("coordinates not in ddmm.mmmm form: %q", line)
	}

	tampered := strings.Replace(line, "bus-12", "bus-13", 1)
	if _, err := p.DecodeTelemetry(tampered); err == nil {
		t.Fatal("tampered sentence passed checksum")
	}
	if _, err := p.DecodeTelemetry(strings.TrimPrefix(line, "$")); err == nil {
		t.Fatal("sentence without '$' accepted")
	}
	if _, err := p.DecodeTelemetry("$GPGGA,1*00"); err == nil {
		t.Fatal("foreign sentence accepted")
	}
}
