package parser

import (
	"encoding/json"
	"errors"

	"TransitFleet/internal/model"
)

// JSONParser implements Parser using JSON serialization.
type JSONParser struct{}

// NewJSONParser creates a new JSON parser.
func NewJSONParser() *JSONParser { return &JSONParser{} }

// EncodeTelemetry encodes VehicleData into a single-line JSON object.
func (p *JSONParser) EncodeTelemetry(v model.VehicleData) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// DecodeTelemetry decodes a JSON line into VehicleData.
func (p *JSONParser) DecodeTelemetry(s string) (model.VehicleData, error) {
	var v model.VehicleData
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return model.VehicleData{}, err
	}
	if v.VehicleID == "" {
		return model.VehicleData{}, errors.New("missing vehicle_id")
	}
	return v, nil
}
