package model

import (
	"time"

	"TransitFleet/internal/fleet"
)

// VehicleData is one telemetry record as exported over the wire.
type VehicleData struct {
	VehicleID    string  `json:"vehicle_id"`
	Class        string  `json:"class"`
	State        string  `json:"state"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Speed        float64 `json:"speed"`
	Passengers   int     `json:"passengers"`
	Capacity     int     `json:"capacity"`
	Adherence    float64 `json:"adherence"`
	DelayMinutes float64 `json:"delay_minutes"`
}

// FromVehicle flattens a simulator view into a telemetry record.
func FromVehicle(v fleet.VehicleView) VehicleData {
	return VehicleData{
		VehicleID:    v.ID,
		Class:        string(v.Class),
		State:        string(v.State),
		Lat:          v.Position.Lat,
		Lon:          v.Position.Lng,
		Speed:        v.Speed,
		Passengers:   v.Passengers,
		Capacity:     v.Capacity,
		Adherence:    v.ScheduleAdherence,
		DelayMinutes: v.DelayMinutes,
	}
}

// ControlMessage is posted to the dashboard to drive the simulator and the
// aggregator. Action is one of start, stop or reset.
type ControlMessage struct {
	Action string `json:"action"`
}

// AckMessage answers a ControlMessage.
type AckMessage struct {
	Action string `json:"action"`
	Ack    bool   `json:"ack"`
	Error  string `json:"error,omitempty"`
}

// WSMessage is the envelope for every event pushed to websocket clients.
type WSMessage struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}
