// Package fleet simulates a population of transit vehicles (rail, bus and
// ride-hail) moving along procedurally generated cyclic routes.
//
// A Simulator owns every vehicle. Each tick advances the vehicles' operational
// state machine (active, delayed, in_maintenance), their passenger load and their
// position, then recomputes fleet-wide metrics from scratch and records completed
// route cycles in a bounded trip log. Readers only ever receive value copies.
package fleet

import (
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// Class identifies a vehicle category.
type Class string

const (
	ClassRail     Class = "rail"
	ClassBus      Class = "bus"
	ClassRideHail Class = "ride_hail"
)

// Classes lists every vehicle class in a fixed order.
var Classes = []Class{ClassRail, ClassBus, ClassRideHail}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassRail, ClassBus, ClassRideHail:
		return true
	}
	return false
}

// State is the operational state of a vehicle.
type State string

const (
	StateActive      State = "active"
	StateDelayed     State = "delayed"
	StateMaintenance State = "in_maintenance"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateDelayed, StateMaintenance:
		return true
	}
	return false
}

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is an inclusive geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether c lies inside b (edges included).
func (b Bounds) Contains(c Coordinate) bool {
	box := r2.Box{
		Min: r2.Vec{X: b.MinLng, Y: b.MinLat},
		Max: r2.Vec{X: b.MaxLng, Y: b.MaxLat},
	}
	return box.Contains(r2.Vec{X: c.Lng, Y: c.Lat})
}

// VehicleView is a read-only copy of one vehicle's state.
type VehicleView struct {
	ID                string       `json:"id"`
	Class             Class        `json:"class"`
	State             State        `json:"state"`
	Position          Coordinate   `json:"position"`
	Route             []Coordinate `json:"route"`
	RouteIndex        int          `json:"route_index"`
	RouteProgress     float64      `json:"route_progress"`
	Speed             float64      `json:"speed"` // km/h
	BaseSpeed         float64      `json:"base_speed"`
	Capacity          int          `json:"capacity"`
	Passengers        int          `json:"passengers"`
	ScheduleAdherence float64      `json:"schedule_adherence"`
	DelayMinutes      float64      `json:"delay_minutes"`
	TotalDistance     float64      `json:"total_distance"` // km
	TotalPassengers   int          `json:"total_passengers"`
	Trips             int          `json:"trips"`
	DelayEvents       int          `json:"delay_events"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Clone returns a copy of v that shares no memory with it.
func (v VehicleView) Clone() VehicleView {
	v.Route = append([]Coordinate(nil), v.Route...)
	return v
}

// CloneVehicles deep-copies vs.
func CloneVehicles(vs []VehicleView) []VehicleView {
	if vs == nil {
		return nil
	}
	out := make([]VehicleView, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	return out
}

// MetricsSnapshot is a point-in-time aggregate over the whole fleet.
type MetricsSnapshot struct {
	Timestamp           time.Time     `json:"timestamp"`
	Tick                uint64        `json:"tick"`
	Running             bool          `json:"running"`
	Uptime              time.Duration `json:"uptime"`
	TotalVehicles       int           `json:"total_vehicles"`
	ActiveVehicles      int           `json:"active_vehicles"`
	DelayedVehicles     int           `json:"delayed_vehicles"`
	MaintenanceVehicles int           `json:"maintenance_vehicles"`
	VehiclesByClass     map[Class]int `json:"vehicles_by_class"`
	TotalTrips          int           `json:"total_trips"`
	TotalPassengers     int           `json:"total_passengers"`
	TotalDistance       float64       `json:"total_distance"`
	AverageSpeed        float64       `json:"average_speed"`
	AverageAdherence    float64       `json:"average_adherence"`

	// Ridership is the number of passengers currently on board.
	Ridership int `json:"ridership"`
	// AverageDelay is the mean outstanding delay in minutes across the fleet.
	AverageDelay float64 `json:"average_delay"`
	// OnTimePerformance is the percentage of in-service vehicles not delayed.
	OnTimePerformance float64 `json:"on_time_performance"`
	// Utilization is the percentage of in-service seats that are occupied.
	Utilization float64 `json:"utilization"`
}

// Clone returns a deep copy of m.
func (m MetricsSnapshot) Clone() MetricsSnapshot {
	out := m
	if m.VehiclesByClass == nil {
		return out
	}
	out.VehiclesByClass = make(map[Class]int, len(m.VehiclesByClass))
	for k, v := range m.VehiclesByClass {
		out.VehiclesByClass[k] = v
	}
	return out
}

// TripLogEntry records a vehicle finishing one or more full route cycles in a tick.
type TripLogEntry struct {
	TripID      string    `json:"trip_id"`
	VehicleID   string    `json:"vehicle_id"`
	Class       Class     `json:"class"`
	Passengers  int       `json:"passengers"` // carried on the completed cycle
	Distance    float64   `json:"distance"`   // km covered on the completed cycle
	Trips       int       `json:"trips"`      // cumulative completed cycles
	DelayEvents int       `json:"delay_events"`
	Adherence   float64   `json:"adherence"`
	Timestamp   time.Time `json:"timestamp"`
}

// DefaultVehicleLimit caps Vehicles results when the filter gives no limit.
const DefaultVehicleLimit = 1000

// VehicleFilter narrows Vehicles results. Zero fields match everything.
type VehicleFilter struct {
	Class Class
	State State
	Limit int
}

func (f VehicleFilter) match(v *vehicle) bool {
	if f.Class != "" && v.class != f.Class {
		return false
	}
	if f.State != "" && v.state != f.State {
		return false
	}
	return true
}
