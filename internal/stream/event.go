package stream

import (
	"time"

	"TransitFleet/internal/fleet"
)

// Channel names one event stream.
type Channel string

const (
	ChannelVehicles   Channel = "vehicles:update"
	ChannelMetrics    Channel = "metrics:update"
	ChannelTrips      Channel = "trips:new"
	ChannelStatistics Channel = "statistics:update"
	ChannelError      Channel = "error"
)

// Channels lists every channel in publish order.
var Channels = []Channel{ChannelVehicles, ChannelMetrics, ChannelStatistics, ChannelTrips, ChannelError}

func (c Channel) valid() bool {
	for _, ch := range Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Event is a notification delivered to subscribers.
type Event interface {
	Channel() Channel
}

// VehiclesUpdate carries the vehicle list fetched by a poll.
type VehiclesUpdate struct {
	Vehicles []fleet.VehicleView `json:"vehicles"`
	Count    int                 `json:"count"`
	// Changed is true when Count differs from the previous poll.
	Changed bool `json:"changed"`
}

// MetricsUpdate carries the latest snapshot and the rolled-up summary.
type MetricsUpdate struct {
	Current    fleet.MetricsSnapshot `json:"current"`
	Statistics Summary               `json:"statistics"`
}

// StatisticsUpdate carries a copy of the full rolling history.
type StatisticsUpdate struct {
	Statistics
}

// TripsNew carries only the entries added by one poll, newest first.
type TripsNew struct {
	Trips     []fleet.TripLogEntry `json:"trips"`
	TotalLogs int                  `json:"total_logs"`
}

// PollError reports a failed poll from the streaming loop.
type PollError struct {
	Err         error     `json:"-"`
	Message     string    `json:"message"`
	FailedPolls uint64    `json:"failed_polls"`
	Timestamp   time.Time `json:"timestamp"`
}

func (VehiclesUpdate) Channel() Channel   { return ChannelVehicles }
func (MetricsUpdate) Channel() Channel    { return ChannelMetrics }
func (StatisticsUpdate) Channel() Channel { return ChannelStatistics }
func (TripsNew) Channel() Channel         { return ChannelTrips }
func (PollError) Channel() Channel        { return ChannelError }
