package stream

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SeriesSummary rolls up one statistic over the retained window.
type SeriesSummary struct {
	Current float64 `json:"current"`
	Average float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summary rolls up every statistic plus the span it covers.
type Summary struct {
	Series     map[Statistic]SeriesSummary `json:"series"`
	DataPoints int                         `json:"data_points"`
	TimeRange  TimeRange                   `json:"time_range"`
}

func summarize(s Statistics) Summary {
	out := Summary{
		Series:     make(map[Statistic]SeriesSummary, len(AllStatistics)),
		DataPoints: s.Len(),
	}
	for _, st := range AllStatistics {
		out.Series[st] = summarizeSeries(s.Series(st))
	}
	if n := s.Len(); n > 0 {
		out.TimeRange = TimeRange{Start: s.Timestamps[0], End: s.Timestamps[n-1]}
	}
	return out
}

func summarizeSeries(x []float64) SeriesSummary {
	if len(x) == 0 {
		return SeriesSummary{}
	}
	return SeriesSummary{
		Current: x[len(x)-1],
		Average: stat.Mean(x, nil),
		Min:     floats.Min(x),
		Max:     floats.Max(x),
	}
}

// PerformanceStats describes the aggregator itself.
type PerformanceStats struct {
	TotalPolls            uint64        `json:"total_polls"`
	FailedPolls           uint64        `json:"failed_polls"`
	LastUpdateDuration    time.Duration `json:"last_update_duration"`
	AverageUpdateDuration time.Duration `json:"average_update_duration"`
	Streaming             bool          `json:"streaming"`
	LastPollTime          time.Time     `json:"last_poll_time"`
	PollInterval          time.Duration `json:"poll_interval"`
	DataPoints            int           `json:"data_points"`
	VehicleCount          int           `json:"vehicle_count"`
	TripLogCount          int           `json:"trip_log_count"`
}
