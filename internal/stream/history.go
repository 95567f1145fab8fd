package stream

import (
	"time"

	"TransitFleet/internal/fleet"
)

// Statistic names one tracked time series.
type Statistic string

const (
	StatRidership         Statistic = "ridership"
	StatDelays            Statistic = "delays"
	StatOnTimePerformance Statistic = "onTimePerformance"
	StatAverageSpeed      Statistic = "averageSpeed"
	StatUtilization       Statistic = "utilization"
)

// AllStatistics lists every tracked series.
var AllStatistics = []Statistic{StatRidership, StatDelays, StatOnTimePerformance, StatAverageSpeed, StatUtilization}

// Statistics is the rolling history. Every slice has the same length and
// index i of each belongs to Timestamps[i].
type Statistics struct {
	Timestamps        []time.Time `json:"timestamps"`
	Ridership         []float64   `json:"ridership"`
	Delays            []float64   `json:"delays"`
	OnTimePerformance []float64   `json:"on_time_performance"`
	AverageSpeed      []float64   `json:"average_speed"`
	Utilization       []float64   `json:"utilization"`
}

// Len returns the number of retained points.
func (s Statistics) Len() int { return len(s.Timestamps) }

// Series returns the values of one statistic, or nil if st is unknown.
func (s Statistics) Series(st Statistic) []float64 {
	switch st {
	case StatRidership:
		return s.Ridership
	case StatDelays:
		return s.Delays
	case StatOnTimePerformance:
		return s.OnTimePerformance
	case StatAverageSpeed:
		return s.AverageSpeed
	case StatUtilization:
		return s.Utilization
	}
	return nil
}

// DataPoint is one timestamped value of a statistic.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimeRange bounds a history query. Zero ends are open.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// history owns the rolling arrays plus the raw snapshots behind them.
type history struct {
	stats   Statistics
	metrics []fleet.MetricsSnapshot
}

func (h *history) append(at time.Time, m fleet.MetricsSnapshot) {
	h.stats.Timestamps = append(h.stats.Timestamps, at)
	h.stats.Ridership = append(h.stats.Ridership, float64(m.Ridership))
	h.stats.Delays = append(h.stats.Delays, m.AverageDelay)
	h.stats.OnTimePerformance = append(h.stats.OnTimePerformance, m.OnTimePerformance)
	h.stats.AverageSpeed = append(h.stats.AverageSpeed, m.AverageSpeed)
	h.stats.Utilization = append(h.stats.Utilization, m.Utilization)
	h.metrics = append(h.metrics, m)
}

// trim drops points beyond maxPoints, then points stamped before cutoff.
func (h *history) trim(maxPoints int, cutoff time.Time) {
	if excess := h.stats.Len() - maxPoints; excess > 0 {
		h.dropFront(excess)
	}
	n := 0
	for n < h.stats.Len() && h.stats.Timestamps[n].Before(cutoff) {
		n++
	}
	if n > 0 {
		h.dropFront(n)
	}
}

// dropFront removes the n oldest points from every array at once. The kept
// tail is copied so trimmed points do not pin the old backing arrays.
func (h *history) dropFront(n int) {
	h.stats.Timestamps = append([]time.Time(nil), h.stats.Timestamps[n:]...)
	h.stats.Ridership = tail(h.stats.Ridership, n)
	h.stats.Delays = tail(h.stats.Delays, n)
	h.stats.OnTimePerformance = tail(h.stats.OnTimePerformance, n)
	h.stats.AverageSpeed = tail(h.stats.AverageSpeed, n)
	h.stats.Utilization = tail(h.stats.Utilization, n)
	h.metrics = append([]fleet.MetricsSnapshot(nil), h.metrics[n:]...)
}

func tail(s []float64, n int) []float64 {
	return append([]float64(nil), s[n:]...)
}

func (h *history) snapshot() Statistics {
	return Statistics{
		Timestamps:        append([]time.Time(nil), h.stats.Timestamps...),
		Ridership:         append([]float64(nil), h.stats.Ridership...),
		Delays:            append([]float64(nil), h.stats.Delays...),
		OnTimePerformance: append([]float64(nil), h.stats.OnTimePerformance...),
		AverageSpeed:      append([]float64(nil), h.stats.AverageSpeed...),
		Utilization:       append([]float64(nil), h.stats.Utilization...),
	}
}

func (h *history) points(st Statistic, r TimeRange) []DataPoint {
	series := h.stats.Series(st)
	out := make([]DataPoint, 0, len(series))
	for i, v := range series {
		if t := h.stats.Timestamps[i]; r.contains(t) {
			out = append(out, DataPoint{Timestamp: t, Value: v})
		}
	}
	return out
}

func (h *history) reset() {
	*h = history{}
}
