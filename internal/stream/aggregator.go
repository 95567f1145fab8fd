// Package stream polls a fleet Source on a fixed interval, keeps bounded
// rolling histories of its metrics and trip log, and fans change
// notifications out to subscribers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"TransitFleet/internal/fleet"
	"TransitFleet/internal/util"
)

// SnapshotTrips is how many trips a State snapshot carries.
const SnapshotTrips = 50

type tripKey struct {
	vehicleID string
	at        int64
}

func keyOf(e fleet.TripLogEntry) tripKey {
	return tripKey{vehicleID: e.VehicleID, at: e.Timestamp.UnixNano()}
}

// Aggregator is the polling stream manager. Construct it with New.
type Aggregator struct {
	src Source
	cfg Config
	bus *bus

	// pollMu serializes whole poll cycles so notifications keep their order.
	pollMu sync.Mutex

	mu           sync.RWMutex
	vehicles     []fleet.VehicleView
	byID         map[string]int
	metrics      fleet.MetricsSnapshot
	hasMetrics   bool
	hist         history
	trips        []fleet.TripLogEntry
	tripKeys     map[tripKey]struct{}
	totalPolls   uint64
	failedPolls  uint64
	timedPolls   uint64
	lastDuration time.Duration
	avgDuration  time.Duration
	lastPoll     time.Time

	runMu     sync.Mutex
	streaming bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New returns an idle aggregator over src.
func New(src Source, cfg Config) (*Aggregator, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		src:      src,
		cfg:      cfg,
		bus:      newBus(),
		byID:     make(map[string]int),
		tripKeys: make(map[tripKey]struct{}),
	}, nil
}

// Subscribe registers h on ch. Unknown channels are logged and yield an
// inert subscription.
func (a *Aggregator) Subscribe(ch Channel, h Handler) *Subscription {
	return a.bus.add(ch, h)
}

// Unsubscribe is shorthand for sub.Cancel.
func (a *Aggregator) Unsubscribe(sub *Subscription) {
	sub.Cancel()
}

// Subscribers returns the number of handlers on ch.
func (a *Aggregator) Subscribers(ch Channel) int {
	return a.bus.count(ch)
}

// StartStreaming polls once right away, then every PollInterval until
// StopStreaming. The error of the first poll is returned, but the schedule
// is started regardless. Calling it while streaming does nothing.
func (a *Aggregator) StartStreaming(ctx context.Context) error {
	a.runMu.Lock()
	if a.streaming {
		a.runMu.Unlock()
		util.Warn("[stream] already streaming")
		return nil
	}
	a.streaming = true
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.loop(ctx, a.stop)
	a.runMu.Unlock()

	util.Info("[stream] streaming started, interval=%s", a.cfg.PollInterval)
	return a.scheduledPoll(ctx)
}

func (a *Aggregator) loop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			a.runMu.Lock()
			if a.stop == stop {
				a.streaming = false
			}
			a.runMu.Unlock()
			return
		case <-ticker.C:
			_ = a.scheduledPoll(ctx)
		}
	}
}

// scheduledPoll reports a failure on the error channel and returns it;
// the caller's schedule is not affected.
func (a *Aggregator) scheduledPoll(ctx context.Context) error {
	err := a.Poll(ctx)
	if err != nil {
		a.mu.RLock()
		failed := a.failedPolls
		a.mu.RUnlock()
		a.bus.emit(PollError{Err: err, Message: err.Error(), FailedPolls: failed, Timestamp: a.cfg.Clock()})
	}
	return err
}

// StopStreaming cancels the schedule and waits for the loop to exit. A poll
// already running completes first. Must not be called from a Handler.
func (a *Aggregator) StopStreaming() {
	a.runMu.Lock()
	if !a.streaming {
		a.runMu.Unlock()
		return
	}
	a.streaming = false
	close(a.stop)
	a.runMu.Unlock()

	a.wg.Wait()
	util.Info("[stream] streaming stopped")
}

// Streaming reports whether the poll schedule is active.
func (a *Aggregator) Streaming() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.streaming
}

type fetched struct {
	vehicles []fleet.VehicleView
	metrics  fleet.MetricsSnapshot
	trips    []fleet.TripLogEntry
}

// fetch runs the three reads concurrently.
func (a *Aggregator) fetch(ctx context.Context) (fetched, error) {
	var (
		out              fetched
		errV, errM, errT error
		wg               sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		out.vehicles, errV = a.src.FetchVehicles(ctx)
	}()
	go func() {
		defer wg.Done()
		out.metrics, errM = a.src.FetchMetrics(ctx)
	}()
	go func() {
		defer wg.Done()
		out.trips, errT = a.src.FetchTripLog(ctx, a.cfg.FetchTripLimit)
	}()
	wg.Wait()

	if err := errors.Join(errV, errM, errT); err != nil {
		return fetched{}, err
	}
	return out, nil
}

// Poll runs one fetch and merge cycle. Notifications fire in the order
// vehicles, metrics, statistics, trips, outside the state lock.
func (a *Aggregator) Poll(ctx context.Context) (err error) {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	start := time.Now()
	a.mu.Lock()
	a.totalPolls++
	a.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			a.mu.Lock()
			a.failedPolls++
			a.mu.Unlock()
			util.Error("[stream] poll failed: %v", err)
			err = fmt.Errorf("stream: poll: %w", err)
		}
	}()

	data, err := a.fetch(ctx)
	if err != nil {
		return err
	}

	a.bus.emit(a.updateVehicles(data.vehicles))
	mu, su := a.updateMetrics(data.metrics)
	a.bus.emit(mu)
	a.bus.emit(su)
	if tn, ok := a.updateTrips(data.trips); ok {
		a.bus.emit(tn)
	}

	d := time.Since(start)
	a.mu.Lock()
	a.lastDuration = d
	a.timedPolls++
	a.avgDuration = (a.avgDuration*time.Duration(a.timedPolls-1) + d) / time.Duration(a.timedPolls)
	a.lastPoll = a.cfg.Clock()
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) updateVehicles(vs []fleet.VehicleView) VehiclesUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := len(a.vehicles)
	a.vehicles = fleet.CloneVehicles(vs)
	a.byID = make(map[string]int, len(vs))
	for i, v := range vs {
		a.byID[v.ID] = i
	}
	return VehiclesUpdate{
		Vehicles: fleet.CloneVehicles(vs),
		Count:    len(vs),
		Changed:  len(vs) != prev,
	}
}

func (a *Aggregator) updateMetrics(m fleet.MetricsSnapshot) (MetricsUpdate, StatisticsUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.cfg.Clock()
	m = m.Clone()
	a.metrics = m
	a.hasMetrics = true
	a.hist.append(now, m)
	a.hist.trim(a.cfg.MaxHistoryPoints, now.Add(-a.cfg.MetricsRetention))

	stats := a.hist.snapshot()
	return MetricsUpdate{Current: m.Clone(), Statistics: summarize(stats)}, StatisticsUpdate{Statistics: stats}
}

// updateTrips merges entries not yet seen, keeps the log newest first and
// bounded, and reports the fresh entries that survived truncation.
func (a *Aggregator) updateTrips(entries []fleet.TripLogEntry) (TripsNew, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := make(map[tripKey]struct{})
	for _, e := range entries {
		k := keyOf(e)
		if _, seen := a.tripKeys[k]; seen {
			continue
		}
		if _, dup := added[k]; dup {
			continue
		}
		added[k] = struct{}{}
		a.trips = append(a.trips, e)
	}
	if len(added) == 0 {
		return TripsNew{}, false
	}

	sort.SliceStable(a.trips, func(i, j int) bool {
		return a.trips[i].Timestamp.After(a.trips[j].Timestamp)
	})
	if len(a.trips) > a.cfg.MaxTripLogEntries {
		a.trips = append([]fleet.TripLogEntry(nil), a.trips[:a.cfg.MaxTripLogEntries]...)
	}

	a.tripKeys = make(map[tripKey]struct{}, len(a.trips))
	var fresh []fleet.TripLogEntry
	for _, e := range a.trips {
		k := keyOf(e)
		a.tripKeys[k] = struct{}{}
		if _, ok := added[k]; ok {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return TripsNew{}, false
	}
	return TripsNew{Trips: fresh, TotalLogs: len(a.trips)}, true
}

// Vehicles returns the vehicles fetched by the latest poll.
func (a *Aggregator) Vehicles() []fleet.VehicleView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fleet.CloneVehicles(a.vehicles)
}

// Vehicle looks up one vehicle from the latest poll.
func (a *Aggregator) Vehicle(id string) (fleet.VehicleView, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.byID[id]
	if !ok {
		return fleet.VehicleView{}, false
	}
	return a.vehicles[i].Clone(), true
}

// Metrics returns the latest snapshot, false before the first poll.
func (a *Aggregator) Metrics() (fleet.MetricsSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metrics.Clone(), a.hasMetrics
}

// MetricsHistory returns the raw snapshots behind the rolling arrays.
func (a *Aggregator) MetricsHistory() []fleet.MetricsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]fleet.MetricsSnapshot, len(a.hist.metrics))
	for i, m := range a.hist.metrics {
		out[i] = m.Clone()
	}
	return out
}

// HistoricalData returns the points of one statistic inside r. An unknown
// statistic is logged and yields nil.
func (a *Aggregator) HistoricalData(st Statistic, r TimeRange) []DataPoint {
	if !knownStatistic(st) {
		util.Warn("[stream] unknown statistic %q", st)
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hist.points(st, r)
}

func knownStatistic(st Statistic) bool {
	for _, s := range AllStatistics {
		if s == st {
			return true
		}
	}
	return false
}

// AllHistoricalData returns every statistic inside r.
func (a *Aggregator) AllHistoricalData(r TimeRange) map[Statistic][]DataPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[Statistic][]DataPoint, len(AllStatistics))
	for _, st := range AllStatistics {
		out[st] = a.hist.points(st, r)
	}
	return out
}

// Statistics returns a copy of the rolling arrays.
func (a *Aggregator) Statistics() Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hist.snapshot()
}

// TripLogs returns up to limit entries, newest first. A non-positive limit
// returns them all.
func (a *Aggregator) TripLogs(limit int) []fleet.TripLogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := len(a.trips)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]fleet.TripLogEntry(nil), a.trips[:n]...)
}

// Summary rolls up the retained history.
func (a *Aggregator) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return summarize(a.hist.stats)
}

// PerformanceStats reports the aggregator's own counters.
func (a *Aggregator) PerformanceStats() PerformanceStats {
	streaming := a.Streaming()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return PerformanceStats{
		TotalPolls:            a.totalPolls,
		FailedPolls:           a.failedPolls,
		LastUpdateDuration:    a.lastDuration,
		AverageUpdateDuration: a.avgDuration,
		Streaming:             streaming,
		LastPollTime:          a.lastPoll,
		PollInterval:          a.cfg.PollInterval,
		DataPoints:            a.hist.stats.Len(),
		VehicleCount:          len(a.vehicles),
		TripLogCount:          len(a.trips),
	}
}

// ClearHistory drops the rolling history and the trip log. Vehicles, the
// latest snapshot and the counters are kept.
func (a *Aggregator) ClearHistory() {
	a.mu.Lock()
	a.clearHistoryLocked()
	a.mu.Unlock()
	util.Info("[stream] history cleared")
}

func (a *Aggregator) clearHistoryLocked() {
	a.hist.reset()
	a.trips = nil
	a.tripKeys = make(map[tripKey]struct{})
}

// Reset stops streaming and clears everything, counters included.
func (a *Aggregator) Reset() {
	a.StopStreaming()
	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vehicles = nil
	a.byID = make(map[string]int)
	a.metrics = fleet.MetricsSnapshot{}
	a.hasMetrics = false
	a.clearHistoryLocked()
	a.totalPolls, a.failedPolls, a.timedPolls = 0, 0, 0
	a.lastDuration, a.avgDuration = 0, 0
	a.lastPoll = time.Time{}
	util.Info("[stream] reset")
}

// State bundles everything a new consumer needs to render its first frame.
type State struct {
	Vehicles    []fleet.VehicleView   `json:"vehicles"`
	Metrics     fleet.MetricsSnapshot `json:"metrics"`
	TripLogs    []fleet.TripLogEntry  `json:"trip_logs"`
	Statistics  Summary               `json:"statistics"`
	Performance PerformanceStats      `json:"performance"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Snapshot returns the combined state with the last SnapshotTrips trips.
func (a *Aggregator) Snapshot() State {
	m, _ := a.Metrics()
	return State{
		Vehicles:    a.Vehicles(),
		Metrics:     m,
		TripLogs:    a.TripLogs(SnapshotTrips),
		Statistics:  a.Summary(),
		Performance: a.PerformanceStats(),
		Timestamp:   a.cfg.Clock(),
	}
}
