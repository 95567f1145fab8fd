package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"TransitFleet/internal/fleet"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	mu       sync.Mutex
	vehicles []fleet.VehicleView
	metrics  fleet.MetricsSnapshot
	trips    []fleet.TripLogEntry
	err      error
	delay    time.Duration
}

func (f *fakeSource) FetchVehicles(ctx context.Context) ([]fleet.VehicleView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	time.Sleep(f.delay)
	return append([]fleet.VehicleView(nil), f.vehicles...), nil
}

func (f *fakeSource) FetchMetrics(ctx context.Context) (fleet.MetricsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics, nil
}

func (f *fakeSource) FetchTripLog(ctx context.Context, limit int) ([]fleet.TripLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fleet.TripLogEntry(nil), f.trips...), nil
}

func (f *fakeSource) set(fn func(*fakeSource)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func trip(vehicle string, at time.Time) fleet.TripLogEntry {
	return fleet.TripLogEntry{TripID: vehicle + at.String(), VehicleID: vehicle, Class: fleet.ClassBus, Trips: 1, Timestamp: at}
}

func newTestAggregator(t *testing.T, src Source, mod func(*Config)) (*Aggregator, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock.Now
	if mod != nil {
		mod(&cfg)
	}
	a, err := New(src, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, clock
}

func assertLockstep(t *testing.T, s Statistics) {
	t.Helper()
	n := len(s.Timestamps)
	for _, st := range AllStatistics {
		if got := len(s.Series(st)); got != n {
			t.Fatalf("%s has %d points, timestamps have %d", st, got, n)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); !errors.Is(err, ErrNilSource) {
		t.Fatalf("nil source err = %v", err)
	}
	cfg := DefaultConfig()
	cfg.MaxHistoryPoints = -1
	if _, err := New(&fakeSource{}, cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("bad config err = %v", err)
	}
}

func TestHistoryBoundedByPointCount(t *testing.T) {
	src := &fakeSource{}
	a, clock := newTestAggregator(t, src, func(c *Config) { c.MaxHistoryPoints = 5 })

	var stamps []time.Time
	for i := 0; i < 8; i++ {
		src.set(func(f *fakeSource) { f.metrics.Ridership = i * 10 })
		stamps = append(stamps, clock.Now())
		if err := a.Poll(context.Background()); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		assertLockstep(t, a.Statistics())
		clock.Advance(time.Second)
	}

	s := a.Statistics()
	if s.Len() != 5 {
		t.Fatalf("retained %d points, want 5", s.Len())
	}
	for i, ts := range s.Timestamps {
		if !ts.Equal(stamps[3+i]) {
			t.Fatalf("point %d at %s, want %s", i, ts, stamps[3+i])
		}
		if want := float64((3 + i) * 10); s.Ridership[i] != want {
			t.Fatalf("ridership[%d] = %.0f, want %.0f", i, s.Ridership[i], want)
		}
	}
	if got := len(a.MetricsHistory()); got != 5 {
		t.Fatalf("metrics history has %d entries, want 5", got)
	}
}

func TestHistoryBoundedByRetention(t *testing.T) {
	a, clock := newTestAggregator(t, &fakeSource{}, func(c *Config) { c.MetricsRetention = 25 * time.Minute })
	for i := 0; i < 6; i++ {
		if err := a.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
		clock.Advance(10 * time.Minute)
	}
	s := a.Statistics()
	assertLockstep(t, s)
	if s.Len() != 3 {
		t.Fatalf("retained %d points, want 3 inside the 25m window", s.Len())
	}
	cutoff := s.Timestamps[s.Len()-1].Add(-25 * time.Minute)
	if s.Timestamps[0].Before(cutoff) {
		t.Fatalf("oldest point %s is outside retention", s.Timestamps[0])
	}
}

func TestTripLogDeduplicated(t *testing.T) {
	src := &fakeSource{}
	a, clock := newTestAggregator(t, src, nil)
	entry := trip("bus-1", clock.Now())
	src.set(func(f *fakeSource) { f.trips = []fleet.TripLogEntry{entry} })

	for i := 0; i < 2; i++ {
		if err := a.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := a.TripLogs(0); len(got) != 1 {
		t.Fatalf("retained %d trips, want 1", len(got))
	}
}

func TestTripsNewCarriesOnlyFreshEntries(t *testing.T) {
	src := &fakeSource{}
	a, clock := newTestAggregator(t, src, nil)
	old := trip("rail-1", clock.Now())
	src.set(func(f *fakeSource) { f.trips = []fleet.TripLogEntry{old} })
	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	var got []TripsNew
	a.Subscribe(ChannelTrips, func(ev Event) error {
		got = append(got, ev.(TripsNew))
		return nil
	})

	clock.Advance(time.Second)
	fresh := []fleet.TripLogEntry{trip("bus-2", clock.Now()), trip("bus-3", clock.Now())}
	src.set(func(f *fakeSource) { f.trips = append([]fleet.TripLogEntry{old}, fresh...) })
	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("trips:new fired %d times, want 1", len(got))
	}
	if len(got[0].Trips) != 2 || got[0].TotalLogs != 3 {
		t.Fatalf("payload has %d trips of %d, want 2 of 3", len(got[0].Trips), got[0].TotalLogs)
	}
	for _, e := range got[0].Trips {
		if e.VehicleID == old.VehicleID {
			t.Fatal("payload contains an entry from an earlier poll")
		}
	}

	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatal("trips:new fired for a poll with nothing new")
	}
}

func TestTripLogNewestFirstAndTruncated(t *testing.T) {
	src := &fakeSource{}
	a, clock := newTestAggregator(t, src, func(c *Config) { c.MaxTripLogEntries = 3 })
	base := clock.Now()
	var entries []fleet.TripLogEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, trip(fmt.Sprintf("bus-%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	src.set(func(f *fakeSource) { f.trips = entries })
	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := a.TripLogs(0)
	if len(got) != 3 {
		t.Fatalf("retained %d, want 3", len(got))
	}
	for i, want := range []string{"bus-4", "bus-3", "bus-2"} {
		if got[i].VehicleID != want {
			t.Fatalf("trip %d = %s, want %s", i, got[i].VehicleID, want)
		}
	}
	if got := a.TripLogs(1); len(got) != 1 || got[0].VehicleID != "bus-4" {
		t.Fatalf("TripLogs(1) = %+v", got)
	}
}

func TestNotificationOrder(t *testing.T) {
	src := &fakeSource{vehicles: []fleet.VehicleView{{ID: "bus-1"}}}
	a, clock := newTestAggregator(t, src, nil)
	src.trips = []fleet.TripLogEntry{trip("bus-1", clock.Now())}

	var order []Channel
	for _, ch := range Channels {
		a.Subscribe(ch, func(ev Event) error {
			order = append(order, ev.Channel())
			return nil
		})
	}
	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []Channel{ChannelVehicles, ChannelMetrics, ChannelStatistics, ChannelTrips}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestVehiclesUpdateChangedFlag(t *testing.T) {
	src := &fakeSource{vehicles: []fleet.VehicleView{{ID: "a"}, {ID: "b"}}}
	a, _ := newTestAggregator(t, src, nil)
	var updates []VehiclesUpdate
	a.Subscribe(ChannelVehicles, func(ev Event) error {
		updates = append(updates, ev.(VehiclesUpdate))
		return nil
	})

	_ = a.Poll(context.Background())
	_ = a.Poll(context.Background())
	src.set(func(f *fakeSource) { f.vehicles = f.vehicles[:1] })
	_ = a.Poll(context.Background())

	if len(updates) != 3 {
		t.Fatalf("got %d updates", len(updates))
	}
	if !updates[0].Changed || updates[1].Changed || !updates[2].Changed {
		t.Fatalf("changed flags = %v %v %v", updates[0].Changed, updates[1].Changed, updates[2].Changed)
	}
	if updates[2].Count != 1 {
		t.Fatalf("count = %d, want 1", updates[2].Count)
	}
	if _, ok := a.Vehicle("b"); ok {
		t.Fatal("vehicle map was not replaced wholesale")
	}
	if v, ok := a.Vehicle("a"); !ok || v.ID != "a" {
		t.Fatal("vehicle a missing")
	}
}

func TestSubscriberFailuresAreIsolated(t *testing.T) {
	a, _ := newTestAggregator(t, &fakeSource{}, nil)
	var delivered int
	a.Subscribe(ChannelMetrics, func(Event) error { panic("boom") })
	a.Subscribe(ChannelMetrics, func(Event) error { return errors.New("handler failed") })
	a.Subscribe(ChannelMetrics, func(Event) error {
		delivered++
		return nil
	})

	if err := a.Poll(context.Background()); err != nil {
		t.Fatalf("poll failed because of a subscriber: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("healthy subscriber got %d events, want 1", delivered)
	}
	if p := a.PerformanceStats(); p.FailedPolls != 0 || p.TotalPolls != 1 {
		t.Fatalf("perf = %+v", p)
	}
}

func TestUnsubscribe(t *testing.T) {
	a, _ := newTestAggregator(t, &fakeSource{}, nil)
	var n int
	sub := a.Subscribe(ChannelStatistics, func(Event) error {
		n++
		return nil
	})
	_ = a.Poll(context.Background())
	a.Unsubscribe(sub)
	sub.Cancel()
	_ = a.Poll(context.Background())
	if n != 1 {
		t.Fatalf("handler ran %d times, want 1", n)
	}
	if a.Subscribers(ChannelStatistics) != 0 {
		t.Fatal("subscription still registered")
	}

	inert := a.Subscribe("vehicles:deleted", func(Event) error { return nil })
	inert.Cancel()
	if inert.Channel() != "vehicles:deleted" {
		t.Fatalf("inert channel = %q", inert.Channel())
	}
}

func TestPollFailureCountedAndReported(t *testing.T) {
	boom := errors.New("source offline")
	src := &fakeSource{err: boom}
	a, _ := newTestAggregator(t, src, func(c *Config) { c.PollInterval = time.Hour })

	var reported []PollError
	a.Subscribe(ChannelError, func(ev Event) error {
		reported = append(reported, ev.(PollError))
		return nil
	})

	err := a.StartStreaming(context.Background())
	defer a.StopStreaming()
	if !errors.Is(err, boom) {
		t.Fatalf("StartStreaming err = %v, want %v", err, boom)
	}
	if !a.Streaming() {
		t.Fatal("a failed first poll must not stop the schedule")
	}
	if len(reported) != 1 || reported[0].FailedPolls != 1 {
		t.Fatalf("error events = %+v", reported)
	}

	src.set(func(f *fakeSource) { f.err = nil })
	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	p := a.PerformanceStats()
	if p.TotalPolls != 2 || p.FailedPolls != 1 {
		t.Fatalf("perf = %+v", p)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	a, _ := newTestAggregator(t, &fakeSource{}, func(c *Config) { c.PollInterval = time.Hour })
	ctx := context.Background()

	if err := a.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.StartStreaming(ctx); err != nil {
		t.Fatal(err)
	}
	if got := a.PerformanceStats().TotalPolls; got != 1 {
		t.Fatalf("total polls = %d, want 1", got)
	}
	a.StopStreaming()
	a.StopStreaming()
	if a.Streaming() {
		t.Fatal("still streaming")
	}
}

func TestStreamingPollsOnSchedule(t *testing.T) {
	a, _ := newTestAggregator(t, &fakeSource{}, func(c *Config) { c.PollInterval = 5 * time.Millisecond })
	if err := a.StartStreaming(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.PerformanceStats().TotalPolls < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	a.StopStreaming()
	stopped := a.PerformanceStats().TotalPolls
	if stopped < 3 {
		t.Fatalf("only %d polls ran", stopped)
	}
	time.Sleep(30 * time.Millisecond)
	if got := a.PerformanceStats().TotalPolls; got != stopped {
		t.Fatalf("polls continued after stop: %d -> %d", stopped, got)
	}
}

func TestHistoricalData(t *testing.T) {
	src := &fakeSource{}
	a, clock := newTestAggregator(t, src, nil)
	start := clock.Now()
	for i := 0; i < 4; i++ {
		src.set(func(f *fakeSource) { f.metrics.Utilization = float64(i) })
		_ = a.Poll(context.Background())
		clock.Advance(time.Minute)
	}

	if got := a.HistoricalData("latency", TimeRange{}); got != nil {
		t.Fatalf("unknown statistic returned %v", got)
	}
	all := a.HistoricalData(StatUtilization, TimeRange{})
	if len(all) != 4 {
		t.Fatalf("got %d points", len(all))
	}
	window := a.HistoricalData(StatUtilization, TimeRange{Start: start.Add(time.Minute), End: start.Add(2 * time.Minute)})
	if len(window) != 2 || window[0].Value != 1 || window[1].Value != 2 {
		t.Fatalf("window = %+v", window)
	}
	if got := a.AllHistoricalData(TimeRange{}); len(got) != len(AllStatistics) || len(got[StatDelays]) != 4 {
		t.Fatalf("all historical data = %v", got)
	}
}

func TestSummary(t *testing.T) {
	src := &fakeSource{}
	a, _ := newTestAggregator(t, src, nil)
	if s := a.Summary(); s.DataPoints != 0 || s.Series[StatRidership] != (SeriesSummary{}) {
		t.Fatalf("empty summary = %+v", s)
	}
	for _, r := range []int{10, 30, 20} {
		src.set(func(f *fakeSource) { f.metrics.Ridership = r })
		_ = a.Poll(context.Background())
	}
	got := a.Summary().Series[StatRidership]
	want := SeriesSummary{Current: 20, Average: 20, Min: 10, Max: 30}
	if got != want {
		t.Fatalf("ridership summary = %+v, want %+v", got, want)
	}
}

func TestClearHistoryAndReset(t *testing.T) {
	src := &fakeSource{vehicles: []fleet.VehicleView{{ID: "bus-1"}}}
	a, clock := newTestAggregator(t, src, nil)
	src.trips = []fleet.TripLogEntry{trip("bus-1", clock.Now())}
	_ = a.Poll(context.Background())

	a.ClearHistory()
	if a.Statistics().Len() != 0 || len(a.TripLogs(0)) != 0 {
		t.Fatal("history survived ClearHistory")
	}
	if len(a.Vehicles()) != 1 {
		t.Fatal("ClearHistory dropped vehicles")
	}

	a.Reset()
	if _, ok := a.Metrics(); ok {
		t.Fatal("metrics survived Reset")
	}
	if p := a.PerformanceStats(); p.TotalPolls != 0 || p.VehicleCount != 0 {
		t.Fatalf("perf after reset = %+v", p)
	}
}

func TestSnapshotLimitsTrips(t *testing.T) {
	src := &fakeSource{}
	a, clock := newTestAggregator(t, src, nil)
	var entries []fleet.TripLogEntry
	for i := 0; i < 80; i++ {
		entries = append(entries, trip("bus-1", clock.Now().Add(time.Duration(i)*time.Second)))
	}
	src.trips = entries
	_ = a.Poll(context.Background())

	st := a.Snapshot()
	if len(st.TripLogs) != SnapshotTrips {
		t.Fatalf("snapshot has %d trips, want %d", len(st.TripLogs), SnapshotTrips)
	}
	if st.Performance.TripLogCount != 80 {
		t.Fatalf("trip log count = %d", st.Performance.TripLogCount)
	}
}

func TestAggregatesLiveSimulator(t *testing.T) {
	cfg := fleet.DefaultConfig()
	cfg.MaxVehicles = 25
	cfg.InitialSpawnCount = 25
	cfg.Seed = 7
	sim, err := fleet.NewSimulator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := newTestAggregator(t, sim, nil)

	var fresh int
	a.Subscribe(ChannelTrips, func(ev Event) error {
		fresh += len(ev.(TripsNew).Trips)
		return nil
	})
	for h := 0; h < 6; h++ {
		sim.Tick(time.Hour, 7+h)
		if err := a.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.Vehicles()) != 25 {
		t.Fatalf("aggregated %d vehicles, want 25", len(a.Vehicles()))
	}
	if fresh == 0 || fresh != len(a.TripLogs(0)) {
		t.Fatalf("trips:new delivered %d entries, log holds %d", fresh, len(a.TripLogs(0)))
	}
}

func TestAverageDurationIgnoresFailedPolls(t *testing.T) {
	src := &fakeSource{err: errors.New("offline")}
	a, _ := newTestAggregator(t, src, nil)
	ctx := context.Background()

	if err := a.Poll(ctx); err == nil {
		t.Fatal("poll against a failing source succeeded")
	}
	src.set(func(f *fakeSource) {
		f.err = nil
		f.delay = 20 * time.Millisecond
	})
	if err := a.Poll(ctx); err != nil {
		t.Fatal(err)
	}

	p := a.PerformanceStats()
	if p.TotalPolls != 2 || p.FailedPolls != 1 {
		t.Fatalf("perf = %+v", p)
	}
	if p.LastUpdateDuration < 20*time.Millisecond {
		t.Fatalf("last duration = %s, want >= 20ms", p.LastUpdateDuration)
	}
	if p.AverageUpdateDuration != p.LastUpdateDuration {
		t.Fatalf("average = %s, want %s from the only successful poll", p.AverageUpdateDuration, p.LastUpdateDuration)
	}
}

func TestReadsDoNotShareRoutes(t *testing.T) {
	route := []fleet.Coordinate{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}
	src := &fakeSource{
		vehicles: []fleet.VehicleView{{ID: "bus-1", Class: fleet.ClassBus, State: fleet.StateActive, Route: route}},
		metrics:  fleet.MetricsSnapshot{VehiclesByClass: map[fleet.Class]int{fleet.ClassBus: 1}},
	}
	a, _ := newTestAggregator(t, src, nil)

	var payload []fleet.VehicleView
	a.Subscribe(ChannelVehicles, func(ev Event) error {
		payload = ev.(VehiclesUpdate).Vehicles
		return nil
	})
	var current fleet.MetricsSnapshot
	a.Subscribe(ChannelMetrics, func(ev Event) error {
		current = ev.(MetricsUpdate).Current
		return nil
	})
	if err := a.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	payload[0].Route[0].Lat = 90
	a.Vehicles()[0].Route[0].Lat = 91
	v, _ := a.Vehicle("bus-1")
	v.Route[1].Lat = 92
	route[0].Lat = 93
	current.VehiclesByClass[fleet.ClassBus] = 7
	m, _ := a.Metrics()
	m.VehiclesByClass[fleet.ClassBus] = 8

	got := a.Vehicles()[0].Route
	if got[0].Lat != 1 || got[1].Lat != 2 {
		t.Fatalf("retained route changed through a caller's copy: %+v", got)
	}
	if m, _ := a.Metrics(); m.VehiclesByClass[fleet.ClassBus] != 1 {
		t.Fatalf("retained metrics changed: %+v", m.VehiclesByClass)
	}
	if h := a.MetricsHistory(); h[0].VehiclesByClass[fleet.ClassBus] != 1 {
		t.Fatalf("history metrics changed: %+v", h[0].VehiclesByClass)
	}
}
