package fleet

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"TransitFleet/internal/util"

	"github.com/google/uuid"
)

// Simulator owns a fleet of vehicles and advances them tick by tick.
// It is safe for concurrent use; every exported method takes the lock, and
// readers receive copies so a tick is never observed half-applied.
type Simulator struct {
	cfg Config

	mu      sync.RWMutex
	rng     *rng
	picker  classPicker
	fleet   []*vehicle
	byID    map[string]*vehicle
	nextID  map[Class]int
	metrics MetricsSnapshot
	tripLog []TripLogEntry
	ticks   uint64

	runMu     sync.Mutex
	running   bool
	startedAt time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewSimulator validates cfg and spawns the initial population.
func NewSimulator(cfg Config) (*Simulator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(cfg.Clock().UnixNano())
	}
	s := &Simulator{cfg: cfg}
	s.rng = newRNG(seed)
	s.init()
	return s, nil
}

func (s *Simulator) init() {
	s.picker = newClassPicker(s.cfg.ClassDistribution, s.rng)
	s.fleet = nil
	s.byID = make(map[string]*vehicle)
	s.nextID = make(map[Class]int, len(Classes))
	s.tripLog = nil
	s.ticks = 0
	for i := 0; i < min(s.cfg.MaxVehicles, s.cfg.InitialSpawnCount); i++ {
		s.spawnLocked()
	}
	s.metrics = s.computeMetrics()
}

// Config returns the effective configuration after defaults were applied.
func (s *Simulator) Config() Config {
	return s.cfg
}

// Spawn adds one vehicle. At MaxVehicles it does nothing and reports false.
func (s *Simulator) Spawn() (VehicleView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.spawnLocked()
	if v == nil {
		return VehicleView{}, false
	}
	return v.view(), true
}

func (s *Simulator) spawnLocked() *vehicle {
	if len(s.fleet) >= s.cfg.MaxVehicles {
		return nil
	}
	class := s.picker.pick()
	s.nextID[class]++
	id := fmt.Sprintf("%s-%d", class, s.nextID[class])
	v := newVehicle(id, class, s.cfg.Profiles[class], s.rng.child(), s.cfg, s.cfg.Clock())
	s.fleet = append(s.fleet, v)
	s.byID[id] = v
	return v
}

// Tick advances the whole fleet by dt of simulated time at the given hour of day.
func (s *Simulator) Tick(dt time.Duration, hour int) {
	if dt <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if room := s.cfg.MaxVehicles - len(s.fleet); room > 0 && s.cfg.SpawnRate > 0 {
		n := min(room, int(math.Ceil(s.cfg.SpawnRate*dt.Minutes())))
		for i := 0; i < n; i++ {
			s.spawnLocked()
		}
	}

	now := s.cfg.Clock()
	var completed []TripLogEntry
	for _, v := range s.fleet {
		rep := v.advance(dt, hour, s.cfg.DelayRecoveryRate)
		if rep.cycles > 0 {
			completed = append(completed, v.tripEntry(rep, uuid.NewString(), now))
		}
	}

	s.ticks++
	s.metrics = s.computeMetrics()
	s.appendTrips(completed)

	if s.rng.chance(s.cfg.LifecycleProbability) {
		s.retireLocked()
	}
}

func (s *Simulator) appendTrips(entries []TripLogEntry) {
	if len(entries) == 0 {
		return
	}
	s.tripLog = append(s.tripLog, entries...)
	if over := len(s.tripLog) - s.cfg.MaxTripLog; over > 0 {
		s.tripLog = append([]TripLogEntry(nil), s.tripLog[over:]...)
	}
}

// retireLocked removes vehicles older than RetirementAge, each with
// RetirementProbability.
func (s *Simulator) retireLocked() {
	kept := s.fleet[:0]
	retired := 0
	for _, v := range s.fleet {
		if v.age > s.cfg.RetirementAge && s.rng.chance(s.cfg.RetirementProbability) {
			delete(s.byID, v.id)
			retired++
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(s.fleet); i++ {
		s.fleet[i] = nil
	}
	s.fleet = kept
	if retired > 0 {
		util.Info("[fleet] retired %d vehicles, %d remain", retired, len(s.fleet))
	}
}

// computeMetrics scans the whole fleet.
func (s *Simulator) computeMetrics() MetricsSnapshot {
	m := MetricsSnapshot{
		Timestamp:       s.cfg.Clock(),
		Tick:            s.ticks,
		TotalVehicles:   len(s.fleet),
		VehiclesByClass: make(map[Class]int, len(Classes)),
	}
	for _, c := range Classes {
		m.VehiclesByClass[c] = 0
	}

	var speed, adherence, delay float64
	var seats, onboard int
	for _, v := range s.fleet {
		m.VehiclesByClass[v.class]++
		switch v.state {
		case StateActive:
			m.ActiveVehicles++
		case StateDelayed:
			m.DelayedVehicles++
		case StateMaintenance:
			m.MaintenanceVehicles++
		}
		if v.state != StateMaintenance {
			speed += v.speed
			seats += v.capacity
			onboard += v.passengers
		}
		m.TotalTrips += v.trips
		m.TotalPassengers += v.totalPassengers
		m.TotalDistance += v.totalDistance
		adherence += v.adherence
		delay += v.delayMinutes
	}
	m.Ridership = onboard
	m.TotalDistance = round1(m.TotalDistance)

	if n := float64(len(s.fleet)); n > 0 {
		m.AverageSpeed = round1(speed / n)
		m.AverageAdherence = round1(adherence / n)
		m.AverageDelay = round1(delay / n)
	}
	if inService := m.ActiveVehicles + m.DelayedVehicles; inService > 0 {
		m.OnTimePerformance = round1(float64(m.ActiveVehicles) / float64(inService) * 100)
	}
	if seats > 0 {
		m.Utilization = round1(float64(onboard) / float64(seats) * 100)
	}
	return m
}

// Vehicles returns copies of the vehicles matching f, in spawn order.
func (s *Simulator) Vehicles(f VehicleFilter) []VehicleView {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultVehicleLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VehicleView, 0, min(limit, len(s.fleet)))
	for _, v := range s.fleet {
		if len(out) >= limit {
			break
		}
		if f.match(v) {
			out = append(out, v.view())
		}
	}
	return out
}

// Vehicle looks up one vehicle by id.
func (s *Simulator) Vehicle(id string) (VehicleView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return VehicleView{}, false
	}
	return v.view(), true
}

// VehiclesInBounds returns every vehicle currently positioned inside b.
func (s *Simulator) VehiclesInBounds(b Bounds) []VehicleView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VehicleView
	for _, v := range s.fleet {
		if b.Contains(v.position) {
			out = append(out, v.view())
		}
	}
	return out
}

// Metrics returns the snapshot computed by the latest tick.
func (s *Simulator) Metrics() MetricsSnapshot {
	s.mu.RLock()
	m := s.metrics.Clone()
	s.mu.RUnlock()

	s.runMu.Lock()
	defer s.runMu.Unlock()
	m.Running = s.running
	if s.running {
		m.Uptime = s.cfg.Clock().Sub(s.startedAt)
	}
	return m
}

// TripLog returns up to limit of the most recent entries, oldest first.
// A non-positive limit returns the whole log.
func (s *Simulator) TripLog(limit int) []TripLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.tripLog
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]TripLogEntry, len(log))
	copy(out, log)
	return out
}

// Len reports the current fleet size.
func (s *Simulator) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fleet)
}

// Reset stops the simulator and discards every vehicle and log entry, then
// respawns the initial population.
func (s *Simulator) Reset() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	util.Info("[fleet] reset, %d vehicles", len(s.fleet))
}

// Start ticks the simulator every TickInterval of wall time. Each tick covers
// the wall time elapsed since the previous one, scaled by TimeScale.
func (s *Simulator) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		util.Warn("[fleet] simulator already running")
		return
	}
	s.running = true
	s.startedAt = s.cfg.Clock()
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.run(s.stop)
	util.Info("[fleet] simulator started, tick=%s scale=%.0fx", s.cfg.TickInterval, s.cfg.TimeScale)
}

func (s *Simulator) run(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	last := s.cfg.Clock()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := s.cfg.Clock()
			elapsed := time.Duration(float64(now.Sub(last)) * s.cfg.TimeScale)
			last = now
			s.Tick(elapsed, now.Hour())
		}
	}
}

// Stop halts the tick loop. A tick already in progress completes first.
func (s *Simulator) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.runMu.Unlock()

	s.wg.Wait()
	util.Info("[fleet] simulator stopped")
}

// Running reports whether the tick loop is active.
func (s *Simulator) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// FetchVehicles returns every vehicle, up to MaxVehicles.
func (s *Simulator) FetchVehicles(ctx context.Context) ([]VehicleView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Vehicles(VehicleFilter{Limit: s.cfg.MaxVehicles}), nil
}

// FetchMetrics returns the latest snapshot.
func (s *Simulator) FetchMetrics(ctx context.Context) (MetricsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return MetricsSnapshot{}, err
	}
	return s.Metrics(), nil
}

// FetchTripLog returns up to limit recent trip entries.
func (s *Simulator) FetchTripLog(ctx context.Context, limit int) ([]TripLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.TripLog(limit), nil
}
