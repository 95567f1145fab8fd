package fleet

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("fleet: invalid config")

// Config controls a Simulator. Use DefaultConfig as a starting point.
type Config struct {
	MaxVehicles int
	// ClassDistribution gives the spawn proportion of each class; must sum to 1.
	ClassDistribution map[Class]float64
	// TickInterval is the wall-clock period between ticks once started.
	TickInterval time.Duration
	Center       Coordinate
	// InitialSpawnCount vehicles (capped at MaxVehicles) are created by NewSimulator.
	InitialSpawnCount int
	// SpawnRate is the number of vehicles added per simulated minute while
	// the fleet is below MaxVehicles.
	SpawnRate float64
	// TimeScale converts wall-clock elapsed time into simulated time when the
	// simulator drives itself via Start.
	TimeScale  float64
	MaxTripLog int
	// LifecycleProbability is the per-tick chance of running retirement.
	LifecycleProbability  float64
	RetirementAge         time.Duration
	RetirementProbability float64
	// RouteSpread is the max offset (degrees) of a route start from Center.
	RouteSpread float64
	// WaypointJitter is the max step (degrees) between consecutive waypoints.
	WaypointJitter float64
	// DelayRecoveryRate is how many delay minutes clear per simulated minute.
	DelayRecoveryRate float64
	Profiles          map[Class]ClassProfile
	// Seed fixes the random sequence; zero seeds from the clock.
	Seed uint64
	// Clock overrides time.Now for timestamps.
	Clock func() time.Time
}

// DefaultConfig returns a configuration for a mid-sized mixed fleet centred on
// lower Manhattan.
func DefaultConfig() Config {
	return Config{
		MaxVehicles: 10000,
		ClassDistribution: map[Class]float64{
			ClassRail:     0.2,
			ClassBus:      0.5,
			ClassRideHail: 0.3,
		},
		TickInterval:          time.Second,
		Center:                Coordinate{Lat: 40.7128, Lng: -74.0060},
		InitialSpawnCount:     1000,
		SpawnRate:             100,
		TimeScale:             60,
		MaxTripLog:            1000,
		LifecycleProbability:  0.01,
		RetirementAge:         240 * time.Hour,
		RetirementProbability: 0.05,
		RouteSpread:           0.1,
		WaypointJitter:        0.01,
		DelayRecoveryRate:     1,
		Profiles:              DefaultProfiles(),
	}
}

// withDefaults fills fields whose zero value is never meaningful.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxVehicles == 0 {
		c.MaxVehicles = d.MaxVehicles
	}
	if len(c.ClassDistribution) == 0 {
		c.ClassDistribution = d.ClassDistribution
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.Center == (Coordinate{}) {
		c.Center = d.Center
	}
	if c.TimeScale == 0 {
		c.TimeScale = d.TimeScale
	}
	if c.MaxTripLog == 0 {
		c.MaxTripLog = d.MaxTripLog
	}
	if c.RetirementAge == 0 {
		c.RetirementAge = d.RetirementAge
	}
	if c.RouteSpread == 0 {
		c.RouteSpread = d.RouteSpread
	}
	if c.WaypointJitter == 0 {
		c.WaypointJitter = d.WaypointJitter
	}
	if c.DelayRecoveryRate == 0 {
		c.DelayRecoveryRate = d.DelayRecoveryRate
	}
	profiles := make(map[Class]ClassProfile, len(Classes))
	for class, p := range d.Profiles {
		profiles[class] = p
	}
	for class, p := range c.Profiles {
		profiles[class] = p
	}
	c.Profiles = profiles
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Validate checks c for values the simulator cannot run with.
func (c Config) Validate() error {
	if c.MaxVehicles <= 0 {
		return fmt.Errorf("%w: max vehicles must be positive", ErrInvalidConfig)
	}
	if c.InitialSpawnCount < 0 || c.SpawnRate < 0 {
		return fmt.Errorf("%w: spawn counts must not be negative", ErrInvalidConfig)
	}
	if c.TickInterval <= 0 || c.TimeScale <= 0 {
		return fmt.Errorf("%w: tick interval and time scale must be positive", ErrInvalidConfig)
	}
	if c.MaxTripLog <= 0 {
		return fmt.Errorf("%w: max trip log must be positive", ErrInvalidConfig)
	}
	for _, p := range []float64{c.LifecycleProbability, c.RetirementProbability} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %.3f outside [0,1]", ErrInvalidConfig, p)
		}
	}
	if c.DelayRecoveryRate <= 0 {
		return fmt.Errorf("%w: delay recovery rate must be positive", ErrInvalidConfig)
	}

	var sum float64
	for class, share := range c.ClassDistribution {
		if !class.Valid() {
			return fmt.Errorf("%w: unknown class %q in distribution", ErrInvalidConfig, class)
		}
		if share < 0 {
			return fmt.Errorf("%w: negative share for %s", ErrInvalidConfig, class)
		}
		sum += share
	}
	if math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("%w: class distribution sums to %.3f, want 1", ErrInvalidConfig, sum)
	}

	for _, class := range Classes {
		p, ok := c.Profiles[class]
		if !ok {
			return fmt.Errorf("%w: missing profile for %s", ErrInvalidConfig, class)
		}
		if err := p.validate(class); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
