package fleet

import "fmt"

// Range is a closed interval used for random draws.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r Range) validate(name string) error {
	if r.Min > r.Max {
		return fmt.Errorf("%s: min %.3f greater than max %.3f", name, r.Min, r.Max)
	}
	return nil
}

// ClassProfile holds the per-class parameters that shape spawned vehicles and
// their behaviour over time. Interval and duration ranges are in hours.
type ClassProfile struct {
	Capacity            Range   `json:"capacity"`
	Speed               Range   `json:"speed"` // km/h
	RouteWaypoints      Range   `json:"route_waypoints"`
	MaintenanceInterval Range   `json:"maintenance_interval"`
	MaintenanceDuration Range   `json:"maintenance_duration"`
	DelayProbability    float64 `json:"delay_probability"` // per simulated minute
	MaxDelay            float64 `json:"max_delay"`         // minutes
	SpeedJitter         Range   `json:"speed_jitter"`
}

// DefaultProfiles returns the stock parameters for every class.
func DefaultProfiles() map[Class]ClassProfile {
	return map[Class]ClassProfile{
		ClassRail: {
			Capacity:            Range{200, 400},
			Speed:               Range{40, 80},
			RouteWaypoints:      Range{20, 40},
			MaintenanceInterval: Range{72, 168},
			MaintenanceDuration: Range{2, 6},
			DelayProbability:    0.002,
			MaxDelay:            15,
			SpeedJitter:         Range{0.95, 1.05},
		},
		ClassBus: {
			Capacity:            Range{40, 60},
			Speed:               Range{30, 60},
			RouteWaypoints:      Range{10, 25},
			MaintenanceInterval: Range{48, 120},
			MaintenanceDuration: Range{2, 6},
			DelayProbability:    0.006,
			MaxDelay:            30,
			SpeedJitter:         Range{0.85, 1.15},
		},
		ClassRideHail: {
			Capacity:            Range{1, 4},
			Speed:               Range{40, 100},
			RouteWaypoints:      Range{2, 15},
			MaintenanceInterval: Range{24, 72},
			MaintenanceDuration: Range{2, 6},
			DelayProbability:    0.004,
			MaxDelay:            20,
			SpeedJitter:         Range{0.8, 1.2},
		},
	}
}

func (p ClassProfile) validate(c Class) error {
	checks := []struct {
		name string
		r    Range
	}{
		{"capacity", p.Capacity},
		{"speed", p.Speed},
		{"route_waypoints", p.RouteWaypoints},
		{"maintenance_interval", p.MaintenanceInterval},
		{"maintenance_duration", p.MaintenanceDuration},
		{"speed_jitter", p.SpeedJitter},
	}
	for _, chk := range checks {
		if err := chk.r.validate(chk.name); err != nil {
			return fmt.Errorf("class %s: %w", c, err)
		}
	}
	switch {
	case p.Capacity.Min < 1:
		return fmt.Errorf("class %s: capacity must be at least 1", c)
	case p.Speed.Min <= 0:
		return fmt.Errorf("class %s: speed must be positive", c)
	case p.RouteWaypoints.Min < 2:
		return fmt.Errorf("class %s: routes need at least 2 waypoints", c)
	case p.MaintenanceInterval.Min <= 0 || p.MaintenanceDuration.Min <= 0:
		return fmt.Errorf("class %s: maintenance interval and duration must be positive", c)
	case p.DelayProbability < 0 || p.DelayProbability > 1:
		return fmt.Errorf("class %s: delay probability %.3f outside [0,1]", c, p.DelayProbability)
	case p.MaxDelay < 1:
		return fmt.Errorf("class %s: max delay must be at least one minute", c)
	case p.SpeedJitter.Min <= 0:
		return fmt.Errorf("class %s: speed jitter must be positive", c)
	}
	return nil
}
