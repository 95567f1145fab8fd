package fleet

import (
	"math"
	"time"
)

// delayedSpeedFactor slows delayed vehicles relative to their base speed.
const delayedSpeedFactor = 0.5

// vehicle is the simulator's mutable record. All access happens under the
// simulator lock; readers get a VehicleView.
type vehicle struct {
	id        string
	class     Class
	profile   ClassProfile
	rng       *rng
	createdAt time.Time

	capacity  int
	baseSpeed float64
	speed     float64

	route    []Coordinate
	segments []float64
	index    int
	progress float64
	position Coordinate

	state        State
	passengers   int
	adherence    float64
	delayMinutes float64

	sinceMaintenance   time.Duration
	maintenanceDue     time.Duration
	maintenanceElapsed time.Duration
	maintenanceLength  time.Duration
	age                time.Duration

	totalDistance   float64
	totalPassengers int
	trips           int
	delayEvents     int
	cycleDistance   float64
}

// cycleReport summarises route cycles completed during one tick.
type cycleReport struct {
	cycles     int
	passengers int
	distance   float64
}

func newVehicle(id string, class Class, p ClassProfile, g *rng, cfg Config, now time.Time) *vehicle {
	v := &vehicle{
		id:        id,
		class:     class,
		profile:   p,
		rng:       g,
		createdAt: now,
		capacity:  g.intBetween(p.Capacity),
		baseSpeed: g.between(p.Speed),
		state:     StateActive,
		adherence: 100,
	}
	v.speed = v.baseSpeed
	v.route = generateRoute(g, cfg.Center, g.intBetween(p.RouteWaypoints), cfg.RouteSpread, cfg.WaypointJitter)
	v.segments = segmentLengths(v.route)
	v.position = v.route[0]
	v.maintenanceDue = hours(g.between(p.MaintenanceInterval))
	return v
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// advance moves the vehicle forward by dt of simulated time.
func (v *vehicle) advance(dt time.Duration, hour int, recoveryRate float64) cycleReport {
	v.age += dt

	if v.state == StateMaintenance {
		v.maintenanceElapsed += dt
		if v.maintenanceElapsed >= v.maintenanceLength {
			v.leaveMaintenance()
		}
		return cycleReport{}
	}

	v.sinceMaintenance += dt
	if v.sinceMaintenance >= v.maintenanceDue {
		v.enterMaintenance()
		return cycleReport{}
	}

	v.updateDelay(dt.Minutes(), recoveryRate)
	v.updatePassengers(hour)
	v.updateSpeed()
	return v.move(dt.Hours())
}

func (v *vehicle) enterMaintenance() {
	v.state = StateMaintenance
	v.delayMinutes = 0
	v.adherence = 100
	v.passengers = 0
	v.speed = 0
	v.maintenanceElapsed = 0
	v.maintenanceLength = hours(v.rng.between(v.profile.MaintenanceDuration))
}

func (v *vehicle) leaveMaintenance() {
	v.state = StateActive
	v.sinceMaintenance = 0
	v.maintenanceElapsed = 0
	v.maintenanceDue = hours(v.rng.between(v.profile.MaintenanceInterval))
}

func (v *vehicle) updateDelay(minutes, recoveryRate float64) {
	p := v.profile
	if v.state == StateActive && v.rng.chance(p.DelayProbability*minutes) {
		v.state = StateDelayed
		v.delayMinutes = v.rng.between(Range{1, p.MaxDelay})
		v.adherence = clamp(v.adherence-v.delayMinutes/p.MaxDelay*50, 0, 100)
		v.delayEvents++
	}
	if v.state == StateDelayed {
		v.delayMinutes = math.Max(0, v.delayMinutes-recoveryRate*minutes)
		if v.delayMinutes == 0 {
			v.state = StateActive
			v.adherence = clamp(v.adherence+10, 0, 100)
		}
	}
}

// updatePassengers steps the load toward the time-of-day target without
// overshooting it.
func (v *vehicle) updatePassengers(hour int) {
	target := int(math.Floor(float64(v.capacity) * LoadFactor(hour)))
	switch {
	case v.passengers < target:
		step := int(math.Ceil(v.rng.between(Range{1, 5})))
		v.passengers = min(target, v.passengers+step)
	case v.passengers > target:
		step := int(math.Ceil(v.rng.between(Range{1, 3})))
		v.passengers = max(target, v.passengers-step)
	}
	v.passengers = max(0, min(v.capacity, v.passengers))
}

func (v *vehicle) updateSpeed() {
	mult := v.rng.between(v.profile.SpeedJitter)
	if v.state == StateDelayed {
		mult *= delayedSpeedFactor
	}
	v.speed = v.baseSpeed * mult
}

// move consumes speed*hours km leg by leg. Returning to waypoint 0 completes a
// route cycle and everyone on board alights.
func (v *vehicle) move(hours float64) cycleReport {
	var rep cycleReport
	remaining := v.speed * hours
	v.totalDistance += remaining

	for remaining > 0 {
		seg := v.segments[v.index]
		left := (1 - v.progress) * seg
		if remaining < left {
			v.progress += remaining / seg
			v.cycleDistance += remaining
			break
		}
		remaining -= left
		v.cycleDistance += left
		v.progress = 0
		v.index = (v.index + 1) % len(v.route)
		if v.index == 0 {
			v.trips++
			v.totalPassengers += v.passengers
			rep.cycles++
			rep.passengers += v.passengers
			rep.distance += v.cycleDistance
			v.cycleDistance = 0
			v.passengers = 0
		}
	}

	next := v.route[(v.index+1)%len(v.route)]
	v.position = interpolate(v.route[v.index], next, v.progress)
	return rep
}

func (v *vehicle) view() VehicleView {
	route := make([]Coordinate, len(v.route))
	copy(route, v.route)
	return VehicleView{
		ID:                v.id,
		Class:             v.class,
		State:             v.state,
		Position:          v.position,
		Route:             route,
		RouteIndex:        v.index,
		RouteProgress:     v.progress,
		Speed:             round1(v.speed),
		BaseSpeed:         v.baseSpeed,
		Capacity:          v.capacity,
		Passengers:        v.passengers,
		ScheduleAdherence: round1(v.adherence),
		DelayMinutes:      round1(v.delayMinutes),
		TotalDistance:     v.totalDistance,
		TotalPassengers:   v.totalPassengers,
		Trips:             v.trips,
		DelayEvents:       v.delayEvents,
		CreatedAt:         v.createdAt,
	}
}

func (v *vehicle) tripEntry(rep cycleReport, id string, at time.Time) TripLogEntry {
	return TripLogEntry{
		TripID:      id,
		VehicleID:   v.id,
		Class:       v.class,
		Passengers:  rep.passengers,
		Distance:    round1(rep.distance),
		Trips:       v.trips,
		DelayEvents: v.delayEvents,
		Adherence:   v.adherence,
		Timestamp:   at,
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
