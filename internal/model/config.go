// Package model defines the YAML configuration and the wire messages shared
// by the TransitFleet services.
package model

import (
	"fmt"
	"os"
	"time"

	"TransitFleet/internal/fleet"
	"TransitFleet/internal/stream"

	"gopkg.in/yaml.v3"
)

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	Simulator SimulatorConfig `yaml:"simulator"`
	Stream    StreamConfig    `yaml:"stream"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Exporter  ExporterConfig  `yaml:"exporter"`
}

// SimulatorConfig mirrors fleet.Config. Zero values fall back to fleet defaults.
type SimulatorConfig struct {
	MaxVehicles           int                      `yaml:"max_vehicles"`
	ClassDistribution     map[string]float64       `yaml:"class_distribution"`
	TickIntervalMs        int                      `yaml:"tick_interval_ms"`
	Center                *fleet.Coordinate        `yaml:"center"`
	InitialSpawnCount     *int                     `yaml:"initial_spawn_count"`
	SpawnRate             *float64                 `yaml:"spawn_rate"`
	TimeScale             float64                  `yaml:"time_scale"`
	MaxTripLog            int                      `yaml:"max_trip_log"`
	LifecycleProbability  *float64                 `yaml:"lifecycle_probability"`
	RetirementAgeHours    float64                  `yaml:"retirement_age_hours"`
	RetirementProbability *float64                 `yaml:"retirement_probability"`
	RouteSpread           float64                  `yaml:"route_spread"`
	WaypointJitter        float64                  `yaml:"waypoint_jitter"`
	DelayRecoveryRate     float64                  `yaml:"delay_recovery_rate"`
	Seed                  uint64                   `yaml:"seed"`
	Classes               map[string]ClassOverride `yaml:"classes"`
}

// ClassOverride replaces selected fields of one class profile.
type ClassOverride struct {
	Capacity            *fleet.Range `yaml:"capacity"`
	Speed               *fleet.Range `yaml:"speed"`
	RouteWaypoints      *fleet.Range `yaml:"route_waypoints"`
	MaintenanceInterval *fleet.Range `yaml:"maintenance_interval_hours"`
	MaintenanceDuration *fleet.Range `yaml:"maintenance_duration_hours"`
	DelayProbability    *float64     `yaml:"delay_probability"`
	MaxDelay            *float64     `yaml:"max_delay_minutes"`
	SpeedJitter         *fleet.Range `yaml:"speed_jitter"`
}

// StreamConfig mirrors stream.Config.
type StreamConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	MaxHistoryPoints   int `yaml:"max_history_points"`
	MaxTripLogEntries  int `yaml:"max_trip_log_entries"`
	MetricsRetentionMs int `yaml:"metrics_retention_ms"`
	FetchTripLimit     int `yaml:"fetch_trip_limit"`
}

// DashboardConfig defines the HTTP/websocket server.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // e.g. ":10000"
}

// ArchiveConfig defines the bbolt trip archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ExporterConfig defines the telemetry exporter writing to a serial device.
type ExporterConfig struct {
	Enabled    bool       `yaml:"enabled"`
	Device     string     `yaml:"device"` // serial port; empty writes to stdout
	Baud       int        `yaml:"baud"`
	WireFormat string     `yaml:"wire_format"` // csv, json or nmea
	MaxPerPoll int        `yaml:"max_per_poll"`
	LoRa       LoRaConfig `yaml:"lora"`
}

// LoRaConfig enables LoRaWAN framing of exported lines.
type LoRaConfig struct {
	Enabled bool   `yaml:"enabled"`
	DevAddr string `yaml:"dev_addr"` // 4 bytes hex
	NwkSKey string `yaml:"nwk_skey"` // 16 bytes hex
	AppSKey string `yaml:"app_skey"` // 16 bytes hex
	FPort   uint8  `yaml:"fport"`
}

// LoadConfig reads and parses the YAML file at path and applies defaults.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills the outer-surface settings that have no fleet or
// stream counterpart.
func (c *Config) ApplyDefaults() {
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = ":10000"
	}
	if c.Archive.Path == "" {
		c.Archive.Path = "trips.db"
	}
	if c.Exporter.WireFormat == "" {
		c.Exporter.WireFormat = "csv"
	}
	if c.Exporter.Baud == 0 {
		c.Exporter.Baud = 9600
	}
	if c.Exporter.MaxPerPoll == 0 {
		c.Exporter.MaxPerPoll = 10
	}
	if c.Exporter.LoRa.FPort == 0 {
		c.Exporter.LoRa.FPort = 1
	}
}

// FleetConfig converts the simulator section into a fleet.Config.
func (s SimulatorConfig) FleetConfig() (fleet.Config, error) {
	cfg := fleet.DefaultConfig()
	if s.MaxVehicles != 0 {
		cfg.MaxVehicles = s.MaxVehicles
	}
	if len(s.ClassDistribution) > 0 {
		cfg.ClassDistribution = make(map[fleet.Class]float64, len(s.ClassDistribution))
		for name, share := range s.ClassDistribution {
			cfg.ClassDistribution[fleet.Class(name)] = share
		}
	}
	if s.TickIntervalMs != 0 {
		cfg.TickInterval = time.Duration(s.TickIntervalMs) * time.Millisecond
	}
	if s.Center != nil {
		cfg.Center = *s.Center
	}
	if s.InitialSpawnCount != nil {
		cfg.InitialSpawnCount = *s.InitialSpawnCount
	}
	if s.SpawnRate != nil {
		cfg.SpawnRate = *s.SpawnRate
	}
	if s.TimeScale != 0 {
		cfg.TimeScale = s.TimeScale
	}
	if s.MaxTripLog != 0 {
		cfg.MaxTripLog = s.MaxTripLog
	}
	if s.LifecycleProbability != nil {
		cfg.LifecycleProbability = *s.LifecycleProbability
	}
	if s.RetirementAgeHours != 0 {
		cfg.RetirementAge = time.Duration(s.RetirementAgeHours * float64(time.Hour))
	}
	if s.RetirementProbability != nil {
		cfg.RetirementProbability = *s.RetirementProbability
	}
	if s.RouteSpread != 0 {
		cfg.RouteSpread = s.RouteSpread
	}
	if s.WaypointJitter != 0 {
		cfg.WaypointJitter = s.WaypointJitter
	}
	if s.DelayRecoveryRate != 0 {
		cfg.DelayRecoveryRate = s.DelayRecoveryRate
	}
	cfg.Seed = s.Seed

	for name, o := range s.Classes {
		class := fleet.Class(name)
		p, ok := cfg.Profiles[class]
		if !ok {
			return fleet.Config{}, fmt.Errorf("%w: unknown class %q in overrides", fleet.ErrInvalidConfig, name)
		}
		cfg.Profiles[class] = o.apply(p)
	}
	return cfg, cfg.Validate()
}

func (o ClassOverride) apply(p fleet.ClassProfile) fleet.ClassProfile {
	set := func(dst *fleet.Range, src *fleet.Range) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Capacity, o.Capacity)
	set(&p.Speed, o.Speed)
	set(&p.RouteWaypoints, o.RouteWaypoints)
	set(&p.MaintenanceInterval, o.MaintenanceInterval)
	set(&p.MaintenanceDuration, o.MaintenanceDuration)
	set(&p.SpeedJitter, o.SpeedJitter)
	if o.DelayProbability != nil {
		p.DelayProbability = *o.DelayProbability
	}
	if o.MaxDelay != nil {
		p.MaxDelay = *o.MaxDelay
	}
	return p
}

// AggregatorConfig converts the stream section into a stream.Config.
func (s StreamConfig) AggregatorConfig() stream.Config {
	return stream.Config{
		PollInterval:      time.Duration(s.PollIntervalMs) * time.Millisecond,
		MaxHistoryPoints:  s.MaxHistoryPoints,
		MaxTripLogEntries: s.MaxTripLogEntries,
		MetricsRetention:  time.Duration(s.MetricsRetentionMs) * time.Millisecond,
		FetchTripLimit:    s.FetchTripLimit,
	}
}
