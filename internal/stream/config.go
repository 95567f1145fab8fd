package stream

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by New when Config fails validation.
var ErrInvalidConfig = errors.New("stream: invalid config")

// ErrNilSource is returned by New when no Source is given.
var ErrNilSource = errors.New("stream: nil source")

// Config controls an Aggregator.
type Config struct {
	PollInterval      time.Duration
	MaxHistoryPoints  int
	MaxTripLogEntries int
	// MetricsRetention drops history points older than now minus this window.
	MetricsRetention time.Duration
	// FetchTripLimit bounds how many trip entries each poll requests; zero
	// requests MaxTripLogEntries.
	FetchTripLimit int
	// Clock stamps history points. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns one-second polling with an hour of history.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		MaxHistoryPoints:  1000,
		MaxTripLogEntries: 500,
		MetricsRetention:  time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxHistoryPoints == 0 {
		c.MaxHistoryPoints = d.MaxHistoryPoints
	}
	if c.MaxTripLogEntries == 0 {
		c.MaxTripLogEntries = d.MaxTripLogEntries
	}
	if c.MetricsRetention == 0 {
		c.MetricsRetention = d.MetricsRetention
	}
	if c.FetchTripLimit == 0 {
		c.FetchTripLimit = c.MaxTripLogEntries
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Validate reports non-positive limits.
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.MaxHistoryPoints <= 0:
		return fmt.Errorf("%w: max history points must be positive", ErrInvalidConfig)
	case c.MaxTripLogEntries <= 0:
		return fmt.Errorf("%w: max trip log entries must be positive", ErrInvalidConfig)
	case c.MetricsRetention <= 0:
		return fmt.Errorf("%w: metrics retention must be positive", ErrInvalidConfig)
	case c.FetchTripLimit < 0:
		return fmt.Errorf("%w: fetch trip limit must not be negative", ErrInvalidConfig)
	}
	return nil
}
