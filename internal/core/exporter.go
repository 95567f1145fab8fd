package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"TransitFleet/internal/device"
	"TransitFleet/internal/fleet"
	"TransitFleet/internal/model"
	"TransitFleet/internal/parser"
	"TransitFleet/internal/stream"
	"TransitFleet/internal/util"
)

// TelemetryExporter writes vehicle telemetry to a Device, one encoded line
// per vehicle. Each vehicles:update exports at most MaxPerPoll vehicles,
// rotating through the fleet so every vehicle is eventually sent.
type TelemetryExporter struct {
	Device     device.Device
	Parser     parser.Parser
	MaxPerPoll int

	mu     sync.Mutex
	cursor int
	sent   atomic.Int64
	failed atomic.Int64
}

// NewTelemetryExporter constructs an exporter. maxPerPoll <= 0 exports every
// vehicle on each update.
func NewTelemetryExporter(dev device.Device, p parser.Parser, maxPerPoll int) *TelemetryExporter {
	return &TelemetryExporter{Device: dev, Parser: p, MaxPerPoll: maxPerPoll}
}

// Handle exports the vehicles of a stream.VehiclesUpdate.
func (e *TelemetryExporter) Handle(ev stream.Event) error {
	vu, ok := ev.(stream.VehiclesUpdate)
	if !ok {
		return nil
	}
	_, err := e.Export(vu.Vehicles)
	return err
}

// Export writes the next batch of vs and returns how many lines were sent.
func (e *TelemetryExporter) Export(vs []fleet.VehicleView) (int, error) {
	if len(vs) == 0 {
		return 0, nil
	}
	if e.Device == nil {
		return 0, errors.New("exporter: device absent; telemetry not sent")
	}

	n := len(vs)
	if e.MaxPerPoll > 0 && e.MaxPerPoll < n {
		n = e.MaxPerPoll
	}
	e.mu.Lock()
	start := e.cursor % len(vs)
	e.cursor = (start + n) % len(vs)
	e.mu.Unlock()

	var errs []error
	sent := 0
	for i := 0; i < n; i++ {
		v := vs[(start+i)%len(vs)]
		line, err := e.Parser.EncodeTelemetry(model.FromVehicle(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", v.ID, err))
			continue
		}
		if err := e.Device.WriteLine(line); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", v.ID, err))
			continue
		}
		sent++
	}
	e.sent.Add(int64(sent))
	e.failed.Add(int64(len(errs)))
	if len(errs) > 0 {
		util.Warn("[exporter] %d of %d lines failed", len(errs), n)
	}
	return sent, errors.Join(errs...)
}

// Stats returns the cumulative sent and failed line counts.
func (e *TelemetryExporter) Stats() (sent, failed int64) {
	return e.sent.Load(), e.failed.Load()
}

// Close closes the device.
func (e *TelemetryExporter) Close() error {
	if e.Device == nil {
		return nil
	}
	return e.Device.Close()
}
