// Package core wires the fleet simulator, the stream aggregator and their
// consumers (dashboard, archive, telemetry exporter) into one System.
package core

import (
	"context"
	"fmt"
	"os"
	"sync"

	"TransitFleet/internal/archive"
	"TransitFleet/internal/device"
	"TransitFleet/internal/fleet"
	"TransitFleet/internal/lora"
	"TransitFleet/internal/model"
	"TransitFleet/internal/parser"
	"TransitFleet/internal/stream"
	"TransitFleet/internal/util"
)

// LoopbackDevice is the exporter device name that routes telemetry through
// an in-memory link to a local Gateway instead of a serial port.
const LoopbackDevice = "loopback"

// System manages lifecycle of the main components. It loads configuration
// from a YAML file and constructs objects accordingly.
type System struct {
	cfg *model.Config

	Simulator  *fleet.Simulator
	Aggregator *stream.Aggregator
	Dashboard  *DashboardServer
	Archive    *archive.TripArchive
	Exporter   *TelemetryExporter
	Gateway    *Gateway

	subs []*stream.Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	startLock sync.Mutex
	wg        sync.WaitGroup
}

// NewSystem reads the YAML configuration at cfgPath and creates a System.
func NewSystem(cfgPath string) (*System, error) {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	return NewSystemFromConfig(cfg)
}

// NewSystemFromConfig builds every enabled component from cfg.
func NewSystemFromConfig(cfg *model.Config) (*System, error) {
	fc, err := cfg.Simulator.FleetConfig()
	if err != nil {
		return nil, err
	}
	sim, err := fleet.NewSimulator(fc)
	if err != nil {
		return nil, err
	}
	agg, err := stream.New(sim, cfg.Stream.AggregatorConfig())
	if err != nil {
		return nil, err
	}
	s := &System{cfg: cfg, Simulator: sim, Aggregator: agg}

	if cfg.Archive.Enabled {
		if s.Archive, err = archive.Open(cfg.Archive.Path); err != nil {
			return nil, err
		}
	}
	if cfg.Exporter.Enabled {
		if err := s.buildExporter(cfg.Exporter); err != nil {
			s.closeStores()
			return nil, err
		}
	}
	if cfg.Dashboard.Enabled {
		s.Dashboard = NewDashboardServer(cfg.Dashboard.Addr, sim, agg, s.Archive, s.Gateway, s)
	}
	s.subscribe()
	return s, nil
}

// wireParser returns the configured line parser, LoRa-framed if enabled.
func wireParser(ec model.ExporterConfig) (parser.Parser, error) {
	p, err := parser.ForFormat(ec.WireFormat)
	if err != nil {
		return nil, err
	}
	if !ec.LoRa.Enabled {
		return p, nil
	}
	sess, err := lora.ParseSession(ec.LoRa.DevAddr, ec.LoRa.NwkSKey, ec.LoRa.AppSKey, ec.LoRa.FPort)
	if err != nil {
		return nil, fmt.Errorf("lora session: %w", err)
	}
	return lora.NewFramer(p, sess), nil
}

func (s *System) buildExporter(ec model.ExporterConfig) error {
	out, err := wireParser(ec)
	if err != nil {
		return err
	}

	var dev device.Device
	switch ec.Device {
	case "":
		dev = device.NewWriterDevice(os.Stdout)
	case LoopbackDevice:
		dev = device.NewMemoryDevice(4 * max(ec.MaxPerPoll, 1))
		in, err := wireParser(ec)
		if err != nil {
			return err
		}
		s.Gateway = NewGateway("loopback", dev, in)
	default:
		sd, err := device.NewSerialDevice(ec.Device, ec.Baud)
		if err != nil {
			return err
		}
		dev = sd
	}
	s.Exporter = NewTelemetryExporter(dev, out, ec.MaxPerPoll)
	return nil
}

func (s *System) subscribe() {
	agg := s.Aggregator
	s.subs = append(s.subs, agg.Subscribe(stream.ChannelError, func(ev stream.Event) error {
		pe := ev.(stream.PollError)
		util.Warn("[stream] poll error #%d: %s", pe.FailedPolls, pe.Message)
		return nil
	}))
	if s.Archive != nil {
		s.subs = append(s.subs, agg.Subscribe(stream.ChannelTrips, s.Archive.Handle))
	}
	if s.Exporter != nil {
		s.subs = append(s.subs, agg.Subscribe(stream.ChannelVehicles, s.Exporter.Handle))
	}
	if s.Dashboard != nil {
		for _, ch := range stream.Channels {
			s.subs = append(s.subs, agg.Subscribe(ch, s.Dashboard.Handle))
		}
	}
}

// StartAll starts the dashboard, the gateway, the simulator and streaming.
func (s *System) StartAll() error {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.Dashboard != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Dashboard.Start(); err != nil {
				util.Error("[dashboard] server error: %v", err)
			}
		}()
	}
	if s.Gateway != nil {
		if err := s.Gateway.Start(); err != nil {
			util.Error("[gateway %s] start err: %v", s.Gateway.ID, err)
		}
	}

	s.Simulator.Start()
	if err := s.Aggregator.StartStreaming(s.ctx); err != nil {
		util.Warn("[stream] first poll failed: %v", err)
	}
	s.started = true
	return nil
}

// Control implements Controller for the dashboard.
func (s *System) Control(action string) error {
	switch action {
	case "start":
		s.startLock.Lock()
		ctx := s.ctx
		s.startLock.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		s.Simulator.Start()
		return s.Aggregator.StartStreaming(ctx)
	case "stop":
		s.Aggregator.StopStreaming()
		s.Simulator.Stop()
	case "reset":
		s.Aggregator.Reset()
		s.Simulator.Reset()
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, action)
	}
	return nil
}

// StopAll stops all running components gracefully and closes the stores.
func (s *System) StopAll() {
	s.startLock.Lock()
	defer s.startLock.Unlock()
	if !s.started {
		s.closeStores()
		return
	}
	s.Aggregator.StopStreaming()
	s.Simulator.Stop()
	if s.Dashboard != nil {
		s.Dashboard.Stop()
	}
	s.wg.Wait()
	if s.Gateway != nil {
		s.Gateway.Stop()
	}
	s.cancel()
	s.closeStores()
	s.started = false
}

func (s *System) closeStores() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	if s.Exporter != nil {
		if err := s.Exporter.Close(); err != nil {
			util.Warn("[exporter] close: %v", err)
		}
	}
	if s.Archive != nil {
		_ = s.Archive.Close()
	}
}
