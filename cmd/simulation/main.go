// Fleet simulator without the dashboard: ticks a fleet on its own schedule
// and writes one telemetry line per vehicle to a serial device or stdout.
// Use this to feed a gateway when you don't have real vehicle hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TransitFleet/internal/core"
	"TransitFleet/internal/device"
	"TransitFleet/internal/fleet"
	"TransitFleet/internal/parser"
	"TransitFleet/internal/util"
)

func main() {
	dev := flag.String("dev", "", "serial device to write telemetry into (empty writes to stdout)")
	baud := flag.Int("baud", 9600, "baud rate")
	format := flag.String("format", "csv", "wire format: csv, json or nmea")
	vehicles := flag.Int("n", 20, "fleet size")
	perTick := flag.Int("per-tick", 5, "max telemetry lines per tick")
	interval := flag.Int("interval", 1000, "ms between ticks")
	seed := flag.Uint64("seed", 0, "random seed (0 seeds from the clock)")
	list := flag.Bool("list", false, "list serial ports and exit")
	flag.Parse()

	util.SetupLogger()

	if *list {
		ports, err := device.ListPorts()
		if err != nil {
			log.Fatalf("list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	p, err := parser.ForFormat(*format)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var out device.Device = device.NewWriterDevice(os.Stdout)
	if *dev != "" {
		sd, err := device.NewSerialDevice(*dev, *baud)
		if err != nil {
			log.Fatalf("open serial: %v", err)
		}
		out = sd
	}
	exp := core.NewTelemetryExporter(out, p, *perTick)
	defer func() {
		if cerr := exp.Close(); cerr != nil {
			log.Printf("warning: close device err: %v", cerr)
		}
	}()

	cfg := fleet.DefaultConfig()
	cfg.MaxVehicles = *vehicles
	cfg.InitialSpawnCount = *vehicles
	cfg.TickInterval = time.Duration(*interval) * time.Millisecond
	cfg.Seed = *seed
	sim, err := fleet.NewSimulator(cfg)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	util.Info("[simulation] %d vehicles, %s every %s", *vehicles, *format, cfg.TickInterval)
	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			sent, failed := exp.Stats()
			util.Info("[simulation] stopped: %d lines sent, %d failed", sent, failed)
			return
		case now := <-tick.C:
			sim.Tick(time.Duration(float64(cfg.TickInterval)*cfg.TimeScale), now.Hour())
			vs, err := sim.FetchVehicles(ctx)
			if err != nil {
				continue
			}
			if _, err := exp.Export(vs); err != nil {
				util.Warn("[simulation] export: %v", err)
			}
		}
	}
}
