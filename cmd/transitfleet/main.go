// Package main is the entry point of the TransitFleet service.
// It initializes the logger, loads the configuration, constructs all components
// (simulator, stream aggregator, dashboard, archive, exporter) and runs them
// until interrupted.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"TransitFleet/internal/core"
	"TransitFleet/internal/util"
)

func main() {
	util.SetupLogger()

	cfgPath := flag.String("c", "configs/config.yml", "path to configuration file")
	flag.Parse()

	log.Printf("[Main] Using config: %s", *cfgPath)

	sys, err := core.NewSystem(*cfgPath)
	if err != nil {
		log.Fatalf("failed to create system: %v", err)
	}

	if err := sys.StartAll(); err != nil {
		log.Fatalf("failed to start system: %v", err)
	}

	// wait for Ctrl+C or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("[Main] Shutting down system...")
	sys.StopAll()
	log.Println("[Main] System stopped cleanly.")
}
