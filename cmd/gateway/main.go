// Gateway program:
// - Reads telemetry lines from a serial device (LoRa modem or simulator)
// - Optionally unwraps LoRaWAN frames with the given session keys
// - Keeps the latest record per vehicle and serves it on /api/telemetry
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TransitFleet/internal/core"
	"TransitFleet/internal/device"
	"TransitFleet/internal/lora"
	"TransitFleet/internal/model"
	"TransitFleet/internal/parser"
	"TransitFleet/internal/util"
)

func main() {
	serialDev := flag.String("dev", "/dev/serial0", "serial device to read from")
	baud := flag.Int("baud", 9600, "serial baud")
	format := flag.String("format", "csv", "wire format: csv, json or nmea")
	gatewayID := flag.String("id", "GW01", "gateway id")
	addr := flag.String("addr", ":10001", "HTTP listen address")
	devAddr := flag.String("dev-addr", "", "LoRaWAN DevAddr (hex); empty reads plain lines")
	nwkSKey := flag.String("nwk-skey", "", "LoRaWAN NwkSKey (hex)")
	appSKey := flag.String("app-skey", "", "LoRaWAN AppSKey (hex)")
	fport := flag.Uint("fport", 1, "LoRaWAN FPort")
	verbose := flag.Bool("v", false, "log every decoded record")
	flag.Parse()

	util.SetupLogger()

	in, err := parser.ForFormat(*format)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *devAddr != "" {
		sess, err := lora.ParseSession(*devAddr, *nwkSKey, *appSKey, uint8(*fport))
		if err != nil {
			log.Fatalf("lora session: %v", err)
		}
		in = lora.NewFramer(in, sess)
	}

	sd, err := device.NewSerialDevice(*serialDev, *baud)
	if err != nil {
		log.Fatalf("open serial: %v", err)
	}
	defer func() {
		if cerr := sd.Close(); cerr != nil {
			log.Printf("warning: close serial err: %v", cerr)
		}
	}()

	gw := core.NewGateway(*gatewayID, sd, in)
	if *verbose {
		gw.OnRecord = func(vd model.VehicleData) {
			util.Info("[gateway %s] %s %s %.5f,%.5f", gw.ID, vd.VehicleID, vd.State, vd.Lat, vd.Lon)
		}
	}
	if err := gw.Start(); err != nil {
		log.Fatalf("start gateway: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/telemetry", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(gw.Latest()); err != nil {
			log.Printf("failed to write HTTP response: %v", err)
		}
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		received, rejected := gw.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{"received": received, "rejected": rejected})
	})

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("gateway http listening %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway http err: %v", err)
		}
	}()

	// wait signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("gateway shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	gw.Stop()
	received, rejected := gw.Stats()
	log.Printf("gateway stopped: %d received, %d rejected", received, rejected)
}
