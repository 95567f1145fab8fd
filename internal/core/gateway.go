package core

import (
	"sort"
	"sync"
	"sync/atomic"

	"TransitFleet/internal/device"
	"TransitFleet/internal/model"
	"TransitFleet/internal/parser"
	"TransitFleet/internal/util"
)

// Gateway is the receiving end of the telemetry link: it reads lines from a
// Device, decodes them with InParser and keeps the latest record per vehicle.
type Gateway struct {
	ID       string
	Device   device.Device
	InParser parser.Parser

	mu       sync.RWMutex
	latest   map[string]model.VehicleData
	received atomic.Int64
	listener *device.Listener
	wg       sync.WaitGroup
	// OnRecord, when set, is called for every decoded record.
	OnRecord func(model.VehicleData)
}

// NewGateway constructs a Gateway over dev.
func NewGateway(id string, dev device.Device, in parser.Parser) *Gateway {
	return &Gateway{ID: id, Device: dev, InParser: in, latest: make(map[string]model.VehicleData)}
}

// Start begins the read loop.
func (g *Gateway) Start() error {
	if g.Device == nil {
		util.Warn("[gateway %s] no device; not started", g.ID)
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener != nil {
		return nil
	}
	ch := make(chan model.VehicleData, 64)
	g.listener = device.Listen(g.Device, g.InParser.DecodeTelemetry, ch)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for vd := range ch {
			g.mu.Lock()
			g.latest[vd.VehicleID] = vd
			g.mu.Unlock()
			g.received.Add(1)
			if g.OnRecord != nil {
				g.OnRecord(vd)
			}
		}
	}()
	util.Info("[gateway %s] listening", g.ID)
	return nil
}

// Latest returns the most recent record of every vehicle seen, sorted by id.
func (g *Gateway) Latest() []model.VehicleData {
	g.mu.RLock()
	out := make([]model.VehicleData, 0, len(g.latest))
	for _, vd := range g.latest {
		out = append(out, vd)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// Stats returns how many records were decoded and how many lines were rejected.
func (g *Gateway) Stats() (received, rejected int64) {
	g.mu.RLock()
	l := g.listener
	g.mu.RUnlock()
	if l != nil {
		rejected = l.Rejected()
	}
	return g.received.Load(), rejected
}

// Stop ends the read loop and waits for it. The device is left open; its
// owner closes it.
func (g *Gateway) Stop() {
	g.mu.Lock()
	l := g.listener
	g.listener = nil
	g.mu.Unlock()
	if l == nil {
		return
	}
	l.Stop()
	g.wg.Wait()
}
