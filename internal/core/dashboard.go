package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"TransitFleet/internal/archive"
	"TransitFleet/internal/fleet"
	"TransitFleet/internal/model"
	"TransitFleet/internal/stream"
	"TransitFleet/internal/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	clientBuffer = 256
	writeWait    = 5 * time.Second
)

// Controller applies start, stop and reset actions posted to /api/control.
type Controller interface {
	Control(action string) error
}

// ErrUnknownAction is returned by a Controller for an unsupported action.
var ErrUnknownAction = errors.New("unknown action")

// DashboardServer exposes the aggregator over HTTP and pushes every stream
// event to websocket clients. It renders nothing; clients bring their own UI.
type DashboardServer struct {
	Addr string

	sim     *fleet.Simulator
	agg     *stream.Aggregator
	arch    *archive.TripArchive
	gateway *Gateway
	ctl     Controller

	mu      sync.Mutex
	clients map[*wsClient]bool
	server  *http.Server
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewDashboardServer constructs a server on addr. arch, gw and ctl may be nil;
// the endpoints that need them then answer 404 or 503.
func NewDashboardServer(addr string, sim *fleet.Simulator, agg *stream.Aggregator, arch *archive.TripArchive, gw *Gateway, ctl Controller) *DashboardServer {
	d := &DashboardServer{
		Addr:    addr,
		sim:     sim,
		agg:     agg,
		arch:    arch,
		gateway: gw,
		ctl:     ctl,
		clients: make(map[*wsClient]bool),
	}
	d.server = &http.Server{Addr: addr, Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return d
}

// Handler returns the routing mux.
func (d *DashboardServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", d.handleWS)
	mux.HandleFunc("/api/snapshot", d.handleSnapshot)
	mux.HandleFunc("/api/vehicles", d.handleVehicles)
	mux.HandleFunc("/api/vehicles/bounds", d.handleBounds)
	mux.HandleFunc("/api/history", d.handleHistory)
	mux.HandleFunc("/api/trips", d.handleTrips)
	mux.HandleFunc("/api/performance", d.handlePerformance)
	mux.HandleFunc("/api/archive", d.handleArchive)
	mux.HandleFunc("/api/telemetry", d.handleTelemetry)
	mux.HandleFunc("/api/control", d.handleControl)
	return mux
}

// Start launches the HTTP server. This call blocks until Stop or failure.
// A server that was stopped cannot be started again.
func (d *DashboardServer) Start() error {
	util.Info("[dashboard] listening on %s", d.Addr)
	if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down and disconnects every websocket client.
func (d *DashboardServer) Stop() {
	d.mu.Lock()
	for c := range d.clients {
		delete(d.clients, c)
		close(c.send)
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		util.Warn("[dashboard] shutdown: %v", err)
	}
}

// ClientCount returns the number of connected websocket clients.
func (d *DashboardServer) ClientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// Handle broadcasts ev to every websocket client. Subscribe it to every
// stream channel.
func (d *DashboardServer) Handle(ev stream.Event) error {
	return d.broadcast(string(ev.Channel()), ev)
}

func (d *DashboardServer) broadcast(kind string, payload any) error {
	b, err := json.Marshal(model.WSMessage{Type: kind, Payload: payload, SentAt: time.Now()})
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		select {
		case c.send <- b:
		default:
			util.Warn("[dashboard] client %s too slow, dropping", c.id)
			delete(d.clients, c)
			close(c.send)
		}
	}
	return nil
}

// handleWS upgrades the request, sends a state snapshot, then streams events.
func (d *DashboardServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warn("[dashboard] ws upgrade: %v", err)
		return
	}
	c := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, clientBuffer)}

	hello, err := json.Marshal(model.WSMessage{Type: "snapshot", Payload: d.agg.Snapshot(), SentAt: time.Now()})
	if err == nil {
		c.send <- hello
	}

	d.mu.Lock()
	d.clients[c] = true
	d.mu.Unlock()
	util.Info("[dashboard] client %s connected", c.id)

	go d.writePump(c)
	go d.readPump(c)
}

func (d *DashboardServer) writePump(c *wsClient) {
	defer func() {
		if err := c.conn.Close(); err != nil {
			util.Warn("[dashboard] failed to close websocket: %v", err)
		}
	}()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound frames and unregisters the client on error.
func (d *DashboardServer) readPump(c *wsClient) {
	defer func() {
		d.mu.Lock()
		if d.clients[c] {
			delete(d.clients, c)
			close(c.send)
		}
		d.mu.Unlock()
		util.Info("[dashboard] client %s disconnected", c.id)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.Warn("[dashboard] client %s: %v", c.id, err)
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warn("[dashboard] failed to write response: %v", err)
	}
}

func requireGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (d *DashboardServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, d.agg.Snapshot())
}

// handleVehicles serves ?id= as a single vehicle, otherwise the filtered list
// from the latest poll.
func (d *DashboardServer) handleVehicles(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		v, ok := d.agg.Vehicle(id)
		if !ok {
			http.Error(w, "no such vehicle", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	class, state := fleet.Class(q.Get("class")), fleet.State(q.Get("state"))
	if class != "" && !class.Valid() {
		http.Error(w, "unknown class", http.StatusBadRequest)
		return
	}
	if state != "" && !state.Valid() {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit", fleet.DefaultVehicleLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit == 0 {
		limit = fleet.DefaultVehicleLimit
	}
	out := make([]fleet.VehicleView, 0)
	for _, v := range d.agg.Vehicles() {
		if len(out) >= limit {
			break
		}
		if (class == "" || v.Class == class) && (state == "" || v.State == state) {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *DashboardServer) handleBounds(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	var b fleet.Bounds
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"min_lat", &b.MinLat}, {"max_lat", &b.MaxLat}, {"min_lng", &b.MinLng}, {"max_lng", &b.MaxLng},
	} {
		x, err := strconv.ParseFloat(r.URL.Query().Get(p.name), 64)
		if err != nil {
			http.Error(w, "invalid "+p.name, http.StatusBadRequest)
			return
		}
		*p.dst = x
	}
	if d.sim == nil {
		http.Error(w, "simulator not available", http.StatusServiceUnavailable)
		return
	}
	out := d.sim.VehiclesInBounds(b)
	if out == nil {
		out = []fleet.VehicleView{}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHistory serves ?metric= (one series) or all series, optionally
// bounded by ?start= and ?end= in unix milliseconds.
func (d *DashboardServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	var tr stream.TimeRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &tr.Start}, {"end", &tr.End}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid "+p.name, http.StatusBadRequest)
			return
		}
		*p.dst = time.UnixMilli(ms)
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		writeJSON(w, http.StatusOK, d.agg.AllHistoricalData(tr))
		return
	}
	points := d.agg.HistoricalData(stream.Statistic(metric), tr)
	if points == nil {
		points = []stream.DataPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (d *DashboardServer) handleTrips(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, d.agg.TripLogs(limit))
}

func (d *DashboardServer) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		stream.PerformanceStats
		Clients int `json:"clients"`
	}{d.agg.PerformanceStats(), d.ClientCount()})
}

func (d *DashboardServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	if d.arch == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trips, err := d.arch.Recent(limit)
	if err != nil {
		http.Error(w, "failed to read archive", http.StatusInternalServerError)
		return
	}
	if trips == nil {
		trips = []fleet.TripLogEntry{}
	}
	writeJSON(w, http.StatusOK, trips)
}

// handleTelemetry serves the latest record the loopback gateway decoded
// per vehicle.
func (d *DashboardServer) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !requireGET(w, r) {
		return
	}
	if d.gateway == nil {
		http.Error(w, "no telemetry gateway", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d.gateway.Latest())
}

func (d *DashboardServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var c model.ControlMessage
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.Action = strings.ToLower(strings.TrimSpace(c.Action))
	if d.ctl == nil {
		writeJSON(w, http.StatusServiceUnavailable, model.AckMessage{Action: c.Action, Error: "control not available"})
		return
	}
	if err := d.ctl.Control(c.Action); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownAction) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, model.AckMessage{Action: c.Action, Error: err.Error()})
		return
	}
	util.Info("[dashboard] control %s applied", c.Action)
	writeJSON(w, http.StatusAccepted, model.AckMessage{Action: c.Action, Ack: true})
}
