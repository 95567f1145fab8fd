package device

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"TransitFleet/internal/model"
)

// DecodeFunc turns one received line into a telemetry record.
type DecodeFunc func(line string) (model.VehicleData, error)

// pollTimeout bounds each read so the listener notices stop promptly.
const pollTimeout = 200 * time.Millisecond

// Listen continuously reads lines from d, decodes them and pushes the
// records to out. Lines that fail to decode are counted in the returned
// Listener and skipped. out is closed when the loop exits, which happens on
// Stop or when d reports ErrClosed.
func Listen(d Device, decode DecodeFunc, out chan<- model.VehicleData) *Listener {
	l := &Listener{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer func() {
			close(out)
			close(l.done)
		}()

		for {
			select {
			case <-l.stop:
				return
			default:
			}

			line, err := d.ReadLine(pollTimeout)
			if errors.Is(err, ErrClosed) {
				return
			}
			if err != nil {
				if !errors.Is(err, ErrReadTimeout) {
					time.Sleep(pollTimeout)
				}
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			v, err := decode(line)
			if err != nil {
				l.rejected.Add(1)
				continue
			}
			select {
			case out <- v:
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

// Listener is the handle of a running Listen loop.
type Listener struct {
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	rejected atomic.Int64
}

// Stop ends the loop and waits for it to exit.
func (l *Listener) Stop() {
	l.once.Do(func() { close(l.stop) })
	<-l.done
}

// Rejected returns how many lines failed to decode.
func (l *Listener) Rejected() int64 {
	return l.rejected.Load()
}
