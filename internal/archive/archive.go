// Package archive persists completed trips in a BoltDB file so they outlive
// the aggregator's bounded in-memory log.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"TransitFleet/internal/fleet"
	"TransitFleet/internal/stream"
	"TransitFleet/internal/util"

	"go.etcd.io/bbolt"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("archive: closed")

var tripsBucket = []byte("trips")

// keyLayout is fixed width so byte order equals time order.
const keyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TripArchive stores fleet.TripLogEntry values keyed by
// "<UTC timestamp>|<vehicle id>". Re-storing an entry overwrites it.
type TripArchive struct {
	mu sync.RWMutex
	db *bbolt.DB
}

// Open opens (or creates) the archive at path.
func Open(path string) (*TripArchive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("[archive] failed to create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("[archive] failed to open BoltDB: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tripsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[archive] failed to create bucket: %w", err)
	}
	return &TripArchive{db: db}, nil
}

func tripKey(e fleet.TripLogEntry) []byte {
	return []byte(e.Timestamp.UTC().Format(keyLayout) + "|" + e.VehicleID)
}

// Store writes entries in one transaction.
func (a *TripArchive) Store(entries ...fleet.TripLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return ErrClosed
	}
	return a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tripsBucket)
		for _, e := range entries {
			v, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(tripKey(e), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (a *TripArchive) Recent(limit int) ([]fleet.TripLogEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, ErrClosed
	}
	var out []fleet.TripLogEntry
	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(tripsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var e fleet.TripLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Between returns the entries stamped in [from, to), oldest first.
func (a *TripArchive) Between(from, to time.Time) ([]fleet.TripLogEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, ErrClosed
	}
	lo := []byte(from.UTC().Format(keyLayout))
	hi := []byte(to.UTC().Format(keyLayout))
	var out []fleet.TripLogEntry
	err := a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(tripsBucket).Cursor()
		for k, v := c.Seek(lo); k != nil && string(k) < string(hi); k, v = c.Next() {
			var e fleet.TripLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Count returns the number of stored entries.
func (a *TripArchive) Count() (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := a.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(tripsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Handle stores the trips of a stream.TripsNew event; other events are
// ignored. Subscribe it to stream.ChannelTrips.
func (a *TripArchive) Handle(ev stream.Event) error {
	tn, ok := ev.(stream.TripsNew)
	if !ok {
		return nil
	}
	if err := a.Store(tn.Trips...); err != nil {
		return fmt.Errorf("archive %d trips: %w", len(tn.Trips), err)
	}
	return nil
}

// Close closes the database. Further calls are no-ops.
func (a *TripArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		util.Error("[archive] error closing BoltDB: %v", err)
		return err
	}
	util.Info("[archive] closed BoltDB")
	return nil
}
