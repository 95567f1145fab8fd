package archive

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"TransitFleet/internal/fleet"
	"TransitFleet/internal/stream"
)

func openTemp(t *testing.T) *TripArchive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "data", "trips.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func entries(n int, base time.Time) []fleet.TripLogEntry {
	out := make([]fleet.TripLogEntry, n)
	for i := range out {
		out[i] = fleet.TripLogEntry{
			TripID:    "trip-" + string(rune('a'+i)),
			VehicleID: "bus-1",
			Class:     fleet.ClassBus,
			Trips:     i + 1,
			// sub-second offsets of varying precision must still sort by time
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond).Add(time.Duration(i%3) * time.Nanosecond),
		}
	}
	return out
}

func TestStoreAndRecent(t *testing.T) {
	a := openTemp(t)
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	all := entries(12, base)
	if err := a.Store(all...); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := a.Store(all[0]); err != nil {
		t.Fatal(err)
	}

	if n, err := a.Count(); err != nil || n != 12 {
		t.Fatalf("Count = %d, %v; want 12", n, err)
	}
	recent, err := a.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{12, 11, 10} {
		if recent[i].Trips != want {
			t.Fatalf("recent[%d].Trips = %d, want %d", i, recent[i].Trips, want)
		}
	}
	if !recent[0].Timestamp.Equal(all[11].Timestamp) {
		t.Fatalf("timestamp not preserved: %s", recent[0].Timestamp)
	}
}

func TestBetween(t *testing.T) {
	a := openTemp(t)
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := a.Store(entries(10, base)...); err != nil {
		t.Fatal(err)
	}
	got, err := a.Between(base.Add(200*time.Millisecond), base.Add(500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Trips != 3 || got[2].Trips != 5 {
		t.Fatalf("Between returned %+v", got)
	}
}

func TestHandleTripsNew(t *testing.T) {
	a := openTemp(t)
	ev := stream.TripsNew{Trips: entries(2, time.Now()), TotalLogs: 2}
	if err := a.Handle(ev); err != nil {
		t.Fatal(err)
	}
	if err := a.Handle(stream.VehiclesUpdate{}); err != nil {
		t.Fatal(err)
	}
	if n, _ := a.Count(); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
}

func TestClosed(t *testing.T) {
	a := openTemp(t)
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Store(entries(1, time.Now())...); !errors.Is(err, ErrClosed) {
		t.Fatalf("Store err = %v", err)
	}
	if _, err := a.Recent(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recent err = %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = a.Store(entries(4, time.Now())...)
	_ = a.Close()

	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if n, _ := b.Count(); n != 4 {
		t.Fatalf("reopened archive has %d entries", n)
	}
}
