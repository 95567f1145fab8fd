package stream

import (
	"context"

	"TransitFleet/internal/fleet"
)

// Source is what the aggregator polls. *fleet.Simulator satisfies it; a
// remote fleet behind an RPC client would too.
//
// Implementations must return values the aggregator may keep without copying.
type Source interface {
	FetchVehicles(ctx context.Context) ([]fleet.VehicleView, error)
	FetchMetrics(ctx context.Context) (fleet.MetricsSnapshot, error)
	FetchTripLog(ctx context.Context, limit int) ([]fleet.TripLogEntry, error)
}

var _ Source = (*fleet.Simulator)(nil)
