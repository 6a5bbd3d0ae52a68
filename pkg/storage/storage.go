package storage

import (
	"context"

	"github.com/ngoyal88/pricedash/pkg/metrics"
)

// Store defines the interface for persisting metric history outside the process
type Store interface {
	SaveRecord(ctx context.Context, rec metrics.Record) error
	// Recent returns up to limit records, oldest first.
	Recent(ctx context.Context, limit int) ([]metrics.Record, error)
	Len(ctx context.Context) (int64, error)

	// Health check
	Ping(ctx context.Context) error
}
