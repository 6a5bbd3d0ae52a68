package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngoyal88/pricedash/pkg/metrics"
)

// HistorySink mirrors pushed records into a Store without blocking the caller.
type HistorySink struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistorySink wraps store as a metrics.Sink. Each save runs in its own
// goroutine bounded by timeout; failures are logged only.
func NewHistorySink(store Store, timeout time.Duration, logger *zap.Logger) *HistorySink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{store: store, timeout: timeout, logger: logger}
}

func (h *HistorySink) Observe(rec metrics.Record) {
	go func(r metrics.Record) {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		if err := h.store.SaveRecord(ctx, r); err != nil {
			h.logger.Warn("failed to mirror metric record", zap.String("id", r.ID), zap.Error(err))
		}
	}(rec)
}
