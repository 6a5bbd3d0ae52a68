package metrics

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Collector owns the metrics trail of the proxy: the in-memory history,
// the optional file writer, the exporter and any extra sinks.
// It is created at startup and injected into the handlers that need it.
type Collector struct {
	ring     *Ring
	writer   *FileWriter
	exporter Exporter
	sinks    []Sink
	logger   *zap.Logger
}

// NewCollector creates a collector keeping up to capacity records in memory.
// Without further options it exports nothing and persists nothing.
func NewCollector(capacity int, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		ring:     NewRing(capacity),
		exporter: NoopExporter{},
		logger:   logger,
	}
}

// WithFileWriter persists every record through w.
func (c *Collector) WithFileWriter(w *FileWriter) *Collector {
	c.writer = w
	return c
}

// WithExporter selects the scrape exporter.
func (c *Collector) WithExporter(e Exporter) *Collector {
	if e != nil {
		c.exporter = e
	}
	return c
}

// WithSink adds an extra sink fed with every record.
func (c *Collector) WithSink(s Sink) *Collector {
	if s != nil {
		c.sinks = append(c.sinks, s)
	}
	return c
}

// Push stores rec in memory and hands it to the writer and sinks.
// Nothing here blocks on I/O and no failure reaches the caller.
func (c *Collector) Push(rec Record) {
	c.ring.Add(rec)

	if c.writer != nil {
		c.writer.Enqueue(rec)
	}

	c.observe(c.exporter, rec)
	for _, s := range c.sinks {
		c.observe(s, rec)
	}
}

func (c *Collector) observe(s Sink, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("metrics sink panicked",
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.Any("panic", r),
			)
		}
	}()
	s.Observe(rec)
}

// Snapshot returns the in-memory history, oldest first.
func (c *Collector) Snapshot() []Record {
	return c.ring.Snapshot()
}

// Capacity is the size of the in-memory history.
func (c *Collector) Capacity() int { return c.ring.Cap() }

// ExporterEnabled reports whether a real scrape exporter is configured.
func (c *Collector) ExporterEnabled() bool { return c.exporter.Enabled() }

// Handler serves the scrape endpoint of the configured exporter.
func (c *Collector) Handler() http.Handler { return c.exporter.Handler() }

// WriterStats returns file writer counters; zero when no writer is configured.
func (c *Collector) WriterStats() WriterStats {
	if c.writer == nil {
		return WriterStats{}
	}
	return c.writer.Stats()
}

// Close drains the file writer.
func (c *Collector) Close(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.Close(ctx)
}
