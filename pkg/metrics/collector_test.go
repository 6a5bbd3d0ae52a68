package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct{ got []Record }

func (s *recordingSink) Observe(rec Record) { s.got = append(s.got, rec) }

type panickingSink struct{}

func (panickingSink) Observe(Record) { panic("boom") }

func TestCollector_PushFansOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	sink := &recordingSink{}
	c := NewCollector(2, zap.NewNop()).
		WithFileWriter(NewFileWriter(path, 16, zap.NewNop())).
		WithExporter(NewPrometheusExporter()).
		WithSink(sink)

	for i := 1; i <= 3; i++ {
		c.Push(rec(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	assert.Equal(t, []string{"req-2", "req-3"}, ids(c.Snapshot()))
	assert.Len(t, sink.got, 3)
	assert.Len(t, readLines(t, path), 3)
	assert.Equal(t, int64(3), c.WriterStats().Written)
	assert.True(t, c.ExporterEnabled())
}

func TestCollector_DefaultsToNoop(t *testing.T) {
	c := NewCollector(5, nil)
	c.Push(rec(1))

	assert.False(t, c.ExporterEnabled())
	assert.Equal(t, WriterStats{}, c.WriterStats())
	assert.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 5, c.Capacity())
}

func TestCollector_SinkPanicIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sink := &recordingSink{}
	c := NewCollector(5, zap.New(core)).WithSink(panickingSink{}).WithSink(sink)

	assert.NotPanics(t, func() { c.Push(rec(1)) })
	assert.Len(t, sink.got, 1)
	assert.Equal(t, 1, logs.FilterMessage("metrics sink panicked").Len())
}

func TestDurationMs(t *testing.T) {
	assert.Equal(t, 12.35, DurationMs(12345678*time.Nanosecond))
	assert.Equal(t, 0.0, DurationMs(0))
	assert.Equal(t, 1500.0, DurationMs(1500*time.Millisecond))
}
