package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// WriterStats reports what happened to the records handed to a FileWriter.
type WriterStats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// FileWriter appends records as JSON lines from a single background goroutine.
// Enqueue never blocks: when the queue is full the record is dropped for the
// file only. Write failures are logged and counted, never returned to callers.
type FileWriter struct {
	path   string
	queue  chan Record
	done   chan struct{}
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	file *os.File // owned by run
}

// NewFileWriter starts a writer appending to path with a queue of queueSize records.
func NewFileWriter(path string, queueSize int, logger *zap.Logger) *FileWriter {
	w := newFileWriter(path, queueSize, logger)
	go w.run()
	return w
}

// newFileWriter builds the writer without starting its goroutine.
func newFileWriter(path string, queueSize int, logger *zap.Logger) *FileWriter {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &FileWriter{
		path:   path,
		queue:  make(chan Record, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	return w
}

// Path returns the file the writer appends to.
func (w *FileWriter) Path() string { return w.path }

// Enqueue hands rec to the background writer. It reports false when the
// record was dropped because the queue is full or the writer is closed.
func (w *FileWriter) Enqueue(rec Record) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.queue <- rec:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("metrics file queue full, dropping record", zap.String("id", rec.ID))
		return false
	}
}

func (w *FileWriter) run() {
	defer close(w.done)
	defer func() {
		if w.file != nil {
			_ = w.file.Close()
		}
	}()

	for rec := range w.queue {
		if err := w.append(rec); err != nil {
			w.failed.Add(1)
			w.logger.Error("failed to write metric to file",
				zap.String("file", w.path),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		w.written.Add(1)
	}
}

func (w *FileWriter) append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	if w.file == nil {
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		w.file = f
	}

	if _, err := w.file.Write(line); err != nil {
		// Reopen on the next record in case the file was moved away.
		_ = w.file.Close()
		w.file = nil
		return fmt.Errorf("append metrics file: %w", err)
	}
	return nil
}

// Close stops accepting records and waits until the queue is drained or ctx ends.
func (w *FileWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain metrics writer: %w", ctx.Err())
	}
}

func (w *FileWriter) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}
