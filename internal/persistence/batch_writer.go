// Package persistence writes lifecycle events to SQLite off the engine's
// goroutine.
package persistence

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WriteOp represents a database write operation.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers writes and commits them in one transaction per batch,
// either when the batch is full or on a timer. Write never performs I/O.
type BatchWriter struct {
	db          *sql.DB
	log         *zap.Logger
	buffer      []WriteOp
	mu          sync.Mutex
	maxSize     int
	maxPending  int
	flushIntval time.Duration
	kick        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	flushMu     sync.Mutex
	metrics     BatchWriterMetrics
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	TotalDropped  uint64    `json:"total_dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer.
// maxSize: operations per batch before an early flush is requested
// interval: time-based flush interval
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	bw := &BatchWriter{
		db:          db,
		log:         log,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		maxPending:  maxSize * 200,
		flushIntval: interval,
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write queues an operation. When the backlog exceeds its bound the
// operation is dropped and counted.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxPending {
		bw.mu.Unlock()
		atomic.AddUint64(&bw.metrics.TotalDropped, 1)
		return
	}
	bw.buffer = append(bw.buffer, op)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		select {
		case bw.kick <- struct{}{}:
		default:
		}
	}
}

// WriteQuery is a convenience method for simple queries.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.Write(WriteOp{Query: query, Args: args})
}

// Flush immediately writes all buffered operations to the database.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

// executeBatch runs a batch of operations in a transaction.
func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(ops)))
	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	bw.mu.Lock()
	bw.metrics.LastBatchSize = len(ops)
	bw.metrics.LastFlushTime = time.Now()
	bw.mu.Unlock()

	tx, err := bw.db.Begin()
	if err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		bw.log.Error("batch writer: begin transaction failed", zap.Error(err))
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			atomic.AddUint64(&bw.metrics.TotalErrors, 1)
			bw.log.Error("batch writer: query failed, rolling back", zap.Int("batch", len(ops)), zap.Error(err))
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		bw.log.Error("batch writer: commit failed", zap.Error(err))
		return err
	}

	bw.log.Debug("batch writer: flushed", zap.Int("ops", len(ops)))
	return nil
}

// backgroundFlush flushes on the timer, on request, and once more on shutdown.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				bw.log.Warn("batch writer: background flush error", zap.Error(err))
			}
		case <-bw.kick:
			if err := bw.Flush(); err != nil {
				bw.log.Warn("batch writer: flush error", zap.Error(err))
			}
		case <-bw.done:
			if err := bw.Flush(); err != nil {
				bw.log.Warn("batch writer: final flush error", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of pending operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	bw.mu.Lock()
	last, at := bw.metrics.LastBatchSize, bw.metrics.LastFlushTime
	bw.mu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.metrics.TotalErrors),
		TotalDropped:  atomic.LoadUint64(&bw.metrics.TotalDropped),
		LastBatchSize: last,
		LastFlushTime: at,
	}
}

// Close flushes what is left and stops the background goroutine.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
