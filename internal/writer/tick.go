package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/marketfeed/internal/buffer"
	"github.com/rickgao/marketfeed/internal/router"
)

// ErrNoDatabase is returned when flushing without a database.
var ErrNoDatabase = errors.New("no database configured")

const insertTickSQL = `
	INSERT INTO ticks (ts, received_at, security, last_price, prev_close, change_pct, bid, ask, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (security, ts) DO NOTHING
`

// TickWriter consumes TickMsg from the router buffer and writes to the ticks table.
type TickWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from Message Router
	input *buffer.Growable[router.TickMsg]

	// Database
	db BatchSender

	// Batching
	batch   []tickRow
	batchMu sync.Mutex
	flushMu sync.Mutex // one batch in flight

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewTickWriter creates a new TickWriter.
func NewTickWriter(
	cfg WriterConfig,
	input *buffer.Growable[router.TickMsg],
	db BatchSender,
	logger *slog.Logger,
) *TickWriter {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	return &TickWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("component", "tick_writer"),
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *TickWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("tick writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes what is left using ctx.
func (w *TickWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping tick writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("tick writer stop timed out")
		return ctx.Err()
	}

	// Ticks already buffered but not yet batched.
	for _, msg := range w.input.DrainTo(0) {
		w.add(msg)
	}

	err := w.flush(ctx)
	w.logger.Info("tick writer stopped", "inserts", w.Stats().Inserts)
	return err
}

// Stats returns current metrics.
func (w *TickWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Pending returns the number of rows waiting for the next flush.
func (w *TickWriter) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *TickWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		msg, ok, err := w.input.ReceiveContext(w.ctx)
		if err != nil {
			return
		}
		if !ok {
			w.logger.Info("input buffer closed")
			return
		}
		w.handleMessage(msg)
	}
}

// flushLoop periodically flushes the batch.
func (w *TickWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage adds a message to the batch, flushing when full.
func (w *TickWriter) handleMessage(msg router.TickMsg) {
	if w.add(msg) {
		w.flush(w.ctx)
	}
}

// add appends a row and reports whether the batch is full.
func (w *TickWriter) add(msg router.TickMsg) bool {
	row := w.transform(msg)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a TickMsg to a tickRow.
func (w *TickWriter) transform(msg router.TickMsg) tickRow {
	return tickRow{
		Ts:         msg.Timestamp.UTC(),
		ReceivedAt: msg.ReceivedAt.UTC(),
		Security:   msg.Security,
		LastPrice:  msg.LastPrice,
		PrevClose:  msg.PrevClose,
		ChangePct:  msg.ChangePct,
		Bid:        msg.Bid,
		Ask:        msg.Ask,
		Volume:     msg.Volume,
	}
}

// flush writes the current batch to the database.
func (w *TickWriter) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tickRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TickWriter) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, ErrNoDatabase
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTickSQL,
			r.Ts, r.ReceivedAt, r.Security, r.LastPrice, r.PrevClose, r.ChangePct, r.Bid, r.Ask, r.Volume)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
