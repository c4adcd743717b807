package ledger

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseLedger appends execution records to ClickHouse asynchronously.
// Append() is non-blocking: records are buffered and batch-inserted in a background goroutine.
type ClickHouseLedger struct {
	conn     driver.Conn
	buffer   chan *ExecutionRecord
	done     chan struct{}
	flushed  chan struct{}
	mu       sync.RWMutex // held shared by Append, exclusively by Close
	closed   bool
	failures atomic.Uint64
	logger   *zap.Logger
}

// NewClickHouseLedger creates a ClickHouseLedger and starts the background flush loop.
func NewClickHouseLedger(dsn string, logger *zap.Logger) (*ClickHouseLedger, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	l := &ClickHouseLedger{
		conn:    conn,
		buffer:  make(chan *ExecutionRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go l.flushLoop()
	return l, nil
}

// Append queues a record for async insertion.
// Non-blocking: the record is dropped and counted as a failure if the buffer is full.
func (l *ClickHouseLedger) Append(record *ExecutionRecord) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.fail(1, "append after close", zap.String("record_id", record.RecordID))
		return ErrClosed
	}
	select {
	case l.buffer <- record.clone():
		return nil
	default:
		l.fail(1, "clickhouse ledger buffer full, dropping record",
			zap.String("record_id", record.RecordID),
			zap.String("session_id", record.SessionID),
		)
		return ErrBufferFull
	}
}

// Failures reports how many records could not be written.
func (l *ClickHouseLedger) Failures() uint64 {
	return l.failures.Load()
}

// Close signals the flush loop to drain remaining records.
func (l *ClickHouseLedger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	<-l.flushed
}

func (l *ClickHouseLedger) fail(n uint64, msg string, fields ...zap.Field) {
	total := l.failures.Add(n)
	l.logger.Error(msg, append(fields, zap.Uint64("ledger_failures_total", total))...)
}

func (l *ClickHouseLedger) flushLoop() {
	defer close(l.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*ExecutionRecord, 0, flushBatch)

	for {
		select {
		case record := <-l.buffer:
			batch = append(batch, record)
			if len(batch) >= flushBatch {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-l.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case record := <-l.buffer:
					batch = append(batch, record)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				l.flush(batch)
			}
			return
		}
	}
}

func (l *ClickHouseLedger) flush(records []*ExecutionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO execution_records (
			record_id, user_id, session_id, timestamp, name,
			input, output, permission_granted, risk_flags, rationale
		)
	`)
	if err != nil {
		l.fail(uint64(len(records)), "clickhouse prepare batch failed", zap.Error(err))
		return
	}

	appended := 0
	for _, r := range records {
		var granted uint8
		if r.PermissionGranted {
			granted = 1
		}
		flags := r.RiskFlags
		if flags == nil {
			flags = []string{}
		}

		if err := batch.Append(
			r.RecordID,
			r.UserID,
			r.SessionID,
			r.Timestamp,
			r.Name,
			r.Input,
			r.Output,
			granted,
			flags,
			r.Rationale,
		); err != nil {
			l.fail(1, "clickhouse append record failed",
				zap.String("record_id", r.RecordID),
				zap.Error(err),
			)
			continue
		}
		appended++
	}

	if err := batch.Send(); err != nil {
		l.fail(uint64(appended), "clickhouse batch send failed",
			zap.Int("batch_size", appended),
			zap.Error(err),
		)
	}
}

// LogLedger is a fallback Ledger for local development.
type LogLedger struct {
	logger *zap.Logger
}

// NewLogLedger creates a LogLedger that outputs records to the given logger.
func NewLogLedger(logger *zap.Logger) *LogLedger {
	return &LogLedger{logger: logger}
}

func (l *LogLedger) Append(record *ExecutionRecord) error {
	l.logger.Info("execution_record",
		zap.String("record_id", record.RecordID),
		zap.String("user_id", record.UserID),
		zap.String("session_id", record.SessionID),
		zap.String("name", record.Name),
		zap.Bool("permission_granted", record.PermissionGranted),
		zap.Strings("risk_flags", record.RiskFlags),
		zap.String("rationale", record.Rationale),
		zap.Time("timestamp", record.Timestamp),
	)
	return nil
}

func (l *LogLedger) Failures() uint64 { return 0 }

func (l *LogLedger) Close() {}
