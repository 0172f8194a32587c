// Package observability keeps an operation audit trail in SQLite: which
// mentor operations ran, through which transport, how long they took and
// how they failed. Secrets never enter an entry.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/codementor/idgen"
	"github.com/hazyhaar/codementor/kit"
)

// Entry is one audited operation.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Operation    string    `json:"operation"`
	Transport    string    `json:"transport,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Parameters   string    `json:"parameters"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"` // "success" or "error"
}

// Filter selects entries for Query.
type Filter struct {
	Operation string
	Status    string
	Since     time.Time
	Limit     int // default 100
}

// Coder is implemented by errors that carry a stable code.
type Coder interface {
	ErrorCode() string
}

// AuditLogger persists entries asynchronously in batches.
type AuditLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	ch     chan *Entry
	flushq chan chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// Option configures an AuditLogger.
type Option func(*AuditLogger)

// WithIDGenerator sets the entry ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *AuditLogger) { a.logger = l }
}

// NewAuditLogger starts the flush goroutine. db must carry Schema.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...Option) *AuditLogger {
	a := &AuditLogger{
		db:     db,
		newID:  idgen.Prefixed("audit_", idgen.Default),
		logger: slog.Default(),
		ch:     make(chan *Entry, bufferSize),
		flushq: make(chan chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// Record builds an entry for operation from the request context, the
// parameters and the outcome, and queues it.
func (a *AuditLogger) Record(ctx context.Context, operation string, params any, err error, duration time.Duration) {
	e := &Entry{
		Operation:  operation,
		Transport:  kit.GetTransport(ctx),
		RequestID:  kit.GetRequestID(ctx),
		Parameters: "{}",
		DurationMs: duration.Milliseconds(),
		Status:     "success",
	}
	if params != nil {
		if b, mErr := json.Marshal(params); mErr == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = "error"
		e.ErrorMessage = err.Error()
		var c Coder
		if errors.As(err, &c) {
			e.ErrorCode = c.ErrorCode()
		}
	}
	a.LogAsync(e)
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, e *Entry) error {
	a.fillDefaults(e)
	return a.insert(ctx, a.db, e)
}

// LogAsync queues e, inserting synchronously when the buffer is full.
func (a *AuditLogger) LogAsync(e *Entry) {
	a.fillDefaults(e)
	select {
	case a.ch <- e:
	default:
		a.logger.Warn("audit: buffer full, sync fallback", "operation", e.Operation)
		if err := a.insert(context.Background(), a.db, e); err != nil {
			a.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Query returns entries matching f, newest first.
func (a *AuditLogger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT entry_id, timestamp, operation, transport, request_id, parameters,
		error_code, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &e.Transport, &e.RequestID, &e.Parameters,
			&e.ErrorCode, &e.ErrorMessage, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than before.
func (a *AuditLogger) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Flush blocks until every entry queued before the call is written.
func (a *AuditLogger) Flush() {
	ack := make(chan struct{})
	select {
	case a.flushq <- ack:
		<-ack
	case <-a.done:
	}
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *Entry) {
	if e.ID == "" {
		e.ID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]*Entry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			a.logger.Error("audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := a.insert(ctx, tx, e); err != nil {
				a.logger.Error("audit: insert", "error", err, "entry_id", e.ID)
			}
		}
		if err := tx.Commit(); err != nil {
			a.logger.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	drain := func() {
		for {
			select {
			case e := <-a.ch:
				batch = append(batch, e)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case <-a.stop:
			drain()
			return
		case ack := <-a.flushq:
			drain()
			close(ack)
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *AuditLogger) insert(ctx context.Context, db execer, e *Entry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, operation, transport, request_id, parameters,
		 error_code, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.UnixMilli(), e.Operation, e.Transport, e.RequestID, e.Parameters,
		e.ErrorCode, e.ErrorMessage, e.DurationMs, e.Status)
	return err
}
