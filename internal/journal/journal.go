// Package journal keeps a sqlite history of finished queries for operators.
// The broker writes to it but never reads it back.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/relaygw/internal/broker"
	"github.com/mattjoyce/relaygw/internal/log"
)

const (
	maxErrorBytes = 4 * 1024

	// Fixed width so timestamps sort lexically in sqlite.
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	// DefaultRecentLimit and MaxRecentLimit bound Recent.
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Entry is one journal row.
type Entry struct {
	RequestID      string    `json:"requestId"`
	Identity       string    `json:"identity"`
	CredentialHash string    `json:"credentialHash"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	MessageChars   int       `json:"messageChars"`
	ResponseChars  int       `json:"responseChars"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	DurationMS     int64     `json:"durationMs"`
}

// Journal records broker completions in the query_log table.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps a database bootstrapped by storage.OpenSQLite.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, logger: log.WithComponent("journal")}
}

// HashCredential returns the hex BLAKE3 digest stored in place of a credential.
func HashCredential(credential string) string {
	sum := blake3.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// RecordCompletion implements broker.Recorder.
func (j *Journal) RecordCompletion(ctx context.Context, c broker.Completion) error {
	if c.RequestID == "" {
		return fmt.Errorf("request id is empty")
	}
	errMsg := broker.TruncateUTF8(c.Error, maxErrorBytes)
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}

	_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO query_log(
  request_id, identity, credential_hash, status, error, message_chars, response_chars,
  enqueued_at, finished_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		c.RequestID, c.Identity, HashCredential(c.Credential), c.Status, errVal,
		c.MessageChars, c.ResponseChars,
		c.EnqueuedAt.UTC().Format(timeLayout),
		c.FinishedAt.UTC().Format(timeLayout),
		c.FinishedAt.Sub(c.EnqueuedAt).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert query_log: %w", err)
	}
	return nil
}

// Recent returns the newest entries first. limit is clamped to
// [1, MaxRecentLimit]; zero or less means DefaultRecentLimit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT request_id, identity, credential_hash, status, error, message_chars, response_chars,
       enqueued_at, finished_at, duration_ms
FROM query_log
ORDER BY finished_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			errMsg     sql.NullString
			enqueuedAt string
			finishedAt string
		)
		if err := rows.Scan(&e.RequestID, &e.Identity, &e.CredentialHash, &e.Status, &errMsg,
			&e.MessageChars, &e.ResponseChars, &enqueuedAt, &finishedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan query_log: %w", err)
		}
		e.Error = errMsg.String
		if e.EnqueuedAt, err = time.Parse(timeLayout, enqueuedAt); err != nil {
			return nil, fmt.Errorf("parse enqueued_at: %w", err)
		}
		if e.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query_log: %w", err)
	}
	return out, nil
}

// Prune deletes entries that finished before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM query_log WHERE finished_at < ?;`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune query_log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

// RunPruner prunes entries older than retention every interval until ctx ends.
// A retention of zero keeps everything.
func (j *Journal) RunPruner(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	if interval <= 0 {
		interval = time.Hour
	}

	prune := func() {
		n, err := j.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			j.logger.Error("journal prune failed", "error", err)
			return
		}
		if n > 0 {
			j.logger.Info("journal pruned", "rows", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			prune()
		}
	}
}
