// Package queue implements durable named job queues on SQLite and the
// orchestrator that chains pipeline stages through them.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/masahif/adtrail/internal/storage"
)

// timeLayout is fixed width so that text comparison orders by time.
const timeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteBroker implements Broker on a jobs table.
type SQLiteBroker struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBroker opens or creates the queue database at dbPath.
func NewSQLiteBroker(dbPath string) (*SQLiteBroker, error) {
	db, err := storage.OpenSQLite(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}
	if err := addHeartbeatColumn(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteBroker{db: db, now: time.Now}, nil
}

// addHeartbeatColumn upgrades queue databases created before heartbeat_at.
func addHeartbeatColumn(db *sql.DB) error {
	var n int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name = 'heartbeat_at'").Scan(&n); err != nil {
		return fmt.Errorf("failed to inspect jobs table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE jobs ADD COLUMN heartbeat_at TEXT"); err != nil {
		return fmt.Errorf("failed to add heartbeat_at column: %w", err)
	}
	return nil
}

// Close closes the database connection
func (b *SQLiteBroker) Close() error {
	return b.db.Close()
}

func (b *SQLiteBroker) stamp() (time.Time, string) {
	now := b.now().UTC()
	return now, now.Format(timeLayout)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertJob(ctx context.Context, db execer, now time.Time, queue string, payload []byte, opts EnqueueOptions) (string, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	id := uuid.NewString()

	var parent any
	if opts.ParentID != "" {
		parent = opts.ParentID
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, payload, status, max_attempts, backoff_ms, parent_id, created_at, run_at)
		VALUES (?, ?, ?, 'queued', ?, ?, ?, ?, ?)
	`, id, queue, string(payload), opts.Attempts, opts.Backoff.Milliseconds(), parent,
		now.Format(timeLayout), now.Add(opts.Delay).Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job on %s: %w", queue, err)
	}
	return id, nil
}

// Enqueue adds a job to queue.
func (b *SQLiteBroker) Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) (string, error) {
	now, _ := b.stamp()
	return insertJob(ctx, b.db, now, queue, payload, opts)
}

const jobColumns = `id, queue, payload, status, attempts, max_attempts, backoff_ms, progress,
	result, last_error, parent_id, created_at, run_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                     Job
		status, payload         string
		backoffMS               int64
		result, lastErr, parent sql.NullString
		createdAt, runAt        string
		startedAt, finishedAt   sql.NullString
	)
	err := row.Scan(&job.ID, &job.Queue, &payload, &status, &job.Attempts, &job.MaxAttempts,
		&backoffMS, &job.Progress, &result, &lastErr, &parent, &createdAt, &runAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.Status = Status(status)
	job.Backoff = time.Duration(backoffMS) * time.Millisecond
	if result.Valid {
		job.Result = []byte(result.String)
	}
	job.LastError = lastErr.String
	job.ParentID = parent.String
	job.CreatedAt = parseTime(createdAt)
	job.RunAt = parseTime(runAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Claim atomically moves the oldest due job to processing.
func (b *SQLiteBroker) Claim(ctx context.Context, queue string) (*Job, error) {
	_, now := b.stamp()

	row := b.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing', attempts = attempts + 1, started_at = ?, heartbeat_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND status = 'queued' AND run_at <= ?
			ORDER BY run_at ASC, created_at ASC
			LIMIT 1
		) AND status = 'queued'
		RETURNING `+jobColumns, now, now, queue, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job on %s: %w", queue, err)
	}
	return job, nil
}

// Complete marks a processing job completed and enqueues followUps.
func (b *SQLiteBroker) Complete(ctx context.Context, id string, result []byte, followUps ...FollowUp) error {
	now, stamp := b.stamp()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res any
	if result != nil {
		res = string(result)
	}
	r, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', progress = 100, result = ?, finished_at = ?
		WHERE id = ? AND status = 'processing'
	`, res, stamp, id)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("complete %s: %w", id, ErrJobNotFound)
	}

	for _, f := range followUps {
		f.Options.ParentID = id
		if _, err := insertJob(ctx, tx, now, f.Queue, f.Payload, f.Options); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Fail records a failed attempt.
func (b *SQLiteBroker) Fail(ctx context.Context, id string, cause error, permanent bool) (bool, error) {
	now, stamp := b.stamp()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts, maxAttempts int
	var backoffMS int64
	err = tx.QueryRowContext(ctx, `
		SELECT attempts, max_attempts, backoff_ms FROM jobs WHERE id = ? AND status = 'processing'
	`, id).Scan(&attempts, &maxAttempts, &backoffMS)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("fail %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	requeue := !permanent && attempts < maxAttempts
	if requeue {
		runAt := now.Add(time.Duration(backoffMS) * time.Millisecond).Format(timeLayout)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'queued', last_error = ?, run_at = ?, started_at = NULL
			WHERE id = ?
		`, msg, runAt, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'failed', last_error = ?, finished_at = ?
			WHERE id = ?
		`, msg, stamp, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to record failure of %s: %w", id, err)
	}
	return requeue, tx.Commit()
}

// SetProgress stores a 0-100 progress value. It also counts as a heartbeat.
func (b *SQLiteBroker) SetProgress(ctx context.Context, id string, percent float64) error {
	_, stamp := b.stamp()
	if _, err := b.db.ExecContext(ctx,
		"UPDATE jobs SET progress = ?, heartbeat_at = CASE WHEN status = 'processing' THEN ? ELSE heartbeat_at END WHERE id = ?",
		percent, stamp, id); err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

// AppendLog adds a log line to a job. It also counts as a heartbeat.
func (b *SQLiteBroker) AppendLog(ctx context.Context, id, message string) error {
	_, stamp := b.stamp()
	if _, err := b.db.ExecContext(ctx,
		"INSERT INTO job_logs (job_id, message, logged_at) VALUES (?, ?, ?)", id, message, stamp); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return b.heartbeat(ctx, id, stamp)
}

func (b *SQLiteBroker) heartbeat(ctx context.Context, id, stamp string) error {
	if _, err := b.db.ExecContext(ctx,
		"UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status = 'processing'", stamp, id); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// Logs returns a job's log lines in order.
func (b *SQLiteBroker) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT job_id, message, logged_at FROM job_logs WHERE job_id = ? ORDER BY id ASC", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query job logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []LogEntry
	for rows.Next() {
		var e LogEntry
		var at string
		if err := rows.Scan(&e.JobID, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		e.LoggedAt = parseTime(at)
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// Get returns a job by id.
func (b *SQLiteBroker) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(b.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns jobs, newest first. Empty queue or status match all.
func (b *SQLiteBroker) List(ctx context.Context, queue string, status Status, limit int) ([]Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE (? = '' OR queue = ?) AND (? = '' OR status = ?) ORDER BY created_at DESC"
	args := []any{queue, queue, string(status), string(status)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Counts returns job counts per queue and status.
func (b *SQLiteBroker) Counts(ctx context.Context) ([]QueueCount, error) {
	rows, err := b.db.QueryContext(ctx,
		"SELECT queue, status, COUNT(*) FROM jobs GROUP BY queue, status ORDER BY queue, status")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []QueueCount
	for rows.Next() {
		var c QueueCount
		var status string
		if err := rows.Scan(&c.Queue, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		c.Status = Status(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// RequeueStale resets processing jobs abandoned by a dead worker: those
// with no heartbeat (claim, progress or log write) within timeout.
func (b *SQLiteBroker) RequeueStale(ctx context.Context, timeout time.Duration) (int64, error) {
	now, stamp := b.stamp()
	cutoff := now.Add(-timeout).Format(timeLayout)

	res, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', started_at = NULL, heartbeat_at = NULL, run_at = ?
		WHERE status = 'processing' AND COALESCE(heartbeat_at, started_at) < ?
	`, stamp, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed gives failed jobs a fresh set of attempts.
func (b *SQLiteBroker) RetryFailed(ctx context.Context, queue string) (int64, error) {
	_, stamp := b.stamp()
	res, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', attempts = 0, run_at = ?, finished_at = NULL
		WHERE status = 'failed' AND (? = '' OR queue = ?)
	`, stamp, queue, queue)
	if err != nil {
		return 0, fmt.Errorf("failed to retry jobs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFinished deletes finished jobs and their logs.
func (b *SQLiteBroker) PurgeFinished(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeLayout)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM job_logs WHERE job_id IN (
			SELECT id FROM jobs WHERE status IN ('completed', 'failed') AND finished_at < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge job logs: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"DELETE FROM jobs WHERE status IN ('completed', 'failed') AND finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

var _ Broker = (*SQLiteBroker)(nil)
