package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrUnknownQueue is returned for a queue no stage is registered for.
	ErrUnknownQueue = errors.New("unknown queue")
	// ErrJobNotFound is returned when a job id does not exist or is not in
	// the state an operation requires.
	ErrJobNotFound = errors.New("job not found")
)

// Job is one unit of work on a named queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     time.Duration   `json:"backoff"`
	Progress    float64         `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	ParentID    string          `json:"parentId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	RunAt       time.Time       `json:"runAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// EnqueueOptions controls retries for a new job.
type EnqueueOptions struct {
	// Attempts is the total number of tries, at least 1.
	Attempts int
	// Backoff is the fixed delay before a failed job is tried again.
	Backoff time.Duration
	// Delay postpones the first try.
	Delay    time.Duration
	ParentID string
}

// FollowUp is a job enqueued atomically with the completion of its parent.
type FollowUp struct {
	Queue   string
	Payload []byte
	Options EnqueueOptions
}

// LogEntry is a line written by a job.
type LogEntry struct {
	JobID    string    `json:"jobId"`
	Message  string    `json:"message"`
	LoggedAt time.Time `json:"loggedAt"`
}

// QueueCount is the number of jobs in one queue and status.
type QueueCount struct {
	Queue  string `json:"queue"`
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails immediately
// whatever attempts remain.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
