package queue

import (
	"context"
	"time"
)

// Broker is a durable store of named job queues.
type Broker interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) (string, error)
	// Claim marks the oldest due job of queue as processing and returns it,
	// or nil when none is due.
	Claim(ctx context.Context, queue string) (*Job, error)
	// Complete finishes a processing job and enqueues followUps in the same
	// transaction.
	Complete(ctx context.Context, id string, result []byte, followUps ...FollowUp) error
	// Fail records cause. Unless permanent or out of attempts the job is
	// queued again after its backoff, and requeued is true.
	Fail(ctx context.Context, id string, cause error, permanent bool) (requeued bool, err error)
	SetProgress(ctx context.Context, id string, percent float64) error
	AppendLog(ctx context.Context, id, message string) error
	Logs(ctx context.Context, id string) ([]LogEntry, error)
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, queue string, status Status, limit int) ([]Job, error)
	Counts(ctx context.Context) ([]QueueCount, error)
	// RequeueStale returns processing jobs started before now-timeout to the queue.
	RequeueStale(ctx context.Context, timeout time.Duration) (int64, error)
	// RetryFailed resets failed jobs of queue, or of every queue when empty.
	RetryFailed(ctx context.Context, queue string) (int64, error)
	// PurgeFinished deletes completed and failed jobs finished before t.
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
