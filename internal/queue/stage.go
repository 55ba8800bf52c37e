package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/masahif/adtrail/internal/models"
)

// StageConfig describes the queue a stage consumes and where its output goes.
type StageConfig struct {
	Name string
	// Next is the queue fed with the stage's output batches. Empty for the
	// last stage.
	Next        string
	Attempts    int
	Backoff     time.Duration
	Concurrency int
}

// Stage is a registered queue worker. Build one with Define.
type Stage struct {
	StageConfig

	decode func(payload []byte) (any, error)
	run    func(ctx context.Context, jc *JobContext, in any) (result []byte, next [][]byte, err error)
}

// EnqueueOptions returns the retry policy for jobs on this stage's queue.
func (s Stage) EnqueueOptions() EnqueueOptions {
	return EnqueueOptions{Attempts: s.Attempts, Backoff: s.Backoff}
}

type validator interface {
	Validate() error
}

// Define builds a stage whose jobs carry an In payload. work produces Out,
// which is stored as the job result; split turns Out into the payloads
// enqueued on the next queue. split may be nil for the last stage.
func Define[In, Out, Next any](
	cfg StageConfig,
	work func(ctx context.Context, jc *JobContext, in In) (Out, error),
	split func(out Out) []Next,
) Stage {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return Stage{
		StageConfig: cfg,
		decode: func(payload []byte) (any, error) {
			return decodePayload[In](payload)
		},
		run: func(ctx context.Context, jc *JobContext, in any) ([]byte, [][]byte, error) {
			out, err := work(ctx, jc, in.(In))
			if err != nil {
				return nil, nil, err
			}

			result, err := json.Marshal(out)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode result: %w", err)
			}
			if split == nil {
				return result, nil, nil
			}

			batches := split(out)
			next := make([][]byte, 0, len(batches))
			for _, b := range batches {
				payload, err := json.Marshal(b)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to encode follow-up: %w", err)
				}
				next = append(next, payload)
			}
			return result, next, nil
		},
	}
}

// decodePayload unmarshals payload into T and runs its Validate method when
// T or *T has one. Every failure is a *models.ValidationError.
func decodePayload[T any](payload []byte) (T, error) {
	var in T
	if err := json.Unmarshal(payload, &in); err != nil {
		verr := &models.ValidationError{}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			verr.Add(typeErr.Field, "expected "+typeErr.Type.String())
		} else {
			verr.Add("payload", err.Error())
		}
		return in, verr
	}

	if val, ok := any(&in).(validator); ok {
		if err := val.Validate(); err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				return in, verr
			}
			wrapped := &models.ValidationError{}
			wrapped.Add("payload", err.Error())
			return in, wrapped
		}
	}
	return in, nil
}

// JobContext gives a running job access to its progress and log sink. It
// satisfies scraper.Reporter.
type JobContext struct {
	Job *Job

	// ctx outlives cancellation of the worker so that the last progress and
	// log lines still reach the broker.
	ctx    context.Context
	broker Broker
	logger *slog.Logger
}

func newJobContext(ctx context.Context, broker Broker, job *Job) *JobContext {
	return &JobContext{
		Job:    job,
		ctx:    context.WithoutCancel(ctx),
		broker: broker,
		logger: slog.With("queue", job.Queue, "job_id", job.ID),
	}
}

// Progress stores percent (0-100) on the job.
func (jc *JobContext) Progress(percent float64) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	jc.Job.Progress = percent
	if err := jc.broker.SetProgress(jc.ctx, jc.Job.ID, percent); err != nil {
		jc.logger.Warn("Failed to store job progress", "error", err)
	}
}

// Log appends msg to the job log and mirrors it to slog.
func (jc *JobContext) Log(msg string) {
	jc.logger.Info(msg)
	if err := jc.broker.AppendLog(jc.ctx, jc.Job.ID, msg); err != nil {
		jc.logger.Warn("Failed to store job log", "error", err)
	}
}

// Logger returns the job-scoped logger.
func (jc *JobContext) Logger() *slog.Logger {
	return jc.logger
}
