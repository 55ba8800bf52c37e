package config

import "errors"

var (
	// ErrInvalidBaseURL is returned when base_url is not an absolute URL
	ErrInvalidBaseURL = errors.New("base_url must be an absolute URL")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrUnknownStoreDriver is returned for a store driver other than sqlite or mongo
	ErrUnknownStoreDriver = errors.New("store.driver must be sqlite or mongo")
	// ErrEmptyStorePath is returned when the sqlite store has no path
	ErrEmptyStorePath = errors.New("store.path cannot be empty")
	// ErrEmptyMongoURI is returned when the mongo store has no connection string
	ErrEmptyMongoURI = errors.New("store.mongo_uri cannot be empty")
	// ErrInvalidTimeout is returned when browser timeout is not greater than 0
	ErrInvalidTimeout = errors.New("browser.timeout must be greater than 0")
	// ErrInvalidAttempts is returned when a stage allows fewer than one attempt
	ErrInvalidAttempts = errors.New("pipeline attempts must be at least 1")
	// ErrInvalidConcurrency is returned when a stage has no workers
	ErrInvalidConcurrency = errors.New("pipeline concurrency must be greater than 0")
	// ErrInvalidBackoff is returned for a negative backoff
	ErrInvalidBackoff = errors.New("pipeline backoff cannot be negative")
	// ErrInvalidBatchSize is returned when a batch size is not greater than 0
	ErrInvalidBatchSize = errors.New("pipeline batch sizes must be greater than 0")
	// ErrInvalidDetailDelay is returned when the detail delay range is empty or negative
	ErrInvalidDetailDelay = errors.New("pipeline detail delay range is invalid")
)
