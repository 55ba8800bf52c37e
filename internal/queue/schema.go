package queue

const schemaSQL = `
-- Jobs for every named queue. status drives the lifecycle:
-- queued -> processing -> completed | failed, with failed attempts
-- going back to queued until max_attempts is reached.
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY NOT NULL,
    queue TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued', 'processing', 'completed', 'failed')),
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 1,
    backoff_ms INTEGER NOT NULL DEFAULT 0,
    progress REAL NOT NULL DEFAULT 0,
    result TEXT,
    last_error TEXT,
    parent_id TEXT,
    created_at TEXT NOT NULL,
    run_at TEXT NOT NULL,
    started_at TEXT,
    heartbeat_at TEXT, -- refreshed by progress and log writes while processing
    finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(queue, status, run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_id) WHERE parent_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS job_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    message TEXT NOT NULL,
    logged_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id);
`
