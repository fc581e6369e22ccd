package store

const schema = `
CREATE TABLE IF NOT EXISTS work_items (
    id TEXT PRIMARY KEY,
    change_dir TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    risk TEXT NOT NULL DEFAULT 'medium',
    priority INTEGER DEFAULT 0,
    deps TEXT DEFAULT '[]',
    overrides TEXT DEFAULT '{}',
    retry_count INTEGER DEFAULT 0,
    max_retries INTEGER DEFAULT 3,
    max_duration_sec INTEGER DEFAULT 0,
    compiled_brief TEXT DEFAULT '',
    error_message TEXT DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT NOT NULL,
    work_item_id TEXT NOT NULL REFERENCES work_items(id),
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    files_changed TEXT DEFAULT '[]',
    commit_hash TEXT DEFAULT '',
    execution_output TEXT DEFAULT '',
    turns_used INTEGER DEFAULT 0,
    tokens_in INTEGER DEFAULT 0,
    tokens_out INTEGER DEFAULT 0,
    duration_sec REAL DEFAULT 0.0,
    accepted_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (work_item_id, id)
);

CREATE TABLE IF NOT EXISTS verification_attempts (
    work_item_id TEXT NOT NULL REFERENCES work_items(id),
    attempt INTEGER NOT NULL,
    risk TEXT NOT NULL,
    strategy TEXT NOT NULL,
    disposition TEXT NOT NULL,
    decided_at TEXT NOT NULL,
    PRIMARY KEY (work_item_id, attempt)
);

CREATE TABLE IF NOT EXISTS vote_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    work_item_id TEXT NOT NULL REFERENCES work_items(id),
    attempt INTEGER NOT NULL,
    voter TEXT NOT NULL,
    verdict TEXT NOT NULL,
    confidence REAL,
    findings TEXT DEFAULT '[]',
    summary TEXT,
    cast_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    work_item_id TEXT NOT NULL,
    event TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status);
CREATE INDEX IF NOT EXISTS idx_tasks_work_item ON tasks(work_item_id);
CREATE INDEX IF NOT EXISTS idx_attempts_work_item ON verification_attempts(work_item_id);
CREATE INDEX IF NOT EXISTS idx_votes_work_item ON vote_results(work_item_id, attempt);
CREATE INDEX IF NOT EXISTS idx_run_log_work_item ON run_log(work_item_id);
`
