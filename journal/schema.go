package journal

const Schema = `
CREATE TABLE IF NOT EXISTS policy_models (
	product_id INTEGER NOT NULL,
	algorithm TEXT NOT NULL,
	path TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (product_id, algorithm)
);

CREATE TABLE IF NOT EXISTS training_sessions (
	id TEXT PRIMARY KEY,
	product_id INTEGER NOT NULL,
	algorithm TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	status TEXT NOT NULL,
	successful INTEGER NOT NULL DEFAULT 0,
	timesteps INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	log TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_training_sessions_model ON training_sessions(product_id, algorithm, started_at);
`
