package store

// Schema is portable between sqlite3 and postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS log (
	stream TEXT NOT NULL,
	seq INTEGER NOT NULL,
	value TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (stream, seq)
);
`
