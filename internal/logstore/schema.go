package logstore

const schema = `
CREATE TABLE IF NOT EXISTS logentry (
	uid       INTEGER PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	severity  INTEGER NOT NULL,
	message   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metric (
	name      TEXT NOT NULL UNIQUE,
	value     INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS resource (
	timestamp    INTEGER NOT NULL,
	cpu_percent  REAL NOT NULL,
	rss_bytes    INTEGER NOT NULL
);
`
