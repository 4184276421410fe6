package sqlite

const schemaSQL = `
-- State dictionary
-- The name column is the wire identity of a state and must never change
-- once a database has been initialised.
CREATE TABLE IF NOT EXISTS state (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL
);

-- One row per unit of work against an archive path
CREATE TABLE IF NOT EXISTS workinstance (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	input_path TEXT NOT NULL,
	work_type TEXT NOT NULL,
	state_id INTEGER NOT NULL REFERENCES state(id),
	created INTEGER NOT NULL,
	last_updated INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workinstance_input ON workinstance(input_path, work_type);
CREATE INDEX IF NOT EXISTS idx_workinstance_state ON workinstance(state_id);

-- Sequencing run identities attached to a job by the broker. Rows share
-- their parent's lifetime; jobs are normally retained forever, but a hard
-- delete takes the metadata with it.
CREATE TABLE IF NOT EXISTS ontmeta (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workinstance_id INTEGER NOT NULL REFERENCES workinstance(id) ON DELETE CASCADE,
	experiment_name TEXT NOT NULL,
	instrument_slot INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ontmeta_instance ON ontmeta(workinstance_id);
`
