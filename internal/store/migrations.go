package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create runs and task results",
		SQL: `
			CREATE TABLE runs (
				id           TEXT PRIMARY KEY,
				model        TEXT NOT NULL,
				attempt      INTEGER NOT NULL,
				outcome      TEXT NOT NULL,
				error        TEXT NOT NULL DEFAULT '',
				started_at   TEXT NOT NULL,
				finished_at  TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_runs_started ON runs (started_at);

			CREATE TABLE run_tasks (
				run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				position     INTEGER NOT NULL,
				agent        TEXT NOT NULL,
				status       TEXT NOT NULL,
				output       TEXT NOT NULL DEFAULT '',
				error        TEXT NOT NULL DEFAULT '',
				duration_ms  INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (run_id, position)
			);
		`,
	},
	{
		Version: 2,
		Name:    "create group chat transcript",
		SQL: `
			CREATE TABLE run_messages (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				sender     TEXT NOT NULL,
				role       TEXT NOT NULL,
				content    TEXT NOT NULL,
				timestamp  TEXT NOT NULL
			);

			CREATE INDEX idx_run_messages_run ON run_messages (run_id, id);
		`,
	},
}
