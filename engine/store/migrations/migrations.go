package migrations

// MigrationSet provides a set of migrations that can be applied to a database.
type MigrationSet []MigrationData

// MigrationData provides the data for a single migration, including Up and Down SQL.
// Templated values (dialect-specific column types) are substituted before the migration
// is applied; see DialectTemplate.
type MigrationData struct {
	SequenceNumber int64
	Name           string
	UpSQL          string
	DownSQL        string
}

// EngineMigrations is the set of migrations that create the workflow engine's schema
// (spec §6: workflows, jobs, job_tasks, task_events, task_artifacts, nodes).
var EngineMigrations = MigrationSet{
	{
		SequenceNumber: 1,
		Name:           "create_workflows",
		UpSQL: `CREATE TABLE IF NOT EXISTS workflows
				(
					id text NOT NULL PRIMARY KEY,
					name text NOT NULL,
					version integer NOT NULL,
					steps {{.JSONType}} NOT NULL,
					is_active boolean NOT NULL,
					created_at {{.TimestampType}} NOT NULL,
					updated_at {{.TimestampType}} NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS workflows_name_version_index ON workflows(name, version);`,
		DownSQL: `DROP TABLE workflows;`,
	},
	{
		SequenceNumber: 2,
		Name:           "create_jobs",
		UpSQL: `CREATE TABLE IF NOT EXISTS jobs
				(
					id text NOT NULL PRIMARY KEY,
					workflow_id text NOT NULL,
					status text NOT NULL,
					order_seq bigint NOT NULL,
					priority integer NOT NULL,
					options {{.JSONType}} NOT NULL,
					scheduled_at {{.TimestampType}},
					progress double precision NOT NULL DEFAULT 0,
					current_task_key text NOT NULL DEFAULT '',
					error_code text NOT NULL DEFAULT '',
					error_message text NOT NULL DEFAULT '',
					created_at {{.TimestampType}} NOT NULL,
					updated_at {{.TimestampType}} NOT NULL,
					etag text NOT NULL
				);
				CREATE INDEX IF NOT EXISTS jobs_status_order_seq_index ON jobs(status, order_seq);`,
		DownSQL: `DROP TABLE jobs;`,
	},
	{
		SequenceNumber: 3,
		Name:           "create_job_tasks",
		UpSQL: `CREATE TABLE IF NOT EXISTS job_tasks
				(
					id text NOT NULL PRIMARY KEY,
					job_id text NOT NULL,
					task_key text NOT NULL,
					service_name text NOT NULL,
					status text NOT NULL,
					depends_on {{.JSONType}} NOT NULL,
					attempt integer NOT NULL DEFAULT 0,
					max_attempts integer NOT NULL DEFAULT 3,
					next_attempt_at {{.TimestampType}},
					priority integer NOT NULL DEFAULT 0,
					progress double precision NOT NULL DEFAULT 0,
					params {{.JSONType}} NOT NULL,
					results {{.JSONType}} NOT NULL,
					assigned_node text NOT NULL DEFAULT '',
					claimed_by text NOT NULL DEFAULT '',
					claimed_at {{.TimestampType}},
					started_at {{.TimestampType}},
					finished_at {{.TimestampType}},
					created_at {{.TimestampType}} NOT NULL,
					updated_at {{.TimestampType}} NOT NULL,
					etag text NOT NULL
				);
				CREATE UNIQUE INDEX IF NOT EXISTS job_tasks_job_id_task_key_index ON job_tasks(job_id, task_key);
				CREATE INDEX IF NOT EXISTS job_tasks_dispatch_index ON job_tasks(service_name, status, next_attempt_at);
				CREATE INDEX IF NOT EXISTS job_tasks_job_id_index ON job_tasks(job_id);`,
		DownSQL: `DROP TABLE job_tasks;`,
	},
	{
		SequenceNumber: 4,
		Name:           "create_task_events",
		UpSQL: `CREATE TABLE IF NOT EXISTS task_events
				(
					id {{.IntegerPrimaryKey}},
					job_id text NOT NULL,
					job_task_id text,
					ts {{.TimestampType}} NOT NULL,
					source text NOT NULL,
					level text NOT NULL,
					type text NOT NULL,
					message text NOT NULL DEFAULT '',
					data {{.JSONType}} NOT NULL
				);
				CREATE INDEX IF NOT EXISTS task_events_job_id_index ON task_events(job_id);
				CREATE INDEX IF NOT EXISTS task_events_job_task_id_index ON task_events(job_task_id);`,
		DownSQL: `DROP TABLE task_events;`,
	},
	{
		SequenceNumber: 5,
		Name:           "create_task_artifacts",
		UpSQL: `CREATE TABLE IF NOT EXISTS task_artifacts
				(
					id text NOT NULL PRIMARY KEY,
					job_id text NOT NULL,
					job_task_id text,
					kind text NOT NULL,
					bucket text NOT NULL,
					key text NOT NULL,
					size_bytes bigint,
					content_type text NOT NULL DEFAULT '',
					checksum text NOT NULL DEFAULT '',
					created_at {{.TimestampType}} NOT NULL
				);
				CREATE INDEX IF NOT EXISTS task_artifacts_job_id_index ON task_artifacts(job_id);
				CREATE INDEX IF NOT EXISTS task_artifacts_job_task_id_index ON task_artifacts(job_task_id);`,
		DownSQL: `DROP TABLE task_artifacts;`,
	},
	{
		SequenceNumber: 6,
		Name:           "create_nodes",
		UpSQL: `CREATE TABLE IF NOT EXISTS nodes
				(
					name text NOT NULL PRIMARY KEY,
					labels {{.JSONType}} NOT NULL,
					last_seen {{.TimestampType}} NOT NULL,
					awake_state text NOT NULL,
					wake_method text NOT NULL DEFAULT '',
					mac text NOT NULL DEFAULT '',
					provider_ref text NOT NULL DEFAULT '',
					script text NOT NULL DEFAULT '',
					max_concurrency {{.JSONType}} NOT NULL
				);`,
		DownSQL: `DROP TABLE nodes;`,
	},
}
