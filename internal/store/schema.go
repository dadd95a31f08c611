package store

import "database/sql"

// CurrentSchemaVersion is bumped whenever createSchema or runMigrations adds
// a column or table. Mirrors the teacher's migrations.go version constant.
const CurrentSchemaVersion = 1

var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		repository_path TEXT NOT NULL UNIQUE,
		server_type TEXT NOT NULL DEFAULT '',
		server_pid INTEGER,
		server_port INTEGER,
		host TEXT NOT NULL DEFAULT '',
		session_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		start_time DATETIME NOT NULL,
		last_heartbeat DATETIME NOT NULL,
		end_time DATETIME,
		metadata TEXT NOT NULL DEFAULT '{}',
		web_ui_enabled INTEGER NOT NULL DEFAULT 0,
		web_ui_port INTEGER,
		web_ui_host TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		agent_type TEXT NOT NULL DEFAULT '',
		repository_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'initializing',
		capabilities TEXT NOT NULL DEFAULT '[]',
		depends_on TEXT NOT NULL DEFAULT '[]',
		claude_pid INTEGER,
		convo_session_id TEXT,
		room_id TEXT,
		agent_metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		last_heartbeat DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_repo ON agents(repository_path)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,

	`CREATE TABLE IF NOT EXISTS objectives (
		id TEXT PRIMARY KEY,
		repository_path TEXT NOT NULL,
		objective_type TEXT NOT NULL,
		description TEXT NOT NULL,
		requirements TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 0,
		assigned_agent_id TEXT,
		parent_objective_id TEXT,
		results TEXT NOT NULL DEFAULT '{}',
		progress_percentage INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_objectives_repo ON objectives(repository_path)`,
	`CREATE INDEX IF NOT EXISTS idx_objectives_status ON objectives(status)`,
	`CREATE INDEX IF NOT EXISTS idx_objectives_parent ON objectives(parent_objective_id)`,
	`CREATE INDEX IF NOT EXISTS idx_objectives_agent ON objectives(assigned_agent_id)`,

	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		repository_path TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		objectives TEXT NOT NULL DEFAULT '',
		sections TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'draft',
		started_at DATETIME,
		completed_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_repo ON plans(repository_path)`,

	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		repository_path TEXT NOT NULL,
		room_metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		closed_at DATETIME,
		close_reason TEXT NOT NULL DEFAULT '',
		UNIQUE(repository_path, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rooms_repo ON rooms(repository_path)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		message TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'chat',
		timestamp DATETIME NOT NULL,
		seq INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq)`,

	`CREATE TABLE IF NOT EXISTS participants (
		room_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		PRIMARY KEY (room_id, agent_id)
	)`,

	`CREATE TABLE IF NOT EXISTS scrape_jobs (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		job_data TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 0,
		locked_by TEXT,
		locked_at DATETIME,
		lock_timeout_seconds INTEGER NOT NULL DEFAULT 300,
		pages_scraped INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME,
		completed_at DATETIME,
		error_message TEXT NOT NULL DEFAULT '',
		result_data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status_priority ON scrape_jobs(status, priority ASC)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_locked_by ON scrape_jobs(locked_by)`,

	`CREATE TABLE IF NOT EXISTS knowledge_entities (
		id TEXT PRIMARY KEY,
		repository_path TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_repo ON knowledge_entities(repository_path)`,
}

func (s *Store) createSchema() error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, stmt := range createTableStatements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
				return err
			}
		}
		return nil
	})
}
