package sql

// schema 各数据库的建表语句，可重复执行
var schema = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS tickets (
			id                TEXT PRIMARY KEY,
			title             TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			requester_email   TEXT NOT NULL DEFAULT '',
			source_message_id TEXT UNIQUE,
			status            TEXT NOT NULL,
			priority          TEXT NOT NULL,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,
			completed_at      DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id                 TEXT PRIMARY KEY,
			started_at         DATETIME NOT NULL,
			completed_at       DATETIME,
			status             TEXT NOT NULL,
			messages_processed INTEGER NOT NULL DEFAULT 0,
			tickets_created    INTEGER NOT NULL DEFAULT 0,
			error_message      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS tickets (
			id                VARCHAR(36) PRIMARY KEY,
			title             VARCHAR(500) NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			requester_email   VARCHAR(320) NOT NULL DEFAULT '',
			source_message_id VARCHAR(512) UNIQUE,
			status            VARCHAR(20) NOT NULL,
			priority          VARCHAR(20) NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			completed_at      TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id                 VARCHAR(36) PRIMARY KEY,
			started_at         TIMESTAMPTZ NOT NULL,
			completed_at       TIMESTAMPTZ,
			status             VARCHAR(20) NOT NULL,
			messages_processed INTEGER NOT NULL DEFAULT 0,
			tickets_created    INTEGER NOT NULL DEFAULT 0,
			error_message      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at)`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS tickets (
			id                VARCHAR(36) PRIMARY KEY,
			title             VARCHAR(500) NOT NULL,
			description       TEXT NOT NULL,
			requester_email   VARCHAR(320) NOT NULL DEFAULT '',
			source_message_id VARCHAR(512) NULL,
			status            VARCHAR(20) NOT NULL,
			priority          VARCHAR(20) NOT NULL,
			created_at        DATETIME(6) NOT NULL,
			updated_at        DATETIME(6) NOT NULL,
			completed_at      DATETIME(6) NULL,
			UNIQUE KEY uk_tickets_source (source_message_id),
			KEY idx_tickets_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id                 VARCHAR(36) PRIMARY KEY,
			started_at         DATETIME(6) NOT NULL,
			completed_at       DATETIME(6) NULL,
			status             VARCHAR(20) NOT NULL,
			messages_processed INT NOT NULL DEFAULT 0,
			tickets_created    INT NOT NULL DEFAULT 0,
			error_message      TEXT NULL,
			KEY idx_sync_runs_started (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}
