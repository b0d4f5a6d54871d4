package migrations

// InitialSchema creates the archive tables
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS telemetry_readings (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			rssi INTEGER,
			battery SMALLINT CHECK (battery BETWEEN 0 AND 100)
		);

		CREATE INDEX IF NOT EXISTS idx_telemetry_readings_time ON telemetry_readings (time DESC);
		CREATE INDEX IF NOT EXISTS idx_telemetry_readings_session ON telemetry_readings (session_id);

		CREATE TABLE IF NOT EXISTS pipeline_stats (
			time TIMESTAMPTZ NOT NULL,
			payloads BIGINT NOT NULL,
			decoded BIGINT NOT NULL,
			malformed BIGINT NOT NULL,
			acks BIGINT NOT NULL,
			history_appends BIGINT NOT NULL,
			archived BIGINT NOT NULL,
			archive_failures BIGINT NOT NULL,
			alerts BIGINT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pipeline_stats_time ON pipeline_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS pipeline_stats;
		DROP TABLE IF EXISTS telemetry_readings;
	`,
}
