package migrations

// Retention keeps readings for 30 days and statistics for 90 days
var Retention = &Migration{
	ID:   "002_retention",
	Name: "002_retention",
	UpSQL: `
	CREATE OR REPLACE FUNCTION apply_retention() RETURNS BIGINT AS $$
	DECLARE
		readings BIGINT;
		stats BIGINT;
	BEGIN
		DELETE FROM telemetry_readings WHERE time < NOW() - INTERVAL '30 days';
		GET DIAGNOSTICS readings = ROW_COUNT;
		DELETE FROM pipeline_stats WHERE time < NOW() - INTERVAL '90 days';
		GET DIAGNOSTICS stats = ROW_COUNT;
		RETURN readings + stats;
	END;
	$$ LANGUAGE plpgsql;

	CREATE OR REPLACE VIEW pipeline_stats_daily AS
	SELECT
		date_trunc('day', time) AS day,
		MAX(payloads) AS payloads,
		MAX(decoded) AS decoded,
		MAX(malformed) AS malformed,
		MAX(archived) AS archived,
		MAX(alerts) AS alerts
	FROM pipeline_stats
	GROUP BY day;
	`,
	DownSQL: `
	DROP VIEW IF EXISTS pipeline_stats_daily;
	DROP FUNCTION IF EXISTS apply_retention();
	`,
}
