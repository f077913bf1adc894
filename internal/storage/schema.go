package storage

import "time"

// timeLayout is fixed-width UTC so that lexicographic comparison of stored
// timestamps matches chronological order on both engines.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in the canonical stored form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Names of the fixed prepared-statement set. The sqlite backend compiles
// these eagerly at schema time; the duckdb backend prepares per call.
const (
	StmtInsertLog    = "insert_log"
	StmtRecentLogs   = "recent_logs"
	StmtLogsByLevel  = "logs_by_level"
	StmtLogsByRange  = "logs_by_range"
	StmtLogsBySource = "logs_by_source"
	StmtLevelCounts  = "level_counts"
	StmtLevelTrends  = "level_trends"
	StmtSourceStats  = "source_stats"
	StmtPurgeLogs    = "purge_logs"
	StmtDBInfo       = "db_info"
)

var namedStatements = map[string]string{
	StmtInsertLog: `INSERT INTO logs (timestamp, level, message, source, category, ip, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
	StmtRecentLogs: `SELECT id, timestamp, level, message, source, category, ip, metadata
		FROM logs ORDER BY timestamp DESC LIMIT ?`,
	StmtLogsByLevel: `SELECT id, timestamp, level, message, source, category, ip, metadata
		FROM logs WHERE level = ? ORDER BY timestamp DESC LIMIT ?`,
	StmtLogsByRange: `SELECT id, timestamp, level, message, source, category, ip, metadata
		FROM logs WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp`,
	StmtLogsBySource: `SELECT id, timestamp, level, message, source, category, ip, metadata
		FROM logs WHERE source = ? ORDER BY timestamp DESC LIMIT ?`,
	StmtLevelCounts: `SELECT level, COUNT(*) AS count FROM logs GROUP BY level`,
	StmtLevelTrends: `SELECT timestamp, level FROM logs WHERE timestamp >= ?`,
	StmtSourceStats: `SELECT source, COUNT(*) AS logs, COALESCE(SUM(LENGTH(message)), 0) AS bytes
		FROM logs GROUP BY source`,
	StmtPurgeLogs: `DELETE FROM logs WHERE timestamp < ?`,
	StmtDBInfo:    `SELECT COUNT(*) AS total_logs FROM logs`,
}

// logColumns is the column order used by batch inserts into the logs table.
var logColumns = []string{"timestamp", "level", "message", "source", "category", "ip", "metadata"}

// sharedSchema holds the DDL common to both engines. Each backend prepends
// its own id-generation mechanics for the logs table.
var sharedSchema = []string{
	`CREATE TABLE IF NOT EXISTS file_offsets (
		path TEXT PRIMARY KEY,
		byte_offset BIGINT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parse_errors (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		file TEXT NOT NULL,
		line BIGINT NOT NULL,
		snippet TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_level ON logs (level, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_source ON logs (source, timestamp)`,
}
