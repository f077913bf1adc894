package domain

import "time"

// LogRecord represents a single ingested log line after a successful parse.
// Records are immutable once persisted; rows only leave the logs table
// through retention purges.
type LogRecord struct {
	Timestamp time.Time
	Level     string
	Message   string
	Source    string
	Category  string
	IP        string

	// Metadata carries parser-specific fields that have no dedicated column.
	// Persisted as a JSON object.
	Metadata map[string]string
}
