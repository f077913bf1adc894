package domain

import "time"

// ParseError describes a line that matched no parser. The line is skipped,
// never turned into a fabricated LogRecord; the error is kept for operator
// review until acknowledged.
type ParseError struct {
	ID           string
	Source       string
	File         string
	Line         int64
	Snippet      string
	Reason       string
	CreatedAt    time.Time
	Acknowledged bool
}
