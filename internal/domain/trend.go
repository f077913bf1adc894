package domain

import "time"

// TrendPoint is one (hour bucket, level, count) aggregate over the logs
// table. A trailing 24h window of these feeds the anomaly detector.
type TrendPoint struct {
	Hour  time.Time
	Level string
	Count int
}

// Anomaly severity levels, ordered from weakest to strongest signal.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Anomaly directions.
const (
	DirectionSpike = "spike"
	DirectionDrop  = "drop"
)

// AnomalySample is a flagged statistical outlier. Derived on demand from
// trend rows, never persisted.
type AnomalySample struct {
	Hour      time.Time
	Level     string
	Count     int
	Mean      float64
	StdDev    float64
	ZScore    float64
	Severity  string
	Direction string
}
