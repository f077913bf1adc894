package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rejavarti/logging-server-sub008/internal/domain"
)

// InsertLogs persists parsed records as one atomic batch.
func (s *Store) InsertLogs(ctx context.Context, records []domain.LogRecord) (BatchResult, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		metadata := "{}"
		if len(r.Metadata) > 0 {
			raw, err := json.Marshal(r.Metadata)
			if err != nil {
				return BatchResult{}, fmt.Errorf("encode metadata: %w", err)
			}
			metadata = string(raw)
		}
		rows[i] = []any{
			FormatTime(r.Timestamp),
			r.Level,
			r.Message,
			r.Source,
			r.Category,
			r.IP,
			metadata,
		}
	}
	return s.BatchInsert(ctx, "logs", logColumns, rows)
}

// RecentLogs returns the newest limit rows.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]Row, error) {
	return s.AllNamed(ctx, StmtRecentLogs, limit)
}

// LogsByLevel returns the newest limit rows for one level.
func (s *Store) LogsByLevel(ctx context.Context, level string, limit int) ([]Row, error) {
	return s.AllNamed(ctx, StmtLogsByLevel, level, limit)
}

// LogsByRange returns rows between from and to, oldest first.
func (s *Store) LogsByRange(ctx context.Context, from, to time.Time) ([]Row, error) {
	return s.AllNamed(ctx, StmtLogsByRange, FormatTime(from), FormatTime(to))
}

// LogsBySource returns the newest limit rows for one source.
func (s *Store) LogsBySource(ctx context.Context, source string, limit int) ([]Row, error) {
	return s.AllNamed(ctx, StmtLogsBySource, source, limit)
}

// LevelCounts aggregates row counts per level.
func (s *Store) LevelCounts(ctx context.Context) ([]Row, error) {
	return s.AllNamed(ctx, StmtLevelCounts)
}

// SourceStats aggregates per-source log and byte volume.
func (s *Store) SourceStats(ctx context.Context) ([]Row, error) {
	return s.AllNamed(ctx, StmtSourceStats)
}

// PurgeOlderThan deletes rows older than age and returns the removed count.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := FormatTime(time.Now().Add(-age))
	info, err := s.RunNamed(ctx, StmtPurgeLogs, cutoff)
	if err != nil {
		return 0, err
	}
	return info.Changes, nil
}

// LevelTrends returns (hour bucket, level, count) aggregates over the
// trailing window, sorted by hour then level. Bucketing happens here rather
// than in SQL so the statement stays portable across both engines.
func (s *Store) LevelTrends(ctx context.Context, window time.Duration) ([]domain.TrendPoint, error) {
	since := FormatTime(time.Now().Add(-window))
	rows, err := s.AllNamed(ctx, StmtLevelTrends, since)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		hour  time.Time
		level string
	}
	counts := make(map[bucket]int)
	for _, row := range rows {
		rawTS, _ := row["timestamp"].(string)
		level, _ := row["level"].(string)
		ts, err := ParseTime(rawTS)
		if err != nil {
			continue
		}
		counts[bucket{hour: ts.Truncate(time.Hour), level: level}]++
	}

	points := make([]domain.TrendPoint, 0, len(counts))
	for b, n := range counts {
		points = append(points, domain.TrendPoint{Hour: b.hour, Level: b.level, Count: n})
	}
	sort.Slice(points, func(i, j int) bool {
		if !points[i].Hour.Equal(points[j].Hour) {
			return points[i].Hour.Before(points[j].Hour)
		}
		return points[i].Level < points[j].Level
	})
	return points, nil
}
