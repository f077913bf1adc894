// Package storage unifies two interchangeable embedded database engines
// behind one query API with fallback selection, a fixed prepared-statement
// set, and all-or-nothing batch inserts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rejavarti/logging-server-sub008/internal/retry"
)

const (
	// EngineSQLite is the preferred engine.
	EngineSQLite = "sqlite"
	// EngineDuckDB is the fallback engine.
	EngineDuckDB = "duckdb"

	tracerName = "logging-server/storage"
)

// ErrClosed is returned for any operation issued after Close.
var ErrClosed = errors.New("storage: store is closed")

// Counters receives operational counter updates. The metrics aggregator
// implements it; a no-op is substituted when none is supplied.
type Counters interface {
	IncrementErrors()
	IncrementLockedInserts()
	IncrementRetriedInserts()
	IncrementFailedInserts()
	AddBatchedInserts(n int)
	IncrementBatchFlushes()
}

type nopCounters struct{}

func (nopCounters) IncrementErrors()         {}
func (nopCounters) IncrementLockedInserts()  {}
func (nopCounters) IncrementRetriedInserts() {}
func (nopCounters) IncrementFailedInserts()  {}
func (nopCounters) AddBatchedInserts(int)    {}
func (nopCounters) IncrementBatchFlushes()   {}

// Config holds store configuration.
type Config struct {
	// Path is the primary data file.
	Path string

	// Engine is the preferred engine, EngineSQLite by default.
	Engine string

	// Fallback enables trying the alternate engine when the preferred one
	// fails to initialize.
	Fallback bool

	// CacheKiB is the sqlite page-cache budget in KiB. Clamped to a sane
	// integer range before it reaches the pragma.
	CacheKiB int

	// MemoryLimitMiB caps duckdb memory use.
	MemoryLimitMiB int

	// Retry bounds retries of lock-conflicted batch inserts.
	Retry retry.Config
}

// Row is one generic result row keyed by column name.
type Row map[string]any

// ExecInfo reports the outcome of a mutating statement.
type ExecInfo struct {
	LastID  int64
	Changes int64
}

// Health is the result of a health probe. HealthCheck never fails; probe
// errors are captured here instead.
type Health struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a point-in-time view of store activity.
type Stats struct {
	Backend     string
	Path        string
	Queries     uint64
	QueryErrors uint64
}

// Store is the storage backend selector. It owns exactly one active backend
// chosen at construction and is safe for concurrent use.
type Store struct {
	backend  Backend
	cfg      Config
	counters Counters
	tracer   trace.Tracer
	retryCfg retry.Config

	closed      atomic.Bool
	queries     atomic.Uint64
	queryErrors atomic.Uint64
}

// Open initializes the preferred engine, falling back to the alternate one
// when enabled. An error here is fatal to the host process: no backend, no
// service.
func Open(ctx context.Context, cfg Config, counters Counters) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: data file path is required")
	}
	if cfg.Engine == "" {
		cfg.Engine = EngineSQLite
	}
	// An unknown engine name is a caller bug, never a reason to fall back.
	if cfg.Engine != EngineSQLite && cfg.Engine != EngineDuckDB {
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if counters == nil {
		counters = nopCounters{}
	}

	backend, err := openEngine(ctx, cfg.Engine, cfg)
	if err != nil {
		if !cfg.Fallback {
			return nil, fmt.Errorf("storage: %s initialization failed (fallback disabled): %w", cfg.Engine, err)
		}

		alternate := EngineDuckDB
		if cfg.Engine == EngineDuckDB {
			alternate = EngineSQLite
		}
		log.Warn().
			Err(err).
			Str("preferred", cfg.Engine).
			Str("fallback", alternate).
			Msg("Preferred storage engine failed, trying fallback")

		fallbackBackend, fbErr := openEngine(ctx, alternate, cfg)
		if fbErr != nil {
			return nil, fmt.Errorf("storage: both engines failed: %s: %w; %s: %s",
				cfg.Engine, err, alternate, fbErr)
		}
		backend = fallbackBackend
	}

	s := &Store{
		backend:  backend,
		cfg:      cfg,
		counters: counters,
		tracer:   otel.Tracer(tracerName),
		retryCfg: cfg.Retry,
	}

	if err := backend.EnsureSchema(ctx); err != nil {
		_ = backend.Close(ctx)
		return nil, fmt.Errorf("storage: schema setup failed on %s: %w", backend.Name(), err)
	}

	log.Info().
		Str("backend", backend.Name()).
		Str("path", cfg.Path).
		Msg("Storage backend initialized")

	return s, nil
}

func openEngine(ctx context.Context, engine string, cfg Config) (Backend, error) {
	switch engine {
	case EngineSQLite:
		return openSQLite(ctx, cfg)
	case EngineDuckDB:
		return openDuckDB(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}

// Backend returns the active engine name.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// All executes an ad hoc SELECT and returns every row.
func (s *Store) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.queries.Add(1)

	rows, err := s.backend.Query(ctx, query, args...)
	if err != nil {
		return nil, s.queryFailed(err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, s.queryFailed(err)
	}
	return out, nil
}

// Get executes an ad hoc SELECT and returns the first row, or nil when the
// result set is empty.
func (s *Store) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := s.All(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Run executes an ad hoc mutating statement.
func (s *Store) Run(ctx context.Context, query string, args ...any) (ExecInfo, error) {
	if s.closed.Load() {
		return ExecInfo{}, ErrClosed
	}
	s.queries.Add(1)

	res, err := s.backend.Exec(ctx, query, args...)
	if err != nil {
		return ExecInfo{}, s.queryFailed(err)
	}
	return execInfo(res), nil
}

// AllNamed executes one of the fixed named statements and returns every row.
func (s *Store) AllNamed(ctx context.Context, name string, args ...any) ([]Row, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.queries.Add(1)

	rows, err := s.backend.NamedQuery(ctx, name, args...)
	if err != nil {
		return nil, s.queryFailed(err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, s.queryFailed(err)
	}
	return out, nil
}

// GetNamed executes a named statement and returns the first row, or nil.
func (s *Store) GetNamed(ctx context.Context, name string, args ...any) (Row, error) {
	rows, err := s.AllNamed(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// RunNamed executes a mutating named statement.
func (s *Store) RunNamed(ctx context.Context, name string, args ...any) (ExecInfo, error) {
	if s.closed.Load() {
		return ExecInfo{}, ErrClosed
	}
	s.queries.Add(1)

	res, err := s.backend.NamedExec(ctx, name, args...)
	if err != nil {
		return ExecInfo{}, s.queryFailed(err)
	}
	return execInfo(res), nil
}

// HealthCheck probes the active backend directly. It never returns an
// error; failures are reported through the Health value. The probe bypasses
// the counting query path so routine monitoring never inflates the query or
// error counters.
func (s *Store) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:    "healthy",
		Database:  s.backend.Name(),
		Timestamp: time.Now().UTC(),
	}

	if s.closed.Load() {
		h.Status = "unhealthy"
		h.Error = ErrClosed.Error()
		return h
	}

	if err := s.backend.Ping(ctx); err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
	}
	return h
}

// Stats returns cumulative query counters and backend identity.
func (s *Store) Stats() Stats {
	return Stats{
		Backend:     s.backend.Name(),
		Path:        s.cfg.Path,
		Queries:     s.queries.Load(),
		QueryErrors: s.queryErrors.Load(),
	}
}

// Info returns database metadata (row count, backend, data file).
func (s *Store) Info(ctx context.Context) (Row, error) {
	row, err := s.GetNamed(ctx, StmtDBInfo)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = Row{}
	}
	row["backend"] = s.backend.Name()
	row["path"] = s.cfg.Path
	return row, nil
}

// Close runs best-effort engine maintenance and disconnects. Operations
// issued afterwards fail fast with ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	log.Info().Str("backend", s.backend.Name()).Msg("Closing storage backend")
	return s.backend.Close(ctx)
}

// queryFailed counts a single-statement failure and hands it back to the
// caller unchanged. No implicit retry: idempotent retry is the caller's
// responsibility.
func (s *Store) queryFailed(err error) error {
	s.queryErrors.Add(1)
	s.counters.IncrementErrors()
	return err
}

func execInfo(res interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}) ExecInfo {
	var info ExecInfo
	// duckdb's driver does not report last-insert ids; leave zero there.
	if id, err := res.LastInsertId(); err == nil {
		info.LastID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		info.Changes = n
	}
	return info
}
