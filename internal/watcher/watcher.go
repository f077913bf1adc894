// Package watcher tails watched files, parses appended lines and persists
// them in batches, durably tracking per-file read offsets so ingestion
// resumes after a crash without losing confirmed data (at-least-once).
package watcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rejavarti/logging-server-sub008/internal/domain"
	"github.com/rejavarti/logging-server-sub008/internal/metrics"
	"github.com/rejavarti/logging-server-sub008/internal/offset"
	"github.com/rejavarti/logging-server-sub008/internal/storage"
)

// Watcher modes.
const (
	ModeAuto   = "auto"   // tail loops run continuously
	ModeManual = "manual" // ingestion happens only via ProcessOnce
)

const (
	defaultBatchSize      = 100
	defaultFlushInterval  = 2 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultRescanInterval = 10 * time.Second
	defaultBufferLimit    = 5000

	snippetLimit = 200
)

// LogSink receives confirmed batches. *storage.Store implements it.
type LogSink interface {
	InsertLogs(ctx context.Context, records []domain.LogRecord) (storage.BatchResult, error)
}

// ErrorSink receives parse-error notifications. *notify.Recorder implements
// it.
type ErrorSink interface {
	Record(ctx context.Context, pe domain.ParseError) error
}

// Config holds watcher configuration.
type Config struct {
	Dir            string
	Pattern        string // file-name glob, e.g. "*.log"
	Enabled        bool
	Mode           string // ModeAuto or ModeManual
	TailOnlyNew    bool   // skip pre-existing content of newly seen files
	BatchSize      int
	FlushInterval  time.Duration
	PollInterval   time.Duration
	RescanInterval time.Duration

	// BufferLimit bounds parsed-but-unflushed records per file; reads from
	// a file pause once its buffer is full until a flush frees space.
	BufferLimit int
}

type ingestVolume struct {
	logs  uint64
	bytes uint64
}

// cursor tracks one watched file. Each cursor is owned by a single tail
// goroutine; offset advancement is strictly sequential per file.
type cursor struct {
	path   string
	source string

	readOffset    int64 // bytes consumed by the parser (complete lines only)
	flushedOffset int64 // bytes covered by a confirmed flush
	lineNo        int64

	pending       []domain.LogRecord
	pendingVolume map[string]*ingestVolume
	lastFlush     time.Time
}

// Watcher tails every file matching the configured pattern.
type Watcher struct {
	cfg      Config
	sink     LogSink
	offsets  offset.Store
	notifier ErrorSink
	metrics  *metrics.Aggregator
	parser   *Parser

	mu      sync.Mutex
	cursors map[string]*cursor

	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// New creates a watcher. Defaults are filled for zero-valued tuning knobs.
func New(cfg Config, sink LogSink, offsets offset.Store, notifier ErrorSink, agg *metrics.Aggregator, parser *Parser) *Watcher {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.log"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = defaultRescanInterval
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = defaultBufferLimit
	}

	return &Watcher{
		cfg:      cfg,
		sink:     sink,
		offsets:  offsets,
		notifier: notifier,
		metrics:  agg,
		parser:   parser,
		cursors:  make(map[string]*cursor),
	}
}

// Initialize discovers matching files and, in auto mode, starts one tail
// loop per file plus a rescan loop that adopts newly created files. Returns
// false when the watcher is disabled or discovery fails.
func (w *Watcher) Initialize(ctx context.Context) bool {
	if !w.cfg.Enabled {
		log.Info().Msg("File watcher disabled")
		return false
	}

	fresh, err := w.discover(ctx)
	if err != nil {
		log.Error().Err(err).Str("dir", w.cfg.Dir).Msg("File discovery failed")
		return false
	}

	log.Info().
		Str("dir", w.cfg.Dir).
		Str("pattern", w.cfg.Pattern).
		Str("mode", w.cfg.Mode).
		Int("files", len(fresh)).
		Msg("File watcher initialized")

	if w.cfg.Mode != ModeAuto {
		return true
	}

	loopCtx, cancel := context.WithCancel(ctx)
	group, loopCtx := errgroup.WithContext(loopCtx)
	w.cancel = cancel
	w.group = group
	w.started = true

	for _, cur := range fresh {
		w.startTail(loopCtx, cur)
	}
	group.Go(func() error {
		w.rescanLoop(loopCtx)
		return nil
	})

	return true
}

// ProcessOnce performs a single discovery-read-flush pass over every
// watched file. Intended for manual mode; in auto mode the tail loops own
// the cursors.
func (w *Watcher) ProcessOnce(ctx context.Context) error {
	if w.started {
		return fmt.Errorf("watcher runs in auto mode; manual pass not available")
	}

	if _, err := w.discover(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	cursors := make([]*cursor, 0, len(w.cursors))
	for _, cur := range w.cursors {
		cursors = append(cursors, cur)
	}
	w.mu.Unlock()

	for _, cur := range cursors {
		if err := w.poll(ctx, cur); err != nil {
			log.Warn().Err(err).Str("file", cur.path).Msg("Manual pass failed for file")
		}
		if err := w.flush(ctx, cur); err != nil {
			log.Warn().Err(err).Str("file", cur.path).Msg("Manual flush failed")
		}
	}
	return nil
}

// Stop cancels the tail loops and flushes remaining buffers best-effort.
// Anything left unflushed is redelivered from the persisted offsets on the
// next startup.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		_ = w.group.Wait()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.mu.Lock()
	cursors := make([]*cursor, 0, len(w.cursors))
	for _, cur := range w.cursors {
		cursors = append(cursors, cur)
	}
	w.mu.Unlock()

	for _, cur := range cursors {
		if err := w.flush(ctx, cur); err != nil {
			log.Warn().Err(err).Str("file", cur.path).Msg("Final flush failed, batch will be redelivered")
		}
	}

	log.Info().Msg("File watcher stopped")
}

// discover globs the watched directory and creates cursors for files not
// seen before. Returns the newly created cursors.
func (w *Watcher) discover(ctx context.Context) ([]*cursor, error) {
	matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, w.cfg.Pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", w.cfg.Pattern, err)
	}

	var fresh []*cursor
	for _, path := range matches {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		w.mu.Lock()
		_, known := w.cursors[abs]
		w.mu.Unlock()
		if known {
			continue
		}

		cur, err := w.newCursor(ctx, abs)
		if err != nil {
			log.Warn().Err(err).Str("file", abs).Msg("Skipping file")
			continue
		}

		w.mu.Lock()
		w.cursors[abs] = cur
		w.mu.Unlock()
		fresh = append(fresh, cur)
	}
	return fresh, nil
}

func (w *Watcher) newCursor(ctx context.Context, path string) (*cursor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	stored, found, err := w.offsets.Get(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Offset lookup failed, starting from beginning")
		stored, found = 0, false
	}

	start := int64(stored)
	switch {
	case start > info.Size():
		// Truncated or rotated since the checkpoint: re-read from the start,
		// accepting re-ingestion over silent data loss.
		log.Info().
			Str("file", path).
			Int64("stored_offset", start).
			Int64("file_size", info.Size()).
			Msg("File smaller than stored offset, re-reading from start")
		start = 0
	case !found && w.cfg.TailOnlyNew:
		start = info.Size()
	case start > 0:
		log.Info().
			Str("file", path).
			Int64("offset", start).
			Msg("Resumed from saved offset")
	}

	return &cursor{
		path:          path,
		source:        sourceLabel(path),
		readOffset:    start,
		flushedOffset: start,
		pendingVolume: make(map[string]*ingestVolume),
		lastFlush:     time.Now(),
	}, nil
}

func (w *Watcher) startTail(ctx context.Context, cur *cursor) {
	w.group.Go(func() error {
		w.tailLoop(ctx, cur)
		return nil
	})
}

func (w *Watcher) tailLoop(ctx context.Context, cur *cursor) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.poll(ctx, cur); err != nil {
				log.Warn().Err(err).Str("file", cur.path).Msg("Tail pass failed")
			}
		}
	}
}

func (w *Watcher) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fresh, err := w.discover(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Rescan failed")
				continue
			}
			for _, cur := range fresh {
				log.Info().Str("file", cur.path).Msg("Adopted new file")
				w.startTail(ctx, cur)
			}
		}
	}
}

// poll performs one read-and-maybe-flush pass for a file.
func (w *Watcher) poll(ctx context.Context, cur *cursor) error {
	info, err := os.Stat(cur.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat: %w", err)
	}

	if info.Size() < cur.flushedOffset {
		log.Warn().
			Str("file", cur.path).
			Int64("file_size", info.Size()).
			Int64("offset", cur.flushedOffset).
			Msg("File truncated, re-reading from start")
		cur.readOffset = 0
		cur.flushedOffset = 0
		cur.lineNo = 0
		if err := w.offsets.Set(ctx, cur.path, 0); err != nil {
			log.Warn().Err(err).Str("file", cur.path).Msg("Failed to reset stored offset")
		}
	}

	// Backpressure: stop consuming the file while the pending buffer is
	// full; flushing below is what frees space.
	if len(cur.pending) < w.cfg.BufferLimit && info.Size() > cur.readOffset {
		if err := w.readLines(ctx, cur); err != nil {
			return err
		}
	}

	if len(cur.pending) >= w.cfg.BatchSize ||
		(len(cur.pending) > 0 && time.Since(cur.lastFlush) >= w.cfg.FlushInterval) {
		return w.flush(ctx, cur)
	}
	return nil
}

// readLines consumes complete lines starting at the cursor's read offset.
// A trailing partial line (no newline yet) stays unconsumed for the next
// pass.
func (w *Watcher) readLines(ctx context.Context, cur *cursor) error {
	f, err := os.Open(cur.path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(cur.readOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		if len(cur.pending) >= w.cfg.BufferLimit {
			return nil
		}

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line without terminator; leave for the next pass.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		rawLen := int64(len(line))
		cur.readOffset += rawLen
		cur.lineNo++
		w.handleLine(ctx, cur, strings.TrimRight(line, "\r\n"), rawLen)
	}
}

func (w *Watcher) handleLine(ctx context.Context, cur *cursor, line string, rawLen int64) {
	if line == "" {
		return
	}

	record, err := w.parser.Parse(line, cur.source)
	if err != nil {
		w.metrics.IncrementErrors()
		pe := domain.ParseError{
			Source:  cur.source,
			File:    cur.path,
			Line:    cur.lineNo,
			Snippet: truncate(line, snippetLimit),
			Reason:  err.Error(),
		}
		if recErr := w.notifier.Record(ctx, pe); recErr != nil {
			log.Warn().Err(recErr).Str("file", cur.path).Msg("Failed to record parse error")
		}
		return
	}

	cur.pending = append(cur.pending, record)
	vol, ok := cur.pendingVolume[record.Source]
	if !ok {
		vol = &ingestVolume{}
		cur.pendingVolume[record.Source] = vol
	}
	vol.logs++
	vol.bytes += uint64(rawLen)
}

// flush writes the pending batch and, only after the write is confirmed,
// advances and persists the file's offset. A crash between read and offset
// update redelivers the last batch; a confirmed offset never precedes
// confirmed data.
func (w *Watcher) flush(ctx context.Context, cur *cursor) error {
	if len(cur.pending) == 0 {
		return nil
	}

	checkpoint := cur.readOffset
	res, err := w.sink.InsertLogs(ctx, cur.pending)
	if err != nil {
		return fmt.Errorf("flush %d records: %w", len(cur.pending), err)
	}

	cur.pending = cur.pending[:0]
	for source, vol := range cur.pendingVolume {
		w.metrics.RecordIngestion(source, vol.logs, vol.bytes)
		delete(cur.pendingVolume, source)
	}
	cur.lastFlush = time.Now()

	if err := w.offsets.Set(ctx, cur.path, uint64(checkpoint)); err != nil {
		// The data is committed; a stale checkpoint only risks redelivery.
		w.metrics.IncrementErrors()
		log.Warn().
			Err(err).
			Str("file", cur.path).
			Int64("offset", checkpoint).
			Msg("Offset persist failed after confirmed flush")
	}
	cur.flushedOffset = checkpoint

	log.Debug().
		Str("file", cur.path).
		Int("records", res.Inserted).
		Dur("elapsed", res.Elapsed).
		Int64("offset", checkpoint).
		Msg("Flushed batch")

	return nil
}

func sourceLabel(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
