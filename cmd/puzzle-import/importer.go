// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/united-manufacturing-hub/chess-puzzles/internal"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
	"go.uber.org/zap"
)

const (
	createTempPuzzles = `CREATE TEMP TABLE tmp_puzzles ( LIKE puzzles INCLUDING DEFAULTS ) ON COMMIT DROP`
	createTempThemes  = `CREATE TEMP TABLE tmp_puzzle_themes ( LIKE puzzle_themes INCLUDING DEFAULTS ) ON COMMIT DROP`
	// Themes are only inserted for puzzles this batch created, an id that already exists keeps its themes
	insertBatchRows = `WITH inserted AS (
		INSERT INTO puzzles (SELECT * FROM tmp_puzzles) ON CONFLICT DO NOTHING RETURNING puzzle_id
	), themed AS (
		INSERT INTO puzzle_themes (SELECT t.* FROM tmp_puzzle_themes t JOIN inserted i ON t.puzzle_id = i.puzzle_id) ON CONFLICT DO NOTHING RETURNING puzzle_id
	)
	SELECT (SELECT COUNT(*) FROM inserted), (SELECT COUNT(*) FROM themed)`

	countPuzzles = `SELECT COUNT(*) FROM puzzles`
	countThemes  = `SELECT COUNT(DISTINCT theme) FROM puzzle_themes`
)

var themeColumns = []string{"puzzle_id", "theme"}

// Prometheus metrics
var (
	rowsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzles_import_rows_read_total",
		Help: "The total number of CSV records read",
	})
	rowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzles_import_rows_skipped_total",
		Help: "The total number of CSV records without a puzzle id",
	})
	rowsDuplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzles_import_rows_duplicated_total",
		Help: "The total number of CSV records repeating a puzzle id of the same batch",
	})
	puzzlesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzles_import_puzzles_inserted_total",
		Help: "The total number of puzzle rows inserted",
	})
	themesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "puzzles_import_themes_inserted_total",
		Help: "The total number of puzzle_themes rows inserted",
	})
	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "puzzles_import_batch_commit_seconds",
		Help:    "Duration of a batch commit",
		Buckets: prometheus.DefBuckets,
	})
)

// ImportOptions tune the loader
type ImportOptions struct {
	BatchSize        int
	ProgressInterval int
	MaxRetries       int64
	// RetrySlot is the slot time of the backoff between batch retries
	RetrySlot time.Duration
}

// ImportStats summarize a finished import
type ImportStats struct {
	Rows            int64
	Skipped         int64
	Duplicates      int64
	PuzzlesInserted int64
	ThemesInserted  int64
	Duration        time.Duration
}

// RowsPerSecond is the average throughput of the import
func (s ImportStats) RowsPerSecond() int64 {
	seconds := s.Duration.Seconds()
	if seconds <= 0 {
		return s.Rows
	}
	return int64(float64(s.Rows) / seconds)
}

// batch collects the COPY rows of one transaction. The first record of a puzzle id wins.
type batch struct {
	puzzles [][]any
	themes  [][]any
	seen    map[string]struct{}
}

func newBatch(size int) *batch {
	return &batch{
		puzzles: make([][]any, 0, size),
		themes:  make([][]any, 0, size*4),
		seen:    make(map[string]struct{}, size),
	}
}

// add reports false if the puzzle id is already part of the batch
func (b *batch) add(row datamodel.PuzzleRow, themes []datamodel.PuzzleTheme) bool {
	if _, ok := b.seen[row.PuzzleID]; ok {
		return false
	}
	b.seen[row.PuzzleID] = struct{}{}
	b.puzzles = append(b.puzzles, row.Values())
	for _, theme := range themes {
		b.themes = append(b.themes, []any{theme.PuzzleID, theme.Theme})
	}
	return true
}

func (b *batch) len() int {
	return len(b.puzzles)
}

func (b *batch) reset() {
	b.puzzles = b.puzzles[:0]
	b.themes = b.themes[:0]
	clear(b.seen)
}

type Importer struct {
	db      storage.Pool
	options ImportOptions
}

func NewImporter(db storage.Pool, options ImportOptions) *Importer {
	if options.BatchSize <= 0 {
		options.BatchSize = 5000
	}
	if options.RetrySlot <= 0 {
		options.RetrySlot = internal.OneSecond
	}
	return &Importer{db: db, options: options}
}

// RecreateSchema drops and creates the puzzle tables in one transaction
func (im *Importer) RecreateSchema(ctx context.Context) error {
	zap.S().Infof("Recreating puzzle tables")

	txn, err := im.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	statements := append(append([]string{}, storage.DropPuzzleSchema...), storage.PuzzleSchema...)
	for _, statement := range statements {
		if _, err = txn.Exec(ctx, statement); err != nil {
			rollback(txn)
			return fmt.Errorf("failed to recreate schema: %w", err)
		}
	}
	return txn.Commit(ctx)
}

// Import streams the CSV from r into the database in batches.
// Records are never held in memory beyond one batch.
func (im *Importer) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats ImportStats
	start := time.Now()

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	headerRecord, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("failed to read csv header: %w", err)
	}
	header, err := datamodel.NewCSVHeader(headerRecord)
	if err != nil {
		return stats, err
	}

	current := newBatch(im.options.BatchSize)

	flush := func() error {
		if current.len() == 0 {
			return nil
		}
		p, t, err := im.insertBatchWithRetry(ctx, current.puzzles, current.themes)
		if err != nil {
			return err
		}
		stats.PuzzlesInserted += p
		stats.ThemesInserted += t
		current.reset()
		return nil
	}

	for {
		if err = ctx.Err(); err != nil {
			return stats, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read csv record %d: %w", stats.Rows+1, err)
		}
		stats.Rows++
		rowsRead.Inc()

		row, themeRows := header.ParseRecord(record)
		if row.PuzzleID == "" {
			stats.Skipped++
			rowsSkipped.Inc()
			zap.S().Debugf("Skipping csv record %d without puzzle id", stats.Rows)
		} else if !current.add(row, themeRows) {
			stats.Duplicates++
			rowsDuplicated.Inc()
			zap.S().Debugf("Skipping csv record %d, puzzle %s already read", stats.Rows, row.PuzzleID)
		}

		if current.len() >= im.options.BatchSize {
			if err = flush(); err != nil {
				return stats, err
			}
		}

		if im.options.ProgressInterval > 0 && stats.Rows%int64(im.options.ProgressInterval) == 0 {
			elapsed := time.Since(start)
			zap.S().Infof("Processed %d rows (%d rows/sec)", stats.Rows, ImportStats{Rows: stats.Rows, Duration: elapsed}.RowsPerSecond())
		}
	}

	if err = flush(); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

func (im *Importer) insertBatchWithRetry(ctx context.Context, puzzles, themes [][]any) (int64, int64, error) {
	var retries int64
	for {
		p, t, err := im.insertBatch(ctx, puzzles, themes)
		if err == nil {
			return p, t, nil
		}
		// Batches are idempotent, connection failures can be retried
		if !storage.IsConnectionError(err) || retries >= im.options.MaxRetries {
			return 0, 0, err
		}
		retries++
		zap.S().Warnf("Batch failed (%s), retry %d of %d", err, retries, im.options.MaxRetries)
		if err = internal.SleepBackedOff(ctx, retries, im.options.RetrySlot, internal.OneMinute); err != nil {
			return 0, 0, err
		}
	}
}

// insertBatch copies one batch through temp tables, duplicates of existing puzzles are ignored
func (im *Importer) insertBatch(ctx context.Context, puzzles, themes [][]any) (int64, int64, error) {
	txnExecutionCtx, txnExecutionCancel := context.WithTimeout(ctx, internal.OneMinute)
	defer txnExecutionCancel()

	txn, err := im.db.Begin(txnExecutionCtx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	for _, statement := range []string{createTempPuzzles, createTempThemes} {
		if _, err = txn.Exec(txnExecutionCtx, statement); err != nil {
			rollback(txn)
			return 0, 0, fmt.Errorf("failed to create temp table: %w", err)
		}
	}

	if _, err = txn.CopyFrom(txnExecutionCtx, pgx.Identifier{"tmp_puzzles"}, datamodel.PuzzleColumns, pgx.CopyFromRows(puzzles)); err != nil {
		rollback(txn)
		return 0, 0, fmt.Errorf("failed to copy puzzles: %w", err)
	}
	if len(themes) > 0 {
		if _, err = txn.CopyFrom(txnExecutionCtx, pgx.Identifier{"tmp_puzzle_themes"}, themeColumns, pgx.CopyFromRows(themes)); err != nil {
			rollback(txn)
			return 0, 0, fmt.Errorf("failed to copy themes: %w", err)
		}
	}

	var puzzleCount, themeCount int64
	if err = txn.QueryRow(txnExecutionCtx, insertBatchRows).Scan(&puzzleCount, &themeCount); err != nil {
		rollback(txn)
		return 0, 0, fmt.Errorf("failed to insert puzzles: %w", err)
	}

	now := time.Now()
	err = txn.Commit(txnExecutionCtx)
	commitDuration.Observe(time.Since(now).Seconds())
	zap.S().Debugf("Committing to postgresql took: %s", time.Since(now))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	puzzlesInserted.Add(float64(puzzleCount))
	themesInserted.Add(float64(themeCount))
	return puzzleCount, themeCount, nil
}

// DatabaseStats returns the number of stored puzzles and distinct themes
func (im *Importer) DatabaseStats(ctx context.Context) (puzzles int64, themes int64, err error) {
	if err = im.db.QueryRow(ctx, countPuzzles).Scan(&puzzles); err != nil {
		storage.ErrorHandling(countPuzzles, err)
		return 0, 0, err
	}
	if err = im.db.QueryRow(ctx, countThemes).Scan(&themes); err != nil {
		storage.ErrorHandling(countThemes, err)
		return 0, 0, err
	}
	return puzzles, themes, nil
}

func rollback(txn pgx.Tx) {
	rollbackCtx, rollbackCtxCncl := context.WithTimeout(context.Background(), internal.FiveSeconds)
	defer rollbackCtxCncl()
	if err := txn.Rollback(rollbackCtx); err != nil {
		zap.S().Errorf("Failed to rollback transaction: %s", err)
	}
}
