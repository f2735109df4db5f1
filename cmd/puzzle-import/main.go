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

/*
puzzle-import loads the Lichess puzzle CSV export into the puzzles and puzzle_themes tables.
*/

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/chess-puzzles/internal"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

var buildtime string

type importConfig struct {
	CSVPath          string
	BatchSize        int
	ProgressInterval int
	MaxRetries       int
	RecreateSchema   bool
}

func loadConfig() (importConfig, error) {
	var cfg importConfig
	var err error

	if cfg.CSVPath, err = env.GetAsString("IMPORT_CSV_PATH", true, ""); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = env.GetAsInt("IMPORT_BATCH_SIZE", false, 5000); err != nil {
		return cfg, err
	}
	if cfg.BatchSize <= 0 {
		return cfg, fmt.Errorf("IMPORT_BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.ProgressInterval, err = env.GetAsInt("IMPORT_PROGRESS_INTERVAL", false, 50000); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = env.GetAsInt("IMPORT_MAX_RETRIES", false, 3); err != nil {
		return cfg, err
	}
	if cfg.RecreateSchema, err = env.GetAsBool("IMPORT_RECREATE_SCHEMA", false, true); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		_ = logger.Sync()
	}(log)

	zap.S().Infof("This is puzzle-import build date: %s", buildtime)

	cfg, err := loadConfig()
	if err != nil {
		zap.S().Fatal(err)
	}
	dbConfig, err := storage.ConfigFromEnv()
	if err != nil {
		zap.S().Fatal(err)
	}

	http.Handle("/metrics", promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(":2112", nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := storage.Connect(ctx, dbConfig)
	if err != nil {
		zap.S().Fatal(err)
	}
	if err = storage.WaitForDatabase(ctx, pool, 10); err != nil {
		zap.S().Fatal(err)
	}

	// SIGTERM stops the import after the batch in flight
	gs := internal.NewGracefulShutdown(internal.ShutdownTimeout, func(context.Context) error {
		cancel()
		return nil
	})

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		runErr = run(ctx, NewImporter(pool, ImportOptions{
			BatchSize:        cfg.BatchSize,
			ProgressInterval: cfg.ProgressInterval,
			MaxRetries:       int64(cfg.MaxRetries),
		}), cfg)
		gs.Shutdown()
	}()

	gs.Wait()
	<-done
	pool.Close()
	zap.S().Infof("Database connection closed")

	if runErr != nil {
		zap.S().Fatalf("Import failed: %v", runErr)
	}
}

func run(ctx context.Context, importer *Importer, cfg importConfig) error {
	/* #nosec G304 */
	file, err := os.Open(cfg.CSVPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	zap.S().Infof("Starting import from %s with batch size %d", cfg.CSVPath, cfg.BatchSize)

	if cfg.RecreateSchema {
		if err = importer.RecreateSchema(ctx); err != nil {
			return err
		}
	}

	stats, err := importer.Import(ctx, file)
	if err != nil {
		return fmt.Errorf("after %d rows: %w", stats.Rows, err)
	}

	zap.S().Infow("Import completed",
		"rows", stats.Rows,
		"skipped", stats.Skipped,
		"duplicates", stats.Duplicates,
		"puzzlesInserted", stats.PuzzlesInserted,
		"themesInserted", stats.ThemesInserted,
		"duration", stats.Duration.String(),
		"rowsPerSecond", stats.RowsPerSecond(),
	)

	puzzles, themes, err := importer.DatabaseStats(ctx)
	if err != nil {
		return err
	}
	zap.S().Infow("Database stats", "puzzles", puzzles, "uniqueThemes", themes)
	return nil
}
