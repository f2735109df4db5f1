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
	To add a new migration:
	1. Add its statements to internal/storage/schema.go. They must be idempotent (IF NOT EXISTS).
	2. Append a migration to migrationsList in migrate.go.
*/

import (
	"context"
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/chess-puzzles/internal"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

var buildtime string

func setupLoggingMetricsHealthcheck() healthcheck.Handler {
	// Initialize zap logging
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	logger.New(logLevel)

	zap.S().Infof("This is automigrate build date: %s", buildtime)

	// Prometheus
	metricsPath := "/metrics"
	metricsPort := ":2112"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, metricsPort)

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()

	zap.S().Debugf("Setting up healthcheck")

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()
	return health
}

func main() {
	health := setupLoggingMetricsHealthcheck()
	defer func() {
		_ = zap.L().Sync()
	}()

	cfg, err := storage.ConfigFromEnv()
	if err != nil {
		zap.S().Fatal(err)
	}
	if cfg.SSLMode != "require" {
		zap.S().Warnf("Postgres SSL mode is set to %s", cfg.SSLMode)
	}

	var seeds []SeedKey
	if err = env.GetAsType("SEED_API_KEYS", &seeds, false, []SeedKey{}); err != nil {
		zap.S().Fatal(err)
	}

	db, err := SetupDB(cfg, health)
	if err != nil {
		zap.S().Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), internal.OneMinute)
	err = Migrate(ctx, db, seeds)
	cancel()
	ShutdownDB(db)
	if err != nil {
		zap.S().Fatalf("Migration failed: %v", err)
	}
	zap.S().Infof("Schema is up to date")
}
