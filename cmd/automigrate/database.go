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
	"database/sql"
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"
	_ "github.com/lib/pq"
	"github.com/united-manufacturing-hub/chess-puzzles/internal"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"go.uber.org/zap"
)

// SetupDB opens the database and registers its health checks
func SetupDB(cfg storage.Config, health healthcheck.Handler) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	var ok bool
	if ok, err = IsPostgresSQLAvailable(db); !ok {
		_ = db.Close()
		return nil, fmt.Errorf("postgres not yet available: %w", err)
	}

	db.SetMaxOpenConns(20)

	// Healthcheck
	health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, internal.OneSecond))
	health.AddLivenessCheck("database", healthcheck.DatabasePingCheck(db, 30*time.Second))

	return db, nil
}

// IsPostgresSQLAvailable returns if the database is reachable by PING command
func IsPostgresSQLAvailable(db *sql.DB) (bool, error) {
	var err error
	if db != nil {
		ctx, ctxClose := context.WithTimeout(context.Background(), internal.FiveSeconds)
		defer ctxClose()
		err = db.PingContext(ctx)
		if err == nil {
			return true, nil
		}
	}
	return false, err
}

// ShutdownDB closes all database connections
func ShutdownDB(db *sql.DB) {
	zap.S().Infof("Closing database connection")

	if err := db.Close(); err != nil {
		zap.S().Errorf("Error closing database: %s", err)
	}
}
