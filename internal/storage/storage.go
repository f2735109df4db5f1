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

// Package storage owns the connection pool to the puzzle database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/omeid/pgerror"
	"github.com/united-manufacturing-hub/chess-puzzles/internal"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

// Querier is the read/write contract the request path depends on.
// Both *pgxpool.Pool and pgxmock satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Pool is a Querier that also hands out transactions and can be pinged and closed
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Config holds the connection parameters of the database
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// MaxConns of 0 keeps the pgxpool default
	MaxConns int
}

// ConfigFromEnv reads the POSTGRES_* environment variables
func ConfigFromEnv() (Config, error) {
	var cfg Config
	var err error

	if cfg.Host, err = env.GetAsString("POSTGRES_HOST", false, "db"); err != nil {
		return cfg, err
	}
	if cfg.Port, err = env.GetAsInt("POSTGRES_PORT", false, 5432); err != nil {
		return cfg, err
	}
	if cfg.User, err = env.GetAsString("POSTGRES_USER", true, ""); err != nil {
		return cfg, err
	}
	if cfg.Password, err = env.GetAsString("POSTGRES_PASSWORD", true, ""); err != nil {
		return cfg, err
	}
	if cfg.Database, err = env.GetAsString("POSTGRES_DATABASE", true, ""); err != nil {
		return cfg, err
	}
	if cfg.SSLMode, err = env.GetAsString("POSTGRES_SSL_MODE", false, "require"); err != nil {
		return cfg, err
	}
	if cfg.MaxConns, err = env.GetAsInt("POSTGRES_MAX_CONNS", false, 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConnString renders the config as a libpq keyword/value connection string
func (c Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode)
}

// Connect opens the pool. It is created once per process and closed once at shutdown.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	parseConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	parseConfig.MinConns = int32(runtime.NumCPU())
	if parseConfig.MinConns < 4 {
		parseConfig.MinConns = 4
	}
	if cfg.MaxConns > 0 {
		parseConfig.MaxConns = int32(cfg.MaxConns)
	}
	if parseConfig.MinConns > parseConfig.MaxConns {
		parseConfig.MinConns = parseConfig.MaxConns
	}
	parseConfig.MaxConnIdleTime = 5 * time.Minute
	parseConfig.MaxConnLifetime = 10 * time.Minute

	parseConfig.BeforeClose = func(conn *pgx.Conn) {
		zap.S().Debugf("BeforeClose: conn: %v", conn)
	}

	connCtx, connCancel := context.WithTimeout(ctx, internal.FiveSeconds)
	defer connCancel()
	pool, err := pgxpool.NewWithConfig(connCtx, parseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return pool, nil
}

// WaitForDatabase pings the pool until it answers, backing off between attempts.
// It gives up after maxRetries attempts or when ctx is done.
func WaitForDatabase(ctx context.Context, pool Pool, maxRetries int64) error {
	var err error
	for retries := int64(0); retries < maxRetries; retries++ {
		if err = internal.SleepBackedOff(ctx, retries, 100*time.Millisecond, internal.TenSeconds); err != nil {
			return err
		}
		if err = ping(ctx, pool); err == nil {
			return nil
		}
		zap.S().Warnw("Database not available yet", "attempt", retries+1, "error", err)
	}
	return fmt.Errorf("database not available after %d attempts: %w", maxRetries, err)
}

func ping(ctx context.Context, pool Pool) error {
	pingCtx, cancel := context.WithTimeout(ctx, internal.FiveSeconds)
	defer cancel()
	return pool.Ping(pingCtx)
}

// HealthCheck reports the database as not ready while it cannot be pinged
func HealthCheck(pool Pool) healthcheck.Check {
	return func() error {
		if err := ping(context.Background(), pool); err != nil {
			return fmt.Errorf("healthcheck failed to reach database: %w", err)
		}
		return nil
	}
}

// IsConnectionError reports whether err means the database connection is gone.
// lib/pq errors are classified with pgerror, pgx errors by their SQLSTATE class.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if pgerror.ConnectionException(err) != nil ||
		pgerror.ConnectionDoesNotExist(err) != nil ||
		pgerror.ConnectionFailure(err) != nil ||
		pgerror.AdminShutdown(err) != nil ||
		pgerror.CannotConnectNow(err) != nil {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P03"
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// ErrorHandling logs a failed statement. Connection exceptions are logged as critical.
func ErrorHandling(sqlStatement string, err error) {
	if IsConnectionError(err) {
		zap.S().Errorw(
			"PostgreSQL failed: ConnectionException",
			"error", err,
			"sqlStatement", sqlStatement,
			"critical", true,
		)
		return
	}
	zap.S().Errorw(
		"PostgreSQL failed.",
		"error", err,
		"sqlStatement", sqlStatement,
	)
}
