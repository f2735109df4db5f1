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
puzzle-api serves random chess puzzles from the puzzles database.
*/

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/controllers"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/services"
	"github.com/united-manufacturing-hub/chess-puzzles/internal"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/auth"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/sampler"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

var buildtime string

const metricsPath = "/metrics"
const metricsPort = ":2112"
const healthcheckAddress = "0.0.0.0:8086"

// MaxCountCacheTTL bounds how long a cached population size may be served
const MaxCountCacheTTL = 5 * time.Minute

type apiConfig struct {
	Port int

	Strategy           sampler.Strategy
	MaxParallelFetches int
	CountCacheTTL      time.Duration
	PuzzleLRUSize      int

	RedisURI      string
	RedisPassword string
	RedisDB       int

	AuthMode string
}

const (
	authModeDatabase = "database"
	authModeStatic   = "static"
)

func loadConfig() (apiConfig, error) {
	var cfg apiConfig
	var err error

	if cfg.Port, err = env.GetAsInt("API_PORT", false, 80); err != nil {
		return cfg, err
	}

	strategyName, err := env.GetAsString("SAMPLER_STRATEGY", false, string(sampler.StrategyOffset))
	if err != nil {
		return cfg, err
	}
	if cfg.Strategy, err = sampler.ParseStrategy(strategyName); err != nil {
		return cfg, err
	}
	if cfg.MaxParallelFetches, err = env.GetAsInt("SAMPLER_MAX_PARALLEL_FETCHES", false, sampler.DefaultMaxParallelFetches); err != nil {
		return cfg, err
	}

	ttlSeconds, err := env.GetAsInt("COUNT_CACHE_TTL_SECONDS", false, 0)
	if err != nil {
		return cfg, err
	}
	cfg.CountCacheTTL = time.Duration(ttlSeconds) * time.Second
	// A cached count does not see later imports, so it may only lag for a bounded time
	if cfg.CountCacheTTL > MaxCountCacheTTL {
		zap.S().Warnf("COUNT_CACHE_TTL_SECONDS of %d exceeds the maximum, using %s", ttlSeconds, MaxCountCacheTTL)
		cfg.CountCacheTTL = MaxCountCacheTTL
	}

	if cfg.PuzzleLRUSize, err = env.GetAsInt("PUZZLE_LRU_SIZE", false, 1000); err != nil {
		return cfg, err
	}

	if cfg.RedisURI, err = env.GetAsString("REDIS_URI", false, ""); err != nil {
		return cfg, err
	}
	if cfg.RedisPassword, err = env.GetAsString("REDIS_PASSWORD", false, ""); err != nil {
		return cfg, err
	}
	if cfg.RedisDB, err = env.GetAsInt("REDIS_DB", false, 0); err != nil {
		return cfg, err
	}

	if cfg.AuthMode, err = env.GetAsString("AUTH_MODE", false, authModeDatabase); err != nil {
		return cfg, err
	}
	if cfg.AuthMode != authModeDatabase && cfg.AuthMode != authModeStatic {
		return cfg, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", authModeDatabase, authModeStatic, cfg.AuthMode)
	}
	return cfg, nil
}

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func(logger *zap.SugaredLogger) {
		_ = logger.Sync()
	}(log)

	zap.S().Infof("This is puzzle-api build date: %s", buildtime)

	cfg, err := loadConfig()
	if err != nil {
		zap.S().Fatal(err)
	}
	dbConfig, err := storage.ConfigFromEnv()
	if err != nil {
		zap.S().Fatal(err)
	}

	ctx := context.Background()
	pool, err := storage.Connect(ctx, dbConfig)
	if err != nil {
		zap.S().Fatal(err)
	}
	if err = storage.WaitForDatabase(ctx, pool, 10); err != nil {
		zap.S().Fatal(err)
	}
	zap.S().Debugf("DB initialized..")

	samplerOptions := sampler.Options{
		Strategy:           cfg.Strategy,
		MaxParallelFetches: cfg.MaxParallelFetches,
	}
	var countCache *internal.TieredCache
	if cfg.CountCacheTTL > 0 {
		countCache = internal.NewTieredCache(internal.CacheOptions{
			RedisURI:         cfg.RedisURI,
			RedisPassword:    cfg.RedisPassword,
			RedisDB:          cfg.RedisDB,
			MemoryExpiration: cfg.CountCacheTTL,
			RedisExpiration:  cfg.CountCacheTTL,
		})
		samplerOptions.CountCache = countCache
		zap.S().Infof("Caching population sizes for %s", cfg.CountCacheTTL)
	}

	s, err := sampler.New(pool, samplerOptions)
	if err != nil {
		zap.S().Fatal(err)
	}
	zap.S().Infof("Sampling with the %s strategy", cfg.Strategy)

	service, err := services.NewPuzzleService(pool, s, cfg.PuzzleLRUSize)
	if err != nil {
		zap.S().Fatal(err)
	}

	var validator auth.Validator
	switch cfg.AuthMode {
	case authModeStatic:
		accounts, err := auth.AccountsFromEnv()
		if err != nil {
			zap.S().Fatal(err)
		}
		if accounts.Len() == 0 {
			zap.S().Warn("AUTH_MODE is static but no API_KEY_<i> is set, every request will be rejected")
		}
		validator = accounts
	default:
		validator = auth.NewSQLValidator(pool)
	}

	router := SetupRestAPI(controllers.NewPuzzlesController(service), validator)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: internal.TenSeconds,
	}

	gs := internal.NewGracefulShutdown(internal.ShutdownTimeout, func(ctx context.Context) error {
		zap.S().Infof("Shutting down application")
		err := server.Shutdown(ctx)
		pool.Close()
		if countCache != nil {
			if cacheErr := countCache.Close(); cacheErr != nil {
				zap.S().Warnf("Failed to close cache: %s", cacheErr)
			}
		}
		return err
	})

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("database", storage.HealthCheck(pool))
	if countCache != nil && cfg.RedisURI != "" {
		health.AddReadinessCheck("redis", internal.RedisHealthCheck(countCache))
	}
	health.AddReadinessCheck("shutdownEnabled", func() error {
		if gs.ShuttingDown() {
			return errors.New("shutdown")
		}
		return nil
	})
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(healthcheckAddress, health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	http.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(metricsPort, nil)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()

	go func() {
		zap.S().Infof("Listening on %s", server.Addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Error starting REST API: %s", err)
			gs.Shutdown()
		}
	}()

	gs.Wait()
	if gs.Err() != nil {
		os.Exit(1)
	}
}
