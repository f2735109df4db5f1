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
	"errors"
	"fmt"
	"strings"

	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"go.uber.org/zap"
)

const insertSeedKey = `INSERT INTO api_keys (api_key, description, created_by) VALUES ($1, $2, $3) ON CONFLICT (api_key) DO NOTHING`

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type migration struct {
	name       string
	statements []string
}

// migrationsList is applied in order. Every statement must be safe to run again.
var migrationsList = []migration{
	{name: "api_keys", statements: storage.APIKeySchema},
	{name: "puzzles", statements: storage.PuzzleSchema},
}

// SeedKey is one entry of SEED_API_KEYS
type SeedKey struct {
	APIKey      string `json:"api_key"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

// Migrate creates every missing table and index, then inserts the seed keys.
// All of it happens in one transaction.
func Migrate(ctx context.Context, db *sql.DB, seeds []SeedKey) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error while opening transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if errX := tx.Rollback(); errX != nil && !errors.Is(errX, sql.ErrTxDone) {
			zap.S().Errorf("Error while rolling back transaction: %v", errX)
		}
	}()

	if err = applyMigrations(ctx, tx, migrationsList); err != nil {
		return err
	}
	if err = seedAPIKeys(ctx, tx, seeds); err != nil {
		return err
	}
	return tx.Commit()
}

func applyMigrations(ctx context.Context, db execer, migrations []migration) error {
	for _, m := range migrations {
		zap.S().Infof("Applying migration %s", m.name)
		for _, statement := range m.statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("migration %s failed: %w", m.name, err)
			}
		}
	}
	return nil
}

func seedAPIKeys(ctx context.Context, db execer, seeds []SeedKey) error {
	var inserted int64
	for i, seed := range seeds {
		key := strings.TrimSpace(seed.APIKey)
		if key == "" {
			return fmt.Errorf("seed key %d has an empty api_key", i)
		}
		createdBy := seed.CreatedBy
		if createdBy == "" {
			createdBy = "automigrate"
		}

		result, err := db.ExecContext(ctx, insertSeedKey, key, seed.Description, createdBy)
		if err != nil {
			return fmt.Errorf("failed to seed api key %d: %w", i, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if len(seeds) > 0 {
		zap.S().Infof("Seeded %d of %d api keys", inserted, len(seeds))
	}
	return nil
}
