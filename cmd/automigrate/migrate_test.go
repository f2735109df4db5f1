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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/umh-utils/env"
)

type execCall struct {
	query string
	args  []any
}

type recordingExecer struct {
	calls  []execCall
	failOn string
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.calls = append(r.calls, execCall{query: query, args: args})
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return nil, errors.New("permission denied")
	}
	return driverResult(1), nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestApplyMigrations(t *testing.T) {
	t.Run("tables before their indexes", func(t *testing.T) {
		db := &recordingExecer{}
		require.NoError(t, applyMigrations(context.Background(), db, migrationsList))

		var tables []string
		for i, call := range db.calls {
			assert.True(t,
				strings.Contains(call.query, "IF NOT EXISTS"),
				"statement %d is not idempotent: %s", i, call.query)
			if strings.Contains(call.query, "CREATE TABLE") {
				tables = append(tables, strings.Fields(call.query)[5])
			}
		}
		assert.Equal(t, []string{"api_keys", "puzzles", "puzzle_themes"}, tables)
	})

	t.Run("failure names the migration", func(t *testing.T) {
		db := &recordingExecer{failOn: "puzzle_themes"}
		err := applyMigrations(context.Background(), db, migrationsList)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "migration puzzles failed")
		assert.Contains(t, db.calls[len(db.calls)-1].query, "puzzle_themes")
	})
}

func TestSeedAPIKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts trimmed keys", func(t *testing.T) {
		db := &recordingExecer{}
		err := seedAPIKeys(ctx, db, []SeedKey{
			{APIKey: " test-key-1 ", Description: "Test key 1"},
			{APIKey: "test-key-2", Description: "Test key 2", CreatedBy: "ops"},
		})
		require.NoError(t, err)
		require.Len(t, db.calls, 2)
		assert.Equal(t, insertSeedKey, db.calls[0].query)
		assert.Equal(t, []any{"test-key-1", "Test key 1", "automigrate"}, db.calls[0].args)
		assert.Equal(t, []any{"test-key-2", "Test key 2", "ops"}, db.calls[1].args)
	})

	t.Run("nothing to seed", func(t *testing.T) {
		db := &recordingExecer{}
		require.NoError(t, seedAPIKeys(ctx, db, nil))
		assert.Empty(t, db.calls)
	})

	t.Run("empty key", func(t *testing.T) {
		db := &recordingExecer{}
		err := seedAPIKeys(ctx, db, []SeedKey{{APIKey: "ok"}, {APIKey: "  "}})
		assert.Error(t, err)
		assert.Len(t, db.calls, 1)
	})

	t.Run("insert failure", func(t *testing.T) {
		db := &recordingExecer{failOn: "api_keys"}
		err := seedAPIKeys(ctx, db, []SeedKey{{APIKey: "test-key-1"}})
		assert.ErrorContains(t, err, "permission denied")
	})
}

func TestSeedKeysFromEnv(t *testing.T) {
	t.Setenv("SEED_API_KEYS", `[{"api_key":"test-key-1","description":"Test key 1"}]`)

	var seeds []SeedKey
	require.NoError(t, env.GetAsType("SEED_API_KEYS", &seeds, false, []SeedKey{}))
	assert.Equal(t, []SeedKey{{APIKey: "test-key-1", Description: "Test key 1"}}, seeds)
}
