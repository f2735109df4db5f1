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

package storage

// Text columns are NOT NULL, rows are scanned into plain strings.

const createAPIKeysTable = `
CREATE TABLE IF NOT EXISTS api_keys (
	id           SERIAL PRIMARY KEY,
	api_key      VARCHAR(255) NOT NULL UNIQUE,
	description  VARCHAR(255),
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_used_at TIMESTAMPTZ NULL,
	created_by   VARCHAR(100)
)`

const createPuzzlesTable = `
CREATE TABLE IF NOT EXISTS puzzles (
	puzzle_id        VARCHAR(10) PRIMARY KEY,
	fen              TEXT NOT NULL,
	moves            TEXT NOT NULL,
	rating           SMALLINT NOT NULL,
	rating_deviation SMALLINT NOT NULL,
	popularity       SMALLINT NOT NULL,
	nb_plays         INTEGER NOT NULL,
	themes           TEXT NOT NULL DEFAULT '',
	game_url         VARCHAR(255) NOT NULL DEFAULT '',
	opening_tags     TEXT NOT NULL DEFAULT '',
	player_moves     SMALLINT NOT NULL
)`

const createPuzzleThemesTable = `
CREATE TABLE IF NOT EXISTS puzzle_themes (
	puzzle_id VARCHAR(10) NOT NULL REFERENCES puzzles (puzzle_id) ON DELETE CASCADE,
	theme     VARCHAR(50) NOT NULL,
	PRIMARY KEY (puzzle_id, theme)
)`

// APIKeySchema creates the credential table. Every statement is idempotent.
var APIKeySchema = []string{
	createAPIKeysTable,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_is_active ON api_keys (is_active)`,
}

// PuzzleSchema creates the puzzle tables and the indexes the filters use.
// Every statement is idempotent.
var PuzzleSchema = []string{
	createPuzzlesTable,
	`CREATE INDEX IF NOT EXISTS idx_puzzles_rating ON puzzles (rating)`,
	`CREATE INDEX IF NOT EXISTS idx_puzzles_popularity ON puzzles (popularity)`,
	`CREATE INDEX IF NOT EXISTS idx_puzzles_nb_plays ON puzzles (nb_plays)`,
	`CREATE INDEX IF NOT EXISTS idx_puzzles_player_moves ON puzzles (player_moves)`,
	createPuzzleThemesTable,
	`CREATE INDEX IF NOT EXISTS idx_puzzle_themes_theme ON puzzle_themes (theme)`,
}

// DropPuzzleSchema removes the puzzle tables, dependents first. api_keys is left alone.
var DropPuzzleSchema = []string{
	`DROP TABLE IF EXISTS puzzle_themes`,
	`DROP TABLE IF EXISTS puzzles`,
}
