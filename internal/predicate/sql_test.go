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

package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ratingWindow = `BETWEEN "p"."rating" - "p"."rating_deviation" AND "p"."rating" + "p"."rating_deviation"`

func TestKeysQuery(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		q, err := Predicate{}.KeysQuery()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "p"."puzzle_id" FROM "puzzles" AS "p"`, q.SQL)
		assert.Empty(t, q.Args)
	})

	t.Run("rating", func(t *testing.T) {
		q, err := Predicate{Rating: intPtr(825)}.KeysQuery()
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "CAST($1 AS INTEGER) "+ratingWindow)
		assert.NotContains(t, q.SQL, "JOIN")
		assert.Equal(t, []any{int64(825)}, q.Args)
	})

	t.Run("player moves", func(t *testing.T) {
		q, err := Predicate{PlayerMoves: intPtr(2)}.KeysQuery()
		require.NoError(t, err)
		assert.Contains(t, q.SQL, `"p"."player_moves" = CAST($1 AS INTEGER)`)
		assert.Equal(t, []any{int64(2)}, q.Args)
	})

	t.Run("values beyond smallint", func(t *testing.T) {
		p, _, err := Build(Params{Count: "5", Rating: "40000", PlayerMoves: "70000"})
		require.NoError(t, err)

		q, err := p.CountQuery()
		require.NoError(t, err)
		assert.Contains(t, q.SQL, "CAST($1 AS INTEGER) "+ratingWindow)
		assert.Contains(t, q.SQL, `"p"."player_moves" = CAST($2 AS INTEGER)`)
		assert.Equal(t, []any{int64(40000), int64(70000)}, q.Args)
	})

	t.Run("one of several themes", func(t *testing.T) {
		q, err := Predicate{Themes: []string{"fork", "pin"}, ThemesMode: ThemesModeOne}.KeysQuery()
		require.NoError(t, err)
		assert.Contains(t, q.SQL, `SELECT DISTINCT "p"."puzzle_id"`)
		assert.Contains(t, q.SQL, `INNER JOIN "puzzle_themes" AS "pt" ON ("p"."puzzle_id" = "pt"."puzzle_id")`)
		assert.Contains(t, q.SQL, `"pt"."theme" IN ($1, $2)`)
		assert.NotContains(t, q.SQL, "HAVING")
		assert.Equal(t, []any{"fork", "pin"}, q.Args)
	})

	t.Run("all of several themes", func(t *testing.T) {
		q, err := Predicate{Themes: []string{"fork", "pin"}, ThemesMode: ThemesModeAll, PlayerMoves: intPtr(2)}.KeysQuery()
		require.NoError(t, err)
		assert.Contains(t, q.SQL, `GROUP BY "p"."puzzle_id"`)
		assert.Contains(t, q.SQL, `HAVING (COUNT(DISTINCT("pt"."theme")) = $4)`)
		assert.Equal(t, []any{"fork", "pin", int64(2), int64(2)}, q.Args)
	})

	t.Run("id lookup ignores filters", func(t *testing.T) {
		q, err := Predicate{ID: "TEST001"}.KeysQuery()
		require.NoError(t, err)
		assert.Contains(t, q.SQL, `"p"."puzzle_id" = $1`)
		assert.Equal(t, []any{"TEST001"}, q.Args)
	})
}

func TestCountQuery(t *testing.T) {
	p := Predicate{Themes: []string{"fork", "pin"}, ThemesMode: ThemesModeAll}
	q, err := p.CountQuery()
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `SELECT COUNT(DISTINCT("matches"."puzzle_id")) FROM (SELECT "p"."puzzle_id" FROM "puzzles" AS "p"`)
	assert.Contains(t, q.SQL, `AS "matches"`)
	assert.Equal(t, []any{"fork", "pin", int64(2)}, q.Args)
}

func TestOffsetQuery(t *testing.T) {
	p := Predicate{Rating: intPtr(1500)}
	q, err := p.OffsetQuery(7)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `SELECT "p"."puzzle_id", "p"."fen", "p"."moves"`)
	assert.Contains(t, q.SQL, `"p"."player_moves" FROM "puzzles" AS "p" WHERE ("p"."puzzle_id" IN (SELECT "p"."puzzle_id"`)
	assert.Contains(t, q.SQL, `ORDER BY "p"."puzzle_id" ASC LIMIT $2 OFFSET $3`)
	assert.Equal(t, []any{int64(1500), int64(1), int64(7)}, q.Args)

	// The predicate is reusable after building queries from it
	assert.Equal(t, Predicate{Rating: intPtr(1500)}, p)
}

func TestRowsQuery(t *testing.T) {
	q, err := RowsQuery([]string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `WHERE ("p"."puzzle_id" IN ($1, $2, $3))`)
	assert.Equal(t, []any{"A", "B", "C"}, q.Args)

	q, err = RowQuery("A")
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `WHERE ("p"."puzzle_id" = $1)`)
	assert.Equal(t, []any{"A"}, q.Args)
}
