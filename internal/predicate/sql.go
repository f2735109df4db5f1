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
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
)

var (
	dialect = goqu.Dialect("postgres")

	// Tables
	puzzlesTable = goqu.T("puzzles").As("p")
	themesTable  = goqu.T("puzzle_themes").As("pt")
	matchesAlias = "matches"

	// Columns
	puzzle_puzzleId        = goqu.I("p.puzzle_id")
	puzzle_rating          = goqu.I("p.rating")
	puzzle_ratingDeviation = goqu.I("p.rating_deviation")
	puzzle_playerMoves     = goqu.I("p.player_moves")
	theme_puzzleId         = goqu.I("pt.puzzle_id")
	theme_theme            = goqu.I("pt.theme")
	matches_puzzleId       = goqu.I(matchesAlias + ".puzzle_id")
)

// Query is a parameterized SQL statement
type Query struct {
	SQL  string
	Args []any
}

func toQuery(ds *goqu.SelectDataset) (Query, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: sql, Args: args}, nil
}

func puzzleColumns() []any {
	columns := make([]any, 0, len(datamodel.PuzzleColumns))
	for _, column := range datamodel.PuzzleColumns {
		columns = append(columns, goqu.I("p."+column))
	}
	return columns
}

func asInteger(value int) exp.CastExpression {
	return goqu.Cast(goqu.V(value), "INTEGER")
}

func (p Predicate) conditions() []exp.Expression {
	if p.IsIDLookup() {
		return []exp.Expression{puzzle_puzzleId.Eq(p.ID)}
	}

	conditions := make([]exp.Expression, 0, 3)
	if len(p.Themes) > 0 {
		conditions = append(conditions, theme_theme.In(p.Themes))
	}
	// The columns are SMALLINT. Without the casts postgres infers int2 for the
	// parameters and values outside its range fail to bind.
	if p.Rating != nil {
		// The requested rating has to lie inside the deviation window of the puzzle
		conditions = append(conditions, goqu.L(
			"? BETWEEN ? - ? AND ? + ?",
			asInteger(*p.Rating),
			puzzle_rating, puzzle_ratingDeviation,
			puzzle_rating, puzzle_ratingDeviation,
		))
	}
	if p.PlayerMoves != nil {
		conditions = append(conditions, puzzle_playerMoves.Eq(asInteger(*p.PlayerMoves)))
	}
	return conditions
}

// keysDataset selects the distinct ids of every matching puzzle
func (p Predicate) keysDataset() *goqu.SelectDataset {
	ds := dialect.From(puzzlesTable).Select(puzzle_puzzleId)

	if !p.IsIDLookup() && len(p.Themes) > 0 {
		ds = ds.Join(themesTable, goqu.On(puzzle_puzzleId.Eq(theme_puzzleId)))
	}
	if conditions := p.conditions(); len(conditions) > 0 {
		ds = ds.Where(conditions...)
	}

	switch {
	case p.MatchesAllThemes():
		ds = ds.GroupBy(puzzle_puzzleId).
			Having(goqu.COUNT(goqu.DISTINCT(theme_theme)).Eq(len(p.Themes)))
	case len(p.Themes) > 0:
		// The join yields one row per matching theme
		ds = ds.Distinct()
	}
	return ds
}

// KeysQuery selects the ids of all matching puzzles
func (p Predicate) KeysQuery() (Query, error) {
	return toQuery(p.keysDataset())
}

// CountQuery counts the distinct matching puzzles
func (p Predicate) CountQuery() (Query, error) {
	ds := dialect.From(p.keysDataset().As(matchesAlias)).
		Select(goqu.COUNT(goqu.DISTINCT(matches_puzzleId)))
	return toQuery(ds)
}

// OffsetQuery fetches the full row of the matching puzzle at offset, with the
// matches ordered by id so repeated executions see the same order.
func (p Predicate) OffsetQuery(offset int) (Query, error) {
	key := p.keysDataset().
		Order(puzzle_puzzleId.Asc()).
		Offset(uint(offset)).
		Limit(1)
	ds := dialect.From(puzzlesTable).
		Select(puzzleColumns()...).
		Where(puzzle_puzzleId.In(key))
	return toQuery(ds)
}

// RowsQuery fetches the full rows of the given puzzle ids
func RowsQuery(ids []string) (Query, error) {
	ds := dialect.From(puzzlesTable).
		Select(puzzleColumns()...).
		Where(puzzle_puzzleId.In(ids))
	return toQuery(ds)
}

// RowQuery fetches the full row of a single puzzle
func RowQuery(id string) (Query, error) {
	ds := dialect.From(puzzlesTable).
		Select(puzzleColumns()...).
		Where(puzzle_puzzleId.Eq(id))
	return toQuery(ds)
}
