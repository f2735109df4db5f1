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

package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/predicate"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
)

var rowSQL = regexp.QuoteMeta(`WHERE ("p"."puzzle_id" = $1)`)

type fakeSampler struct {
	rows      []datamodel.PuzzleRow
	err       error
	predicate predicate.Predicate
	n         int
}

func (f *fakeSampler) Sample(_ context.Context, p predicate.Predicate, n int) ([]datamodel.PuzzleRow, error) {
	f.predicate = p
	f.n = n
	return f.rows, f.err
}

func test001() datamodel.PuzzleRow {
	return datamodel.PuzzleRow{
		PuzzleID:        "TEST001",
		FEN:             "r1bqkb1r/pppp1ppp/2n2n2/4p3/2B1P3/5N2/PPPP1PPP/RNBQK2R w KQkq - 4 4",
		Moves:           "c4f7 e8f7",
		Rating:          800,
		RatingDeviation: 50,
		Popularity:      90,
		NbPlays:         1000,
		Themes:          "fork short",
		GameURL:         "https://lichess.org/test001",
		PlayerMoves:     1,
	}
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestGetPuzzleByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found and cached", func(t *testing.T) {
		mock := newMock(t)
		service, err := NewPuzzleService(mock, &fakeSampler{}, 10)
		require.NoError(t, err)

		row := test001()
		mock.ExpectQuery(rowSQL).
			WithArgs("TEST001").
			WillReturnRows(mock.NewRows(datamodel.PuzzleColumns).AddRow(row.Values()...))

		for i := 0; i < 2; i++ {
			got, err := service.GetPuzzleByID(ctx, "TEST001")
			require.NoError(t, err)
			assert.Equal(t, test001(), got)
		}
		// the second lookup is served from the cache
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		service, err := NewPuzzleService(mock, &fakeSampler{}, 0)
		require.NoError(t, err)

		mock.ExpectQuery(rowSQL).
			WithArgs("NOPE").
			WillReturnRows(mock.NewRows(datamodel.PuzzleColumns))

		_, err = service.GetPuzzleByID(ctx, "NOPE")
		assert.ErrorIs(t, err, ErrPuzzleNotFound)
		assert.Equal(t, "Puzzle not found with the provided id", err.Error())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure", func(t *testing.T) {
		mock := newMock(t)
		service, err := NewPuzzleService(mock, &fakeSampler{}, 0)
		require.NoError(t, err)

		mock.ExpectQuery(rowSQL).WillReturnError(errors.New("connection refused"))

		_, err = service.GetPuzzleByID(ctx, "TEST001")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrPuzzleNotFound)
	})
}

func TestGetPuzzles(t *testing.T) {
	ctx := context.Background()

	t.Run("id lookup bypasses the sampler", func(t *testing.T) {
		mock := newMock(t)
		sampler := &fakeSampler{err: errors.New("must not be called")}
		service, err := NewPuzzleService(mock, sampler, 0)
		require.NoError(t, err)

		row := test001()
		mock.ExpectQuery(rowSQL).
			WithArgs("TEST001").
			WillReturnRows(mock.NewRows(datamodel.PuzzleColumns).AddRow(row.Values()...))

		rows, err := service.GetPuzzles(ctx, predicate.Predicate{ID: "TEST001"}, 1)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.Equal(t, 0, sampler.n)
	})

	t.Run("filters are sampled", func(t *testing.T) {
		mock := newMock(t)
		sampler := &fakeSampler{rows: []datamodel.PuzzleRow{test001()}}
		service, err := NewPuzzleService(mock, sampler, 0)
		require.NoError(t, err)

		rating := 825
		p := predicate.Predicate{Rating: &rating}
		rows, err := service.GetPuzzles(ctx, p, 7)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.Equal(t, 7, sampler.n)
		assert.Equal(t, p, sampler.predicate)
	})
}
