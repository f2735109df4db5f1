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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
)

func intPtr(v int) *int {
	return &v
}

func TestBuildIDOverridesFilters(t *testing.T) {
	p, _, err := Build(Params{
		ID:          "TEST001",
		Rating:      "2000",
		Themes:      `["endgame"]`,
		ThemesType:  "garbage",
		PlayerMoves: "3",
	})
	require.NoError(t, err)
	assert.Equal(t, Predicate{ID: "TEST001"}, p)
	assert.True(t, p.IsIDLookup())
}

func TestBuildRequiresIDOrCount(t *testing.T) {
	_, _, err := Build(Params{Rating: "1500"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "'id' or 'count'")
}

func TestBuildClampsCount(t *testing.T) {
	tcs := map[string]int{
		"0":                    1,
		"-5":                   1,
		"1":                    1,
		"42":                   42,
		"100":                  100,
		"150":                  100,
		"abc":                  1,
		"12abc":                12,
		"7.9":                  7,
		" 3":                   3,
		"99999999999999999999": 100,
	}
	for count, expected := range tcs {
		_, n, err := Build(Params{Count: count})
		require.NoError(t, err, "count %q", count)
		assert.Equal(t, expected, n, "count %q", count)
	}
}

func TestBuildThemes(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, _, err := Build(Params{Count: "5", Themes: `["fork"`})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Equal(t, "Invalid themes format. Must be a JSON array", err.Error())
	})

	t.Run("not an array", func(t *testing.T) {
		_, _, err := Build(Params{Count: "5", Themes: `"fork"`})
		require.Error(t, err)
		assert.Equal(t, "themes must be a JSON array", err.Error())

		_, _, err = Build(Params{Count: "5", Themes: `{"theme": "fork"}`})
		require.Error(t, err)
		assert.Equal(t, "themes must be a JSON array", err.Error())
	})

	t.Run("not strings", func(t *testing.T) {
		_, _, err := Build(Params{Count: "5", Themes: `["fork", 3]`, ThemesType: "ONE"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("empty array is no filter", func(t *testing.T) {
		p, n, err := Build(Params{Count: "5", Themes: `[]`})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Empty(t, p.Themes)
	})

	t.Run("single theme needs no mode", func(t *testing.T) {
		p, _, err := Build(Params{Count: "5", Themes: `["fork"]`})
		require.NoError(t, err)
		assert.Equal(t, []string{"fork"}, p.Themes)
		assert.False(t, p.MatchesAllThemes())
	})

	t.Run("multiple themes need a mode", func(t *testing.T) {
		_, _, err := Build(Params{Count: "5", Themes: `["a","b"]`})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "themesType")
	})

	t.Run("unknown mode matches one theme", func(t *testing.T) {
		p, _, err := Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "SOME"})
		require.NoError(t, err)
		assert.Equal(t, ThemesModeOne, p.ThemesMode)
	})

	t.Run("mode is case sensitive", func(t *testing.T) {
		p, _, err := Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "all"})
		require.NoError(t, err)
		assert.Equal(t, ThemesModeOne, p.ThemesMode)
		assert.False(t, p.MatchesAllThemes())

		p, _, err = Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: " ALL"})
		require.NoError(t, err)
		assert.Equal(t, ThemesModeOne, p.ThemesMode)
	})

	t.Run("modes", func(t *testing.T) {
		p, _, err := Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "ALL"})
		require.NoError(t, err)
		assert.True(t, p.MatchesAllThemes())

		p, _, err = Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "one"})
		require.NoError(t, err)
		assert.Equal(t, ThemesModeOne, p.ThemesMode)
		assert.False(t, p.MatchesAllThemes())
	})

	t.Run("duplicates are removed", func(t *testing.T) {
		p, _, err := Build(Params{Count: "5", Themes: `["fork","pin","fork"]`, ThemesType: "ALL"})
		require.NoError(t, err)
		assert.Equal(t, []string{"fork", "pin"}, p.Themes)
	})
}

func TestBuildNumericLeniency(t *testing.T) {
	p, _, err := Build(Params{Count: "3", Rating: "high", PlayerMoves: "many"})
	require.NoError(t, err)
	assert.Nil(t, p.Rating)
	assert.Nil(t, p.PlayerMoves)

	p, _, err = Build(Params{Count: "3", Rating: "1500", PlayerMoves: "2"})
	require.NoError(t, err)
	assert.Equal(t, intPtr(1500), p.Rating)
	assert.Equal(t, intPtr(2), p.PlayerMoves)
}

func TestParseLeadingInt(t *testing.T) {
	value, ok := parseLeadingInt("-12x")
	assert.True(t, ok)
	assert.Equal(t, -12, value)

	_, ok = parseLeadingInt("-")
	assert.False(t, ok)

	_, ok = parseLeadingInt("")
	assert.False(t, ok)

	value, ok = parseLeadingInt("-99999999999")
	assert.True(t, ok)
	assert.Equal(t, math.MinInt32, value)
}

func TestKey(t *testing.T) {
	a, _, err := Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "ALL", Rating: "1500"})
	require.NoError(t, err)
	b, _, err := Build(Params{Count: "50", Themes: `["a","b"]`, ThemesType: "ALL", Rating: "1500"})
	require.NoError(t, err)
	c, _, err := Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "ONE", Rating: "1500"})
	require.NoError(t, err)
	d, _, err := Build(Params{Count: "5", Themes: `["a","b"]`, ThemesType: "all", Rating: "1500"})
	require.NoError(t, err)

	// the sample size is not part of the filter
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, c.Key(), d.Key())
	assert.NotEqual(t, Predicate{}.Key(), Predicate{Rating: intPtr(0)}.Key())
}

// matches evaluates a predicate against a row in memory, with the semantics the SQL translation implements
func matches(p Predicate, row datamodel.PuzzleRow) bool {
	if p.IsIDLookup() {
		return row.PuzzleID == p.ID
	}
	if p.Rating != nil && (*p.Rating < row.Rating-row.RatingDeviation || *p.Rating > row.Rating+row.RatingDeviation) {
		return false
	}
	if p.PlayerMoves != nil && *p.PlayerMoves != row.PlayerMoves {
		return false
	}
	if len(p.Themes) == 0 {
		return true
	}
	carried := map[string]bool{}
	for _, theme := range datamodel.Tokens(row.Themes) {
		carried[theme] = true
	}
	found := 0
	for _, theme := range p.Themes {
		if carried[theme] {
			found++
		}
	}
	if p.MatchesAllThemes() {
		return found == len(p.Themes)
	}
	return found > 0
}

func TestEligibility(t *testing.T) {
	test001 := datamodel.PuzzleRow{
		PuzzleID:        "TEST001",
		Moves:           "c4f7 e8f7",
		Rating:          800,
		RatingDeviation: 50,
		Themes:          "fork short",
		PlayerMoves:     1,
	}

	tcs := []struct {
		name     string
		params   Params
		eligible bool
	}{
		{"rating inside window", Params{Count: "1", Rating: "825"}, true},
		{"rating on lower bound", Params{Count: "1", Rating: "750"}, true},
		{"rating outside window", Params{Count: "1", Rating: "851"}, false},
		{"single theme", Params{Count: "1", Themes: `["fork"]`}, true},
		{"all themes missing one", Params{Count: "1", Themes: `["fork","nonexistent"]`, ThemesType: "ALL"}, false},
		{"one of themes", Params{Count: "1", Themes: `["fork","nonexistent"]`, ThemesType: "ONE"}, true},
		{"all themes", Params{Count: "1", Themes: `["short","fork"]`, ThemesType: "ALL"}, true},
		{"player moves", Params{Count: "1", PlayerMoves: "1"}, true},
		{"other player moves", Params{Count: "1", PlayerMoves: "2"}, false},
		{"ignored rating", Params{Count: "1", Rating: "n/a"}, true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			p, _, err := Build(tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.eligible, matches(p, test001))
		})
	}
}
