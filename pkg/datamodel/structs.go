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

package datamodel

import "strings"

// PuzzleRow is a single row of the puzzles table
type PuzzleRow struct {
	PuzzleID        string
	FEN             string
	Moves           string
	Rating          int
	RatingDeviation int
	Popularity      int
	NbPlays         int
	Themes          string
	GameURL         string
	OpeningTags     string
	PlayerMoves     int
}

// PuzzleColumns lists the puzzles columns in the order Scan expects them
var PuzzleColumns = []string{
	"puzzle_id",
	"fen",
	"moves",
	"rating",
	"rating_deviation",
	"popularity",
	"nb_plays",
	"themes",
	"game_url",
	"opening_tags",
	"player_moves",
}

// ScanTargets returns pointers to every field in PuzzleColumns order
func (r *PuzzleRow) ScanTargets() []any {
	return []any{
		&r.PuzzleID,
		&r.FEN,
		&r.Moves,
		&r.Rating,
		&r.RatingDeviation,
		&r.Popularity,
		&r.NbPlays,
		&r.Themes,
		&r.GameURL,
		&r.OpeningTags,
		&r.PlayerMoves,
	}
}

// Values returns the row as COPY input, in PuzzleColumns order
func (r *PuzzleRow) Values() []any {
	return []any{
		r.PuzzleID,
		r.FEN,
		r.Moves,
		r.Rating,
		r.RatingDeviation,
		r.Popularity,
		r.NbPlays,
		r.Themes,
		r.GameURL,
		r.OpeningTags,
		r.PlayerMoves,
	}
}

// PuzzleTheme is a single row of the puzzle_themes table
type PuzzleTheme struct {
	PuzzleID string
	Theme    string
}

// Puzzle is the API representation of a puzzle
type Puzzle struct {
	PuzzleID        string   `json:"puzzleid"`
	FEN             string   `json:"fen"`
	Moves           []string `json:"moves"`
	Rating          int      `json:"rating"`
	RatingDeviation int      `json:"ratingdeviation"`
	Popularity      int      `json:"popularity"`
	Themes          []string `json:"themes"`
	OpeningTags     []string `json:"opening tags"`
}

// PuzzlesResponse is the body of every successful puzzles request
type PuzzlesResponse struct {
	Puzzles []Puzzle `json:"puzzles"`
}

// ToPuzzle maps a stored row into its API shape
func (r PuzzleRow) ToPuzzle() Puzzle {
	return Puzzle{
		PuzzleID:        r.PuzzleID,
		FEN:             r.FEN,
		Moves:           Tokens(r.Moves),
		Rating:          r.Rating,
		RatingDeviation: r.RatingDeviation,
		Popularity:      r.Popularity,
		Themes:          Tokens(r.Themes),
		OpeningTags:     Tokens(r.OpeningTags),
	}
}

// NewPuzzlesResponse maps rows into a response. It never returns a nil slice,
// so an empty result serializes as "puzzles": [].
func NewPuzzlesResponse(rows []PuzzleRow) PuzzlesResponse {
	puzzles := make([]Puzzle, 0, len(rows))
	for _, row := range rows {
		puzzles = append(puzzles, row.ToPuzzle())
	}
	return PuzzlesResponse{Puzzles: puzzles}
}

// Tokens splits a whitespace delimited field, dropping empty tokens.
// The result is never nil.
func Tokens(field string) []string {
	tokens := strings.Fields(field)
	if tokens == nil {
		return []string{}
	}
	return tokens
}

// PlayerMoveCount is the number of moves the solver makes.
// The first move of every puzzle is the opponent's, so the solver plays every second one.
func PlayerMoveCount(moves string) int {
	return len(strings.Fields(moves)) / 2
}
