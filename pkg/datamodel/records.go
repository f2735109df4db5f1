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

import (
	"fmt"
	"strconv"
	"strings"
)

// Column names of the Lichess puzzle export
const (
	CSVPuzzleID        = "PuzzleId"
	CSVFEN             = "FEN"
	CSVMoves           = "Moves"
	CSVRating          = "Rating"
	CSVRatingDeviation = "RatingDeviation"
	CSVPopularity      = "Popularity"
	CSVNbPlays         = "NbPlays"
	CSVThemes          = "Themes"
	CSVGameURL         = "GameUrl"
	CSVOpeningTags     = "OpeningTags"
)

// CSVHeader maps column names to their index in a record
type CSVHeader map[string]int

// NewCSVHeader indexes a header record. PuzzleId is the only mandatory column.
func NewCSVHeader(record []string) (CSVHeader, error) {
	header := make(CSVHeader, len(record))
	for i, name := range record {
		// Exports written on windows start with a BOM
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		header[name] = i
	}
	if _, ok := header[CSVPuzzleID]; !ok {
		return nil, fmt.Errorf("csv header is missing the %s column", CSVPuzzleID)
	}
	return header, nil
}

func (h CSVHeader) field(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func (h CSVHeader) intField(record []string, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(h.field(record, name)))
	if err != nil {
		return 0
	}
	return value
}

// ParseRecord converts one CSV record into a puzzle row and its theme rows.
// Unparsable numeric fields fall back to 0.
func (h CSVHeader) ParseRecord(record []string) (PuzzleRow, []PuzzleTheme) {
	moves := h.field(record, CSVMoves)
	themes := h.field(record, CSVThemes)

	row := PuzzleRow{
		PuzzleID:        h.field(record, CSVPuzzleID),
		FEN:             h.field(record, CSVFEN),
		Moves:           moves,
		Rating:          h.intField(record, CSVRating),
		RatingDeviation: h.intField(record, CSVRatingDeviation),
		Popularity:      h.intField(record, CSVPopularity),
		NbPlays:         h.intField(record, CSVNbPlays),
		Themes:          themes,
		GameURL:         h.field(record, CSVGameURL),
		OpeningTags:     h.field(record, CSVOpeningTags),
		PlayerMoves:     PlayerMoveCount(moves),
	}

	return row, ThemeRows(row.PuzzleID, themes)
}

// ThemeRows derives the puzzle_themes rows of a puzzle from its themes field
func ThemeRows(puzzleID string, themes string) []PuzzleTheme {
	tokens := Tokens(themes)
	rows := make([]PuzzleTheme, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, theme := range tokens {
		// (puzzle_id, theme) is the primary key
		if seen[theme] {
			continue
		}
		seen[theme] = true
		rows = append(rows, PuzzleTheme{PuzzleID: puzzleID, Theme: theme})
	}
	return rows
}
