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

// Package predicate turns the query parameters of a puzzles request into a
// filter over the puzzles and puzzle_themes tables.
package predicate

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	MinSampleSize = 1
	MaxSampleSize = 100
)

// ThemesMode selects how multiple themes are combined
type ThemesMode string

const (
	// ThemesModeAll requires a puzzle to carry every requested theme
	ThemesModeAll ThemesMode = "ALL"
	// ThemesModeOne requires a puzzle to carry at least one requested theme
	ThemesModeOne ThemesMode = "ONE"
)

// Params are the raw filter parameters of a request. An empty string means the parameter is absent.
type Params struct {
	ID          string
	Count       string
	Rating      string
	Themes      string
	ThemesType  string
	PlayerMoves string
}

// Predicate is the validated filter of a single request.
// It is never modified after Build returns it.
type Predicate struct {
	// ID is set for identifier lookups. All other fields are empty in that case.
	ID          string
	Themes      []string
	ThemesMode  ThemesMode
	Rating      *int
	PlayerMoves *int
}

// ValidationError is returned for every malformed or missing parameter
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(message string) error {
	return &ValidationError{Message: message}
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// Build validates params and returns the predicate together with the sample size.
// The sample size is irrelevant when the predicate is an identifier lookup.
func Build(params Params) (Predicate, int, error) {
	if params.ID != "" {
		// id overrides every other filter
		return Predicate{ID: params.ID}, MinSampleSize, nil
	}

	if params.Count == "" {
		return Predicate{}, 0, newValidationError("You must provide either 'id' or 'count' parameter")
	}
	count, ok := parseLeadingInt(params.Count)
	if !ok {
		count = MinSampleSize
	}
	count = ClampSampleSize(count)

	var predicate Predicate

	if params.Themes != "" {
		themes, err := parseThemes(params.Themes)
		if err != nil {
			return Predicate{}, 0, err
		}

		if len(themes) > 1 {
			// Only an exact "ALL" selects the intersection, any other value matches one theme
			switch params.ThemesType {
			case "":
				return Predicate{}, 0, newValidationError("themesType is required when passing more than one theme. Use 'ALL' or 'ONE'")
			case string(ThemesModeAll):
				predicate.ThemesMode = ThemesModeAll
			default:
				predicate.ThemesMode = ThemesModeOne
			}
		}
		predicate.Themes = uniqueThemes(themes)
	}

	// Non numeric rating and playerMoves values only disable their filter
	if params.Rating != "" {
		if rating, ok := parseLeadingInt(params.Rating); ok {
			predicate.Rating = &rating
		}
	}
	if params.PlayerMoves != "" {
		if playerMoves, ok := parseLeadingInt(params.PlayerMoves); ok {
			predicate.PlayerMoves = &playerMoves
		}
	}

	return predicate, count, nil
}

// ClampSampleSize forces a requested sample size into [MinSampleSize, MaxSampleSize]
func ClampSampleSize(n int) int {
	if n < MinSampleSize {
		return MinSampleSize
	}
	if n > MaxSampleSize {
		return MaxSampleSize
	}
	return n
}

// IsIDLookup reports whether the predicate selects a single puzzle by id
func (p Predicate) IsIDLookup() bool {
	return p.ID != ""
}

// MatchesAllThemes reports whether the intersection of several themes is requested
func (p Predicate) MatchesAllThemes() bool {
	return len(p.Themes) > 1 && p.ThemesMode == ThemesModeAll
}

// Key is a stable textual form of the predicate, used for cache keys
func (p Predicate) Key() string {
	var b strings.Builder
	b.WriteString("id=")
	b.WriteString(strconv.Quote(p.ID))
	b.WriteString(";themes=")
	for i, theme := range p.Themes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(theme))
	}
	b.WriteString(";mode=")
	if len(p.Themes) > 1 {
		b.WriteString(string(p.ThemesMode))
	}
	b.WriteString(";rating=")
	if p.Rating != nil {
		b.WriteString(strconv.Itoa(*p.Rating))
	}
	b.WriteString(";playerMoves=")
	if p.PlayerMoves != nil {
		b.WriteString(strconv.Itoa(*p.PlayerMoves))
	}
	return b.String()
}

func parseThemes(raw string) ([]string, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, newValidationError("Invalid themes format. Must be a JSON array")
	}
	values, ok := decoded.([]any)
	if !ok {
		return nil, newValidationError("themes must be a JSON array")
	}

	themes := make([]string, 0, len(values))
	for _, value := range values {
		theme, ok := value.(string)
		if !ok {
			return nil, newValidationError("themes must be a JSON array of strings")
		}
		themes = append(themes, theme)
	}
	return themes, nil
}

// uniqueThemes drops repeated themes, otherwise ALL could never be satisfied
func uniqueThemes(themes []string) []string {
	if len(themes) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(themes))
	unique := make([]string, 0, len(themes))
	for _, theme := range themes {
		if seen[theme] {
			continue
		}
		seen[theme] = true
		unique = append(unique, theme)
	}
	return unique
}

// parseLeadingInt reads an optionally signed integer prefix, ignoring leading
// whitespace and anything after the digits ("12abc" is 12, "1.9" is 1).
// Values outside the int32 range saturate.
func parseLeadingInt(raw string) (int, bool) {
	s := strings.TrimLeft(raw, " \t\n\r\v\f")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	value, err := strconv.ParseInt(s[:end], 10, 32)
	if err != nil {
		if s[0] == '-' {
			return math.MinInt32, true
		}
		return math.MaxInt32, true
	}
	return int(value), true
}
