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

package models

import "github.com/united-manufacturing-hub/chess-puzzles/internal/predicate"

// GetPuzzlesRequest holds the raw query parameters. Values are validated by predicate.Build,
// so every field is bound as a string.
type GetPuzzlesRequest struct {
	ID          string `form:"id"`
	Count       string `form:"count"`
	Rating      string `form:"rating"`
	Themes      string `form:"themes"`
	ThemesType  string `form:"themesType"`
	PlayerMoves string `form:"playerMoves"`
}

func (r GetPuzzlesRequest) Params() predicate.Params {
	return predicate.Params{
		ID:          r.ID,
		Count:       r.Count,
		Rating:      r.Rating,
		Themes:      r.Themes,
		ThemesType:  r.ThemesType,
		PlayerMoves: r.PlayerMoves,
	}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}
