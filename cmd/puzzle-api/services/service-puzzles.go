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
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/predicate"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/sampler"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
	"go.uber.org/zap"
)

// ErrPuzzleNotFound is returned by identifier lookups without a match
var ErrPuzzleNotFound = errors.New("Puzzle not found with the provided id")

// PuzzleService answers puzzle requests from the database
type PuzzleService struct {
	db      storage.Querier
	sampler sampler.Sampler
	// byID caches identifier lookups. Puzzles do not change after the import.
	byID *lru.ARCCache
}

// NewPuzzleService creates the service. An lruSize of 0 disables the identifier cache.
func NewPuzzleService(db storage.Querier, s sampler.Sampler, lruSize int) (*PuzzleService, error) {
	service := &PuzzleService{db: db, sampler: s}
	if lruSize > 0 {
		cache, err := lru.NewARC(lruSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create ARC: %w", err)
		}
		service.byID = cache
	}
	return service, nil
}

// GetPuzzleByID fetches a single puzzle. It bypasses the sampler.
func (s *PuzzleService) GetPuzzleByID(ctx context.Context, id string) (datamodel.PuzzleRow, error) {
	if s.byID != nil {
		if cached, ok := s.byID.Get(id); ok {
			return cached.(datamodel.PuzzleRow), nil
		}
	}

	q, err := predicate.RowQuery(id)
	if err != nil {
		return datamodel.PuzzleRow{}, fmt.Errorf("failed to build puzzle query: %w", err)
	}
	rows, err := sampler.FetchRows(ctx, s.db, q)
	if err != nil {
		storage.ErrorHandling(q.SQL, err)
		return datamodel.PuzzleRow{}, err
	}
	if len(rows) == 0 {
		return datamodel.PuzzleRow{}, ErrPuzzleNotFound
	}

	if s.byID != nil {
		s.byID.Add(id, rows[0])
	}
	return rows[0], nil
}

// GetPuzzles resolves a built predicate. Identifier lookups return exactly one puzzle,
// everything else a random sample of at most n puzzles.
func (s *PuzzleService) GetPuzzles(ctx context.Context, p predicate.Predicate, n int) ([]datamodel.PuzzleRow, error) {
	if p.IsIDLookup() {
		row, err := s.GetPuzzleByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return []datamodel.PuzzleRow{row}, nil
	}

	zap.S().Debugf("[GetPuzzles] Sampling %d puzzles for %s", n, p.Key())
	return s.sampler.Sample(ctx, p, n)
}
