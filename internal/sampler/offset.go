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
package sampler

import (
	"context"
	"fmt"

	"github.com/united-manufacturing-hub/chess-puzzles/internal/predicate"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OffsetSampler counts the matches, draws distinct offsets into the matches
// ordered by id and fetches the row at each offset.
//
// The count and the fetches are separate statements. Rows inserted or deleted
// in between may skew the draw slightly or leave an offset without a row; such
// offsets are skipped.
type OffsetSampler struct {
	db                 storage.Querier
	intn               RandomIntn
	countCache         CountCache
	maxParallelFetches int
}

func (s *OffsetSampler) Sample(ctx context.Context, p predicate.Predicate, n int) ([]datamodel.PuzzleRow, error) {
	samplesTotal.WithLabelValues(string(StrategyOffset)).Inc()
	if n < 1 {
		return []datamodel.PuzzleRow{}, nil
	}

	population, err := s.count(ctx, p)
	if err != nil {
		return nil, err
	}
	if population == 0 {
		return []datamodel.PuzzleRow{}, nil
	}

	offsets := distinctOffsets(n, population, s.intn)
	zap.S().Debugf("Fetching %d of %d matching puzzles", len(offsets), population)

	fetched := make([]*datamodel.PuzzleRow, len(offsets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallelFetches)
	for i, offset := range offsets {
		i, offset := i, offset
		g.Go(func() error {
			row, found, err := s.fetchAt(gctx, p, offset)
			if err != nil {
				return err
			}
			if found {
				fetched[i] = &row
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	result := make([]datamodel.PuzzleRow, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, row := range fetched {
		if row == nil {
			missedOffsetsTotal.Inc()
			continue
		}
		// A shifted population can put the same row at two offsets
		if seen[row.PuzzleID] {
			continue
		}
		seen[row.PuzzleID] = true
		result = append(result, *row)
	}
	sampledRowsTotal.WithLabelValues(string(StrategyOffset)).Add(float64(len(result)))
	return result, nil
}

func (s *OffsetSampler) count(ctx context.Context, p predicate.Predicate) (int, error) {
	key := p.Key()
	if s.countCache != nil {
		if population, found := s.countCache.GetCount(ctx, key); found {
			countCacheHitsTotal.Inc()
			return population, nil
		}
	}

	q, err := p.CountQuery()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var population int64
	if err = s.db.QueryRow(ctx, q.SQL, q.Args...).Scan(&population); err != nil {
		storage.ErrorHandling(q.SQL, err)
		return 0, err
	}

	if s.countCache != nil {
		s.countCache.SetCount(ctx, key, int(population))
	}
	return int(population), nil
}

func (s *OffsetSampler) fetchAt(ctx context.Context, p predicate.Predicate, offset int) (datamodel.PuzzleRow, bool, error) {
	q, err := p.OffsetQuery(offset)
	if err != nil {
		return datamodel.PuzzleRow{}, false, fmt.Errorf("failed to build offset query: %w", err)
	}
	rows, err := FetchRows(ctx, s.db, q)
	if err != nil {
		storage.ErrorHandling(q.SQL, err)
		return datamodel.PuzzleRow{}, false, err
	}
	if len(rows) == 0 {
		zap.S().Debugf("No puzzle at offset %d anymore", offset)
		return datamodel.PuzzleRow{}, false, nil
	}
	return rows[0], true, nil
}

// distinctOffsets draws min(n, population) distinct offsets in [0, population)
// by rejecting repeats.
func distinctOffsets(n int, population int, intn RandomIntn) []int {
	count := n
	if count > population {
		count = population
	}
	offsets := make([]int, 0, count)
	seen := make(map[int]bool, count)
	for len(offsets) < count {
		offset := intn(population)
		if seen[offset] {
			continue
		}
		seen[offset] = true
		offsets = append(offsets, offset)
	}
	return offsets
}
