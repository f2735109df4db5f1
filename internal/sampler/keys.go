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
)

// KeyFetchSampler loads the ids of every match, draws from them in memory and
// fetches the full rows of the drawn ids in one query.
type KeyFetchSampler struct {
	db   storage.Querier
	intn RandomIntn
}

func (s *KeyFetchSampler) Sample(ctx context.Context, p predicate.Predicate, n int) ([]datamodel.PuzzleRow, error) {
	samplesTotal.WithLabelValues(string(StrategyKeys)).Inc()
	if n < 1 {
		return []datamodel.PuzzleRow{}, nil
	}

	keys, err := s.keys(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []datamodel.PuzzleRow{}, nil
	}

	selected := partialShuffle(keys, n, s.intn)
	zap.S().Debugf("Selected %d of %d matching puzzles", len(selected), len(keys))

	q, err := predicate.RowsQuery(selected)
	if err != nil {
		return nil, fmt.Errorf("failed to build rows query: %w", err)
	}
	rows, err := FetchRows(ctx, s.db, q)
	if err != nil {
		storage.ErrorHandling(q.SQL, err)
		return nil, err
	}
	sampledRowsTotal.WithLabelValues(string(StrategyKeys)).Add(float64(len(rows)))
	return rows, nil
}

func (s *KeyFetchSampler) keys(ctx context.Context, p predicate.Predicate) ([]string, error) {
	q, err := p.KeysQuery()
	if err != nil {
		return nil, fmt.Errorf("failed to build keys query: %w", err)
	}

	rows, err := s.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		storage.ErrorHandling(q.SQL, err)
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		storage.ErrorHandling(q.SQL, err)
		return nil, err
	}
	return keys, nil
}

// partialShuffle moves min(n, len(keys)) uniformly drawn keys to the front of
// keys and returns them. Only the first positions are swapped.
func partialShuffle(keys []string, n int, intn RandomIntn) []string {
	count := n
	if count > len(keys) {
		count = len(keys)
	}
	for i := 0; i < count; i++ {
		j := i + intn(len(keys)-i)
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys[:count]
}
