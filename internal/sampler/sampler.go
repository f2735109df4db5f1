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

// Package sampler draws uniform random subsets of the puzzles matching a predicate.
//
// OffsetSampler (the default) counts the matches and fetches one row per
// random offset. KeyFetchSampler transfers all matching ids once and picks
// from them in memory.
package sampler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/predicate"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
)

// Sampler returns at most n distinct puzzles matching p. It never pads the
// result and never fails because fewer than n puzzles match.
type Sampler interface {
	Sample(ctx context.Context, p predicate.Predicate, n int) ([]datamodel.PuzzleRow, error)
}

type Strategy string

const (
	StrategyOffset Strategy = "offset"
	StrategyKeys   Strategy = "keys"
)

// DefaultMaxParallelFetches bounds the concurrent offset fetches of one request
const DefaultMaxParallelFetches = 8

// CountCache caches population sizes by predicate key
type CountCache interface {
	GetCount(ctx context.Context, predicateKey string) (int, bool)
	SetCount(ctx context.Context, predicateKey string, count int)
}

// RandomIntn returns a uniformly distributed int in [0, n)
type RandomIntn func(n int) int

type Options struct {
	Strategy Strategy
	// MaxParallelFetches only applies to StrategyOffset
	MaxParallelFetches int
	// CountCache is optional and only applies to StrategyOffset
	CountCache CountCache
	// Intn defaults to math/rand
	Intn RandomIntn
}

// Prometheus metrics
var (
	samplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzles_sampler_samples_total",
			Help: "The total number of sampling operations",
		},
		[]string{"strategy"},
	)
	sampledRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzles_sampler_rows_total",
			Help: "The total number of puzzles returned by the sampler",
		},
		[]string{"strategy"},
	)
	missedOffsetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "puzzles_sampler_missed_offsets_total",
			Help: "Offsets that no longer pointed at a row when fetched",
		},
	)
	countCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "puzzles_sampler_count_cache_hits_total",
			Help: "Population sizes served from the count cache",
		},
	)
)

// ParseStrategy accepts the strategy names case-insensitively
func ParseStrategy(name string) (Strategy, error) {
	switch strategy := Strategy(strings.ToLower(strings.TrimSpace(name))); strategy {
	case StrategyOffset, StrategyKeys:
		return strategy, nil
	case "":
		return StrategyOffset, nil
	default:
		return "", fmt.Errorf("unknown sampler strategy %q, use %q or %q", name, StrategyOffset, StrategyKeys)
	}
}

// New creates the sampler selected by options.Strategy
func New(db storage.Querier, options Options) (Sampler, error) {
	intn := options.Intn
	if intn == nil {
		intn = rand.Intn
	}

	switch options.Strategy {
	case StrategyKeys:
		return &KeyFetchSampler{db: db, intn: intn}, nil
	case StrategyOffset, "":
		maxParallel := options.MaxParallelFetches
		if maxParallel <= 0 {
			maxParallel = DefaultMaxParallelFetches
		}
		return &OffsetSampler{
			db:                 db,
			intn:               intn,
			countCache:         options.CountCache,
			maxParallelFetches: maxParallel,
		}, nil
	default:
		return nil, fmt.Errorf("unknown sampler strategy %q", options.Strategy)
	}
}

// FetchRows runs a full row query and scans every row
func FetchRows(ctx context.Context, db storage.Querier, q predicate.Query) ([]datamodel.PuzzleRow, error) {
	rows, err := db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]datamodel.PuzzleRow, 0)
	for rows.Next() {
		var row datamodel.PuzzleRow
		if err = rows.Scan(row.ScanTargets()...); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
