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

package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/helpers"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/models"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/services"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/predicate"
	"github.com/united-manufacturing-hub/chess-puzzles/pkg/datamodel"
)

// Prometheus metrics
var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "puzzles_api_requests_total",
			Help: "The total number of puzzle requests by outcome",
		},
		[]string{"outcome"},
	)
	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "puzzles_api_request_duration_seconds",
			Help:    "Duration of puzzle requests",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// PuzzleGetter is the part of the service the handlers depend on
type PuzzleGetter interface {
	GetPuzzles(ctx context.Context, p predicate.Predicate, n int) ([]datamodel.PuzzleRow, error)
}

type PuzzlesController struct {
	service PuzzleGetter
}

func NewPuzzlesController(service PuzzleGetter) *PuzzlesController {
	return &PuzzlesController{service: service}
}

func (pc *PuzzlesController) GetPuzzlesHandler(c *gin.Context) {
	timer := prometheus.NewTimer(requestDuration)
	defer timer.ObserveDuration()

	var request models.GetPuzzlesRequest

	err := c.ShouldBindQuery(&request)
	if err != nil {
		requestsTotal.WithLabelValues("invalid").Inc()
		helpers.HandleInvalidInputError(c, err)
		return
	}

	p, n, err := predicate.Build(request.Params())
	if err != nil {
		requestsTotal.WithLabelValues("invalid").Inc()
		helpers.HandleInvalidInputError(c, err)
		return
	}

	// Fetch data from database
	rows, err := pc.service.GetPuzzles(c.Request.Context(), p, n)
	if err != nil {
		if errors.Is(err, services.ErrPuzzleNotFound) {
			requestsTotal.WithLabelValues("not_found").Inc()
			helpers.HandleNotFound(c, err)
			return
		}
		requestsTotal.WithLabelValues("error").Inc()
		helpers.HandleInternalServerError(c, err)
		return
	}

	requestsTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, datamodel.NewPuzzlesResponse(rows))
}
