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

package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/controllers"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/auth"
	"go.uber.org/zap"
)

// SetupRestAPI builds the router of the puzzle API
func SetupRestAPI(puzzles *controllers.PuzzlesController, validator auth.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Healthcheck
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	authorized := router.Group("/", auth.Middleware(validator))
	{
		authorized.GET("/", puzzles.GetPuzzlesHandler)
		authorized.GET("/api/v1/puzzles", puzzles.GetPuzzlesHandler)
	}

	return router
}
