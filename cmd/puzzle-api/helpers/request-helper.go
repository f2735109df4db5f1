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

package helpers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/chess-puzzles/cmd/puzzle-api/models"
	"go.uber.org/zap"
)

const internalServerErrorMessage = "Internal server error"

// SanitizeString removes line breaks, so user input cannot forge log lines
func SanitizeString(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// HandleInternalServerError logs err and answers with a generic message. Storage details never reach the client.
func HandleInternalServerError(c *gin.Context, err error) {
	if c == nil {
		panic("HandleInternalServerError: c is nil")
	}
	if err == nil {
		err = errors.New("unknown error")
	}

	zap.S().Errorw(
		"Internal server error",
		"error", SanitizeString(err.Error()),
		"route", c.FullPath(),
	)

	c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{Error: internalServerErrorMessage})
}

// HandleInvalidInputError reports a rejected parameter verbatim
func HandleInvalidInputError(c *gin.Context, err error) {
	if c == nil {
		panic("HandleInvalidInputError: c is nil")
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	erx := SanitizeString(err.Error())
	zap.S().Debugw(
		"Invalid input error",
		"error", erx,
	)

	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: erx})
}

// HandleNotFound reports a missing puzzle. It is a client error like invalid input.
func HandleNotFound(c *gin.Context, err error) {
	if c == nil {
		panic("HandleNotFound: c is nil")
	}
	erx := SanitizeString(err.Error())
	zap.S().Debugw(
		"Not found",
		"error", erx,
		"route", c.FullPath(),
	)

	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: erx})
}
