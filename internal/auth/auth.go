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

// Package auth gates the API behind API keys.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/united-manufacturing-hub/chess-puzzles/internal/storage"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

const (
	// APIKeyHeader carries the key directly
	APIKeyHeader = "x-api-key"
	bearerPrefix = "Bearer "

	// ContextKeyAPIKey holds the masked key of an authenticated request
	ContextKeyAPIKey = "apiKey"

	maxAccounts = 100
)

const (
	missingKeyMessage  = "Unauthorized. API key required in 'x-api-key' header or 'Authorization: Bearer <key>' header"
	invalidKeyMessage  = "Forbidden. Invalid API key"
	internalErrMessage = "Internal server error"
)

const (
	selectActiveKey = `SELECT id FROM api_keys WHERE api_key = $1 AND is_active = TRUE`
	touchKey        = `UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE api_key = $1`
)

var rejectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "puzzles_auth_rejected_total",
		Help: "Requests rejected by the API key check",
	},
	[]string{"reason"},
)

// Validator decides whether a candidate API key may use the API
type Validator interface {
	Validate(ctx context.Context, candidate string) (bool, error)
}

// SQLValidator checks keys against the api_keys table and records their last use
type SQLValidator struct {
	db storage.Querier
}

func NewSQLValidator(db storage.Querier) *SQLValidator {
	return &SQLValidator{db: db}
}

func (v *SQLValidator) Validate(ctx context.Context, candidate string) (bool, error) {
	var id int64
	err := v.db.QueryRow(ctx, selectActiveKey, candidate).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		storage.ErrorHandling(selectActiveKey, err)
		return false, err
	}

	if _, err = v.db.Exec(ctx, touchKey, candidate); err != nil {
		storage.ErrorHandling(touchKey, err)
		return false, err
	}
	return true, nil
}

// AccountsValidator accepts a fixed set of keys
type AccountsValidator struct {
	keys map[string]struct{}
}

func NewAccountsValidator(keys ...string) *AccountsValidator {
	v := &AccountsValidator{keys: make(map[string]struct{}, len(keys))}
	for _, key := range keys {
		if key == "" {
			continue
		}
		v.keys[key] = struct{}{}
	}
	return v
}

// AccountsFromEnv loads the keys API_KEY_1 to API_KEY_100
func AccountsFromEnv() (*AccountsValidator, error) {
	keys := make([]string, 0)
	for i := 1; i <= maxAccounts; i++ {
		key, err := env.GetAsString("API_KEY_"+strconv.Itoa(i), false, "")
		if err != nil {
			return nil, err
		}
		if key != "" {
			zap.S().Infof("Added API key %d (%s)", i, MaskKey(key))
			keys = append(keys, key)
		}
	}
	return NewAccountsValidator(keys...), nil
}

func (v *AccountsValidator) Validate(_ context.Context, candidate string) (bool, error) {
	_, ok := v.keys[candidate]
	return ok, nil
}

// Len is the number of accepted keys
func (v *AccountsValidator) Len() int {
	return len(v.keys)
}

// MaskKey keeps the first five characters of a key for logging
func MaskKey(key string) string {
	runes := []rune(key)
	if len(runes) > 5 {
		runes = runes[:5]
	}
	return string(runes) + "***"
}

// ExtractKey reads the key from the x-api-key header, falling back to a bearer token
func ExtractKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if authorization := r.Header.Get("Authorization"); strings.HasPrefix(authorization, bearerPrefix) {
		return authorization[len(bearerPrefix):]
	}
	return ""
}

// Middleware rejects requests without a valid API key
func Middleware(validator Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ExtractKey(c.Request)
		if key == "" {
			zap.S().Warnw("Request without API key", "path", c.Request.URL.Path)
			rejectedTotal.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": missingKeyMessage})
			return
		}

		valid, err := validator.Validate(c.Request.Context(), key)
		if err != nil {
			zap.S().Errorw("Error validating API key", "error", err)
			rejectedTotal.WithLabelValues("error").Inc()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}
		if !valid {
			zap.S().Warnw("Invalid or inactive API key", "apiKey", MaskKey(key))
			rejectedTotal.WithLabelValues("invalid").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": invalidKeyMessage})
			return
		}

		c.Set(ContextKeyAPIKey, MaskKey(key))
		c.Next()
	}
}
