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

package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httptestBasicServer(gs GracefulShutdownHandler) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if gs.ShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		// Triggers the execution of the onShutdown passed to NewGracefulShutdown.
		gs.Shutdown()
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func Test_NewGracefulShutdown(t *testing.T) {
	var reqWg sync.WaitGroup // To wait for all requests to complete before closing the server.
	var testSrv *httptest.Server

	// Only close the httptest server after a /shutdown request is made,
	// which initiates the graceful shutdown.
	gs := NewGracefulShutdown(FiveSeconds, func(ctx context.Context) error {
		reqWg.Wait()
		testSrv.Close()
		return nil
	})

	testSrv = httptestBasicServer(gs)
	healthRoute := fmt.Sprintf("%s/health", testSrv.URL)
	shutdownRoute := fmt.Sprintf("%s/shutdown", testSrv.URL)

	// Order of requests is important.
	tcs := []struct {
		url                string
		expectedStatusCode int
	}{
		{healthRoute, http.StatusOK},                 // Server is up during initial request.
		{shutdownRoute, http.StatusOK},               // Request to /shutdown calls gs.Shutdown()
		{healthRoute, http.StatusServiceUnavailable}, // After shutdown request, a 503 is expected.
	}

	reqWg.Add(len(tcs))
	for i, tc := range tcs {
		name := fmt.Sprintf("test request %d %s", i, tc.url)
		t.Run(name, func(t *testing.T) {
			defer reqWg.Done()
			if tc.expectedStatusCode == http.StatusServiceUnavailable {
				require.Eventually(t, gs.ShuttingDown, FiveSeconds, 10*time.Millisecond)
			}

			res, err := http.Get(tc.url)
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.expectedStatusCode, res.StatusCode)
		})
	}

	gs.Wait()
	assert.NoError(t, gs.Err())
}

func TestGracefulShutdownTimeout(t *testing.T) {
	gs := NewGracefulShutdown(50*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	gs.Shutdown()
	// a second request while shutting down is ignored
	gs.Shutdown()
	gs.Wait()

	assert.True(t, gs.ShuttingDown())
	assert.True(t, errors.Is(gs.Err(), context.DeadlineExceeded))
}
