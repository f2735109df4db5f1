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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type GracefulShutdownHandler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
	Err() error         // Error returned by the shutdown tasks, valid after Wait.
}

type gracefulShutdown struct {
	quit         chan os.Signal // Receives SIGTERM/SIGINT or a programmatic shutdown.
	shuttingDown chan struct{}  // Closed once a shutdown started.
	once         sync.Once
	wg           sync.WaitGroup // Waits until all shutdown tasks are complete.
	err          error
}

// NewGracefulShutdown runs onShutdown once SIGINT or SIGTERM is received or Shutdown is called.
// onShutdown gets a context that expires after timeout; the caller decides whether to exit
// after Wait returns.
func NewGracefulShutdown(timeout time.Duration, onShutdown func(ctx context.Context) error) GracefulShutdownHandler {
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan struct{}),
	}
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)
	gs.wg.Add(1)

	go func() {
		defer gs.wg.Done()
		// Kubernetes sends SIGTERM 30 seconds before
		// shutting down the pod.
		sig := <-gs.quit
		signal.Stop(gs.quit)
		gs.markShuttingDown()
		zap.S().Infow("Received signal, shutting down", "signal", sig.String())

		if onShutdown == nil {
			return
		}
		zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", timeout)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.err = onShutdown(ctx)
		if gs.err != nil {
			zap.S().Errorw("Error during shutdown", "error", gs.err)
			return
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
	}()

	return gs
}

func (gs *gracefulShutdown) markShuttingDown() {
	gs.once.Do(func() {
		close(gs.shuttingDown)
	})
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	// The channel holds one signal, a second request is dropped
	select {
	case gs.quit <- syscall.SIGTERM:
	default:
	}
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}

func (gs *gracefulShutdown) Err() error {
	return gs.err
}
