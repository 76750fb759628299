package app

import (
	"context"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Shutdown performs graceful shutdown of all components.
// It stops the application in the following order:
//  1. Cancels the application context and waits for polling to end
//  2. Stops housekeeping
//  3. Stops the metrics endpoint
//  4. Stops the scheduler, letting in-flight fires finish
//  5. Closes the job store
//
// Shutdown releases whatever Initialize managed to build, so it is also
// safe after a failed start. Calling it twice is a no-op.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.shutdownInternal()
}

func (a *App) shutdownInternal() error {
	if a.cancel == nil {
		return nil
	}
	a.logger.Info("shutting down")

	a.cancel()
	a.cancel = nil

	if a.done != nil {
		<-a.done
		a.done = nil
	}

	if a.housekeeping != nil {
		a.housekeeping.Stop()
		a.housekeeping = nil
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics server", err)
		}
		cancel()
		a.metricsServer = nil
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	var storeErr error
	if a.store != nil {
		if storeErr = a.store.Close(); storeErr != nil {
			a.logger.Error("failed to close job store", storeErr)
		}
		a.store = nil
	}

	a.started = false
	a.logger.Info("application shutdown complete")

	return storeErr
}
