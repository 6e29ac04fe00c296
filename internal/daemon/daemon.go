// Package daemon supervises long running background tasks.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DaemonFunc is the work of a daemon. It runs until ctx is done; a returned
// error restarts it after the restart delay.
type DaemonFunc func(ctx context.Context, name string) error

type Option func(*DaemonManager)

// WithRestartDelay sets how long a crashed daemon waits before restarting.
func WithRestartDelay(d time.Duration) Option {
	return func(m *DaemonManager) {
		m.restartDelay = d
	}
}

// DaemonManager supervises multiple daemons.
type DaemonManager struct {
	daemons      map[string]DaemonFunc
	wg           sync.WaitGroup
	logger       *slog.Logger
	restartDelay time.Duration
}

func NewDaemonManager(logger *slog.Logger, opts ...Option) *DaemonManager {
	m := &DaemonManager{
		daemons:      make(map[string]DaemonFunc),
		logger:       logger.With("component", "daemon"),
		restartDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers a daemon by name. Adding after Start has no effect.
func (m *DaemonManager) Add(name string, fn DaemonFunc) {
	m.daemons[name] = fn
}

// Start runs all daemons and restarts them if they crash.
func (m *DaemonManager) Start(ctx context.Context) {
	for name, fn := range m.daemons {
		m.wg.Add(1)
		go m.runDaemon(ctx, name, fn)
	}
}

// Wait blocks until all daemons have stopped.
func (m *DaemonManager) Wait() {
	m.wg.Wait()
}

func (m *DaemonManager) runDaemon(ctx context.Context, name string, fn DaemonFunc) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			m.logger.Info("Daemon received shutdown signal", "daemon", name)
			return
		}

		err := m.call(ctx, name, fn)
		if err == nil {
			m.logger.Info("Daemon exited cleanly", "daemon", name)
			return
		}
		m.logger.Error("Daemon crashed, restarting", "daemon", name, "error", err, "delay", m.restartDelay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.restartDelay):
		}
	}
}

// call runs fn and turns a panic into a crash.
func (m *DaemonManager) call(ctx context.Context, name string, fn DaemonFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(ctx, name)
}

type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("daemon panicked: %v", e.Value)
}

// Every runs task on each tick of interval until ctx is done. A failing tick
// is logged and the loop continues.
func Every(interval time.Duration, logger *slog.Logger, task func(ctx context.Context) error) DaemonFunc {
	return func(ctx context.Context, name string) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("Daemon shutting down", "daemon", name)
				return nil
			case <-ticker.C:
				if err := task(ctx); err != nil {
					logger.ErrorContext(ctx, "Daemon tick failed", "daemon", name, "error", err)
				}
			}
		}
	}
}
