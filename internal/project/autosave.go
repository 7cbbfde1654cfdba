package project

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Autosaver periodically calls a save function while running
type Autosaver struct {
	mu       sync.Mutex
	interval time.Duration
	save     func(ctx context.Context) error
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
	saves    int
	logger   *slog.Logger
}

// NewAutosaver creates an autosaver that calls save every interval
func NewAutosaver(interval time.Duration, save func(ctx context.Context) error, logger *slog.Logger) *Autosaver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Autosaver{
		interval: interval,
		save:     save,
		logger:   logger.With("component", "autosave"),
	}
}

// Start begins saving until ctx is done or Stop is called. A non-positive
// interval disables autosave.
func (a *Autosaver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running || a.interval <= 0 {
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})

	go a.loop(ctx, a.stopCh, a.done)
	a.logger.Info("Autosave started", "interval", a.interval)
}

// Stop ends the loop and waits for an in-flight save
func (a *Autosaver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	close(a.stopCh)
	a.running = false
	done := a.done
	a.mu.Unlock()

	<-done
}

// Saves returns how many saves succeeded
func (a *Autosaver) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

func (a *Autosaver) loop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := a.save(ctx); err != nil {
				a.logger.Error("Autosave failed", "error", err)
				continue
			}
			a.mu.Lock()
			a.saves++
			a.mu.Unlock()
		}
	}
}
