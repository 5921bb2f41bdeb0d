package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically re-checks the guard so consumers can react to a
// session drifting into the refresh window without issuing a request.
type Monitor struct {
	guard *Guard

	// OnStatus is called after every check with the observed status.
	OnStatus func(Status)
	// AutoRefresh makes the monitor call EnsureValidToken when a refresh is due.
	AutoRefresh bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped monitor for guard.
func NewMonitor(guard *Guard) *Monitor {
	return &Monitor{guard: guard}
}

// Start begins polling every interval. A running poll loop is stopped first,
// so Start may be called repeatedly.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRecheckInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(loopCtx, interval, done)
}

// Stop halts polling and waits for the loop to exit. It is safe to call on a
// stopped monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Running reports whether a poll loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Run polls until ctx is cancelled. It is meant for errgroup-style callers
// that own the goroutine.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.Start(ctx, interval)
	<-ctx.Done()
	m.Stop()
}

func (m *Monitor) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

func (m *Monitor) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	log.Debug().Dur("interval", interval).Msg("starting session monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("session monitor stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	status := m.guard.CheckAuth(ctx)
	if m.AutoRefresh && status.NeedsRefresh && status.State != StateRefreshing {
		m.guard.EnsureValidToken(ctx)
		status = m.guard.CheckAuth(ctx)
	}
	if m.OnStatus != nil {
		m.OnStatus(status)
	}
}
