// Package poll runs a cancellable check-sleep-check loop with a hard ceiling.
package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports true once polling should stop.
type CheckFunc func(ctx context.Context) (done bool)

// State mirrors what a caller needs to render: whether a loop is live and since when.
type State struct {
	IsPolling bool      `json:"is_polling"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

type Handle struct {
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	stopOnce  sync.Once
	stopped   atomic.Bool
}

// Stop cancels the loop. Safe to call any number of times, from any goroutine,
// including from inside the check itself.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.cancel()
	})
}

// Done is closed once the loop goroutine has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Active() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Poller owns at most one live loop at a time.
type Poller struct {
	interval time.Duration
	ceiling  time.Duration

	mu      sync.Mutex
	current *Handle
}

func New(interval, ceiling time.Duration) *Poller {
	return &Poller{
		interval: interval,
		ceiling:  ceiling,
	}
}

// Start checks immediately, then every interval, until check returns true,
// the handle is stopped, ctx ends, or the ceiling passes. onTimeout runs only
// in the last case. If a loop is already live its handle is returned and no
// second loop is started.
func (p *Poller) Start(ctx context.Context, check CheckFunc, onTimeout func()) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Active() {
		return p.current
	}

	loopCtx, cancel := context.WithTimeout(ctx, p.ceiling)
	h := &Handle{
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	p.current = h

	go p.run(loopCtx, h, check, onTimeout)

	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, check CheckFunc, onTimeout func()) {
	defer close(h.done)
	defer h.cancel()

	if check(ctx) {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !h.stopped.Load() && onTimeout != nil {
				onTimeout()
			}
			return
		case <-ticker.C:
			if ctx.Err() != nil || h.stopped.Load() {
				continue
			}
			if check(ctx) {
				return
			}
		}
	}
}

// Stop cancels the live loop, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	h := p.current
	p.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || !p.current.Active() {
		return State{}
	}
	return State{IsPolling: true, StartedAt: p.current.startedAt}
}
