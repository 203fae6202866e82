package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Niiaks/Chainpaye/internal/events"
	"github.com/Niiaks/Chainpaye/internal/model"
	"github.com/Niiaks/Chainpaye/internal/receipt"
)

// Service keeps at most one live machine per payment id.
type Service struct {
	deps    *Dependencies
	baseCtx context.Context

	mu       sync.Mutex
	machines map[string]*Machine
}

// NewService binds polling to baseCtx; cancelling it stops every loop.
func NewService(baseCtx context.Context, deps *Dependencies) *Service {
	deps.setDefaults()
	return &Service{
		deps:     deps,
		baseCtx:  baseCtx,
		machines: make(map[string]*Machine),
	}
}

// Open returns the machine for paymentID, creating and loading it on first
// use. A load failure leaves the machine on the error step and is returned.
func (s *Service) Open(ctx context.Context, paymentID string) (*Machine, error) {
	s.mu.Lock()
	m, ok := s.machines[paymentID]
	if !ok {
		m = NewMachine(s.baseCtx, paymentID, s.deps)
		s.machines[paymentID] = m
	}
	s.mu.Unlock()

	if ok {
		return m, nil
	}

	m.track(ctx, events.PageView, nil)
	return m, m.Load(ctx, false)
}

func (s *Service) Get(paymentID string) (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[paymentID]
	if !ok {
		return nil, newError(KindNotFound, "This checkout is not open. Please reload the payment page.", nil)
	}
	return m, nil
}

// Receipt returns the receipt of a successful checkout, from the live machine
// or, failing that, from the receipt store.
func (s *Service) Receipt(ctx context.Context, paymentID string) (*model.Receipt, error) {
	if m, err := s.Get(paymentID); err == nil {
		if r, ok := m.Receipt(); ok {
			return r, nil
		}
	}

	if finder, ok := s.deps.Receipts.(ReceiptFinder); ok {
		r, err := finder.GetByPaymentID(ctx, paymentID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, receipt.ErrNotFound) {
			s.deps.Logger.Error().Err(err).Str("payment_id", paymentID).Msg("failed to load receipt")
		}
	}
	return nil, precondition("The receipt is available once your payment is confirmed.")
}

// Close stops the machine's polling and forgets it.
func (s *Service) Close(paymentID string) {
	s.mu.Lock()
	m, ok := s.machines[paymentID]
	delete(s.machines, paymentID)
	s.mu.Unlock()

	if ok {
		m.Close()
	}
}

// ObserveStatus forwards an out-of-band status to the open checkout, if any.
func (s *Service) ObserveStatus(ctx context.Context, paymentID, reference, state string) bool {
	m, err := s.Get(paymentID)
	if err != nil {
		return false
	}
	return m.ObserveStatus(ctx, reference, state)
}

// Evict closes machines that are not verifying and have been idle for
// longer than maxIdle. It returns how many were removed.
func (s *Service) Evict(maxIdle time.Duration) int {
	cutoff := s.deps.Now().Add(-maxIdle)

	s.mu.Lock()
	var stale []*Machine
	for id, m := range s.machines {
		touched, step := m.idleSince()
		if step == StepVerifying || touched.After(cutoff) {
			continue
		}
		stale = append(stale, m)
		delete(s.machines, id)
	}
	s.mu.Unlock()

	for _, m := range stale {
		m.Close()
	}
	return len(stale)
}

// Run evicts idle machines every interval and closes everything when ctx ends.
func (s *Service) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			if n := s.Evict(maxIdle); n > 0 {
				s.deps.Logger.Debug().Int("evicted", n).Msg("evicted idle checkouts")
			}
		}
	}
}

func (s *Service) Shutdown() {
	s.mu.Lock()
	machines := s.machines
	s.machines = make(map[string]*Machine)
	s.mu.Unlock()

	for _, m := range machines {
		m.Close()
	}
}
