package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Chainpaye/internal/events"
	"github.com/Niiaks/Chainpaye/internal/model"
	"github.com/Niiaks/Chainpaye/internal/receipt"
)

type storedReceipts struct {
	mockReceipts
	byID map[string]*model.Receipt
}

func (s *storedReceipts) GetByPaymentID(_ context.Context, paymentID string) (*model.Receipt, error) {
	if r, ok := s.byID[paymentID]; ok {
		return r, nil
	}
	return nil, receipt.ErrNotFound
}

func TestService_OpenReusesMachine(t *testing.T) {
	f := newFixture(linkResult{link: ngnLink()})
	svc := NewService(context.Background(), f.deps)
	defer svc.Shutdown()

	first, err := svc.Open(context.Background(), "abc")
	require.NoError(t, err)
	second, err := svc.Open(context.Background(), "abc")
	require.NoError(t, err)

	assert.Same(t, first, second)
	links, _, _ := f.backend.calls()
	assert.Equal(t, 1, links)
	assert.True(t, f.reporter.tracked(events.PageView))
}

func TestService_ConcurrentOpenLoadsOnce(t *testing.T) {
	f := newFixture(linkResult{link: ngnLink()})
	svc := NewService(context.Background(), f.deps)
	defer svc.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Open(context.Background(), "abc")
		}()
	}
	wg.Wait()

	links, _, _ := f.backend.calls()
	assert.Equal(t, 1, links)
}

func TestService_ObserveStatusWithoutCheckout(t *testing.T) {
	f := newFixture(linkResult{link: ngnLink()})
	svc := NewService(context.Background(), f.deps)

	assert.False(t, svc.ObserveStatus(context.Background(), "abc", "", "PAID"))
}

func TestService_EvictIdleMachines(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(linkResult{link: ngnLink()})
	f.deps.Now = func() time.Time { return now }
	svc := NewService(context.Background(), f.deps)
	defer svc.Shutdown()

	_, err := svc.Open(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, 0, svc.Evict(time.Hour))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, svc.Evict(time.Hour))

	_, err = svc.Get("abc")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestService_EvictKeepsVerifying(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(linkResult{link: ngnLink()})
	f.deps.Now = func() time.Time { return now }
	f.deps.Config.PollInterval = time.Hour
	f.deps.Config.PollCeiling = 2 * time.Hour
	svc := NewService(context.Background(), f.deps)
	defer svc.Shutdown()

	m, err := svc.Open(context.Background(), "abc")
	require.NoError(t, err)
	_, err = m.UpdateSender(validSender())
	require.NoError(t, err)
	_, err = m.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.ConfirmSent(context.Background()))

	now = now.Add(3 * time.Hour)
	assert.Equal(t, 0, svc.Evict(time.Hour))
}

func TestService_ReceiptFallsBackToStore(t *testing.T) {
	f := newFixture(linkResult{link: ngnLink()})
	f.deps.Receipts = &storedReceipts{byID: map[string]*model.Receipt{
		"old": {PaymentID: "old", Reference: "tx-old", Currency: "NGN"},
	}}
	svc := NewService(context.Background(), f.deps)

	r, err := svc.Receipt(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "tx-old", r.Reference)

	_, err = svc.Receipt(context.Background(), "missing")
	assert.Equal(t, KindPrecondition, KindOf(err))
}

func TestService_CloseDuringSubmissionLeavesNoPoller(t *testing.T) {
	f := newFixture(linkResult{link: ngnLink()})
	svc := NewService(context.Background(), f.deps)
	t.Cleanup(svc.Shutdown)

	m, err := svc.Open(context.Background(), "abc")
	require.NoError(t, err)
	_, err = m.UpdateSender(validSender())
	require.NoError(t, err)
	_, err = m.Next(context.Background())
	require.NoError(t, err)

	release := confirmInBackground(t, f, m)
	svc.Close("abc")
	require.Error(t, release())

	_, err = svc.Get("abc")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.False(t, m.Snapshot().Polling.IsPolling)
}
