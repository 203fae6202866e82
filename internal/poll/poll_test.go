package poll

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not finish")
	}
}

func TestPoller_StopsWhenCheckReportsDone(t *testing.T) {
	p := New(5*time.Millisecond, time.Minute)
	statuses := []string{"PENDING", "PENDING", "PAID"}
	var calls atomic.Int32

	h := p.Start(context.Background(), func(context.Context) bool {
		n := calls.Add(1)
		return statuses[n-1] == "PAID"
	}, nil)
	waitDone(t, h)

	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, p.State().IsPolling)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no checks after completion")
}

func TestPoller_FirstCheckIsImmediate(t *testing.T) {
	p := New(time.Hour, 2*time.Hour)
	checked := make(chan struct{}, 1)

	h := p.Start(context.Background(), func(context.Context) bool {
		checked <- struct{}{}
		return false
	}, nil)
	defer h.Stop()

	select {
	case <-checked:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate check")
	}
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	p := New(10*time.Millisecond, time.Minute)
	var loops atomic.Int32

	check := func(context.Context) bool { return false }
	first := p.Start(context.Background(), func(ctx context.Context) bool {
		loops.Add(1)
		return check(ctx)
	}, nil)
	second := p.Start(context.Background(), func(context.Context) bool {
		t.Error("second loop must not run")
		return true
	}, nil)

	assert.Same(t, first, second)
	first.Stop()
	waitDone(t, first)
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	p := New(5*time.Millisecond, time.Minute)
	h := p.Start(context.Background(), func(context.Context) bool { return false }, nil)

	h.Stop()
	h.Stop()
	p.Stop()
	waitDone(t, h)
	assert.False(t, h.Active())
}

func TestPoller_CeilingTriggersTimeout(t *testing.T) {
	p := New(5*time.Millisecond, 30*time.Millisecond)
	var timedOut atomic.Bool

	h := p.Start(context.Background(), func(context.Context) bool { return false }, func() {
		timedOut.Store(true)
	})
	waitDone(t, h)

	assert.True(t, timedOut.Load())
}

func TestPoller_StopDoesNotTriggerTimeout(t *testing.T) {
	p := New(5*time.Millisecond, 50*time.Millisecond)
	var timedOut atomic.Bool

	h := p.Start(context.Background(), func(context.Context) bool { return false }, func() {
		timedOut.Store(true)
	})
	h.Stop()
	waitDone(t, h)

	assert.False(t, timedOut.Load())
}

func TestPoller_RestartAfterCompletion(t *testing.T) {
	p := New(5*time.Millisecond, time.Minute)
	first := p.Start(context.Background(), func(context.Context) bool { return true }, nil)
	waitDone(t, first)

	second := p.Start(context.Background(), func(context.Context) bool { return true }, nil)
	require.NotSame(t, first, second)
	waitDone(t, second)
}
