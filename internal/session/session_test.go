package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Chainpaye/internal/redis"
)

type memoryStore struct {
	records map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) PutSession(_ context.Context, paymentID string, record []byte, ttl time.Duration) error {
	m.records[paymentID] = record
	m.ttls[paymentID] = ttl
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, paymentID string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.records[paymentID]
	if !ok {
		return nil, redis.ErrSessionNotFound
	}
	return r, nil
}

func (m *memoryStore) DeleteSession(_ context.Context, paymentID string) error {
	delete(m.records, paymentID)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTracker(store Store) (*Tracker, *clock) {
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	log := zerolog.Nop()
	ids := 0
	tr := NewTracker(store, 30*time.Minute, &log,
		WithClock(c.Now),
		WithIDGenerator(func() string {
			ids++
			return "session-" + string(rune('0'+ids))
		}),
	)
	return tr, c
}

func TestTracker_CreateThenValidate(t *testing.T) {
	store := newMemoryStore()
	tr, _ := newTracker(store)

	s, err := tr.Create(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, "session-1", s.SessionID)
	assert.Equal(t, s.CreatedAt.Add(30*time.Minute), s.ExpiresAt)
	assert.Equal(t, 30*time.Minute, store.ttls["abc"])
	assert.True(t, tr.Validate(context.Background(), "abc"))
}

func TestTracker_ExpiredSessionIsInvalid(t *testing.T) {
	tr, c := newTracker(newMemoryStore())
	_, err := tr.Create(context.Background(), "abc")
	require.NoError(t, err)

	c.t = c.t.Add(30 * time.Minute)
	assert.False(t, tr.Validate(context.Background(), "abc"))
}

func TestTracker_EnsureReusesLiveSession(t *testing.T) {
	tr, c := newTracker(newMemoryStore())
	first, err := tr.Ensure(context.Background(), "abc")
	require.NoError(t, err)

	c.t = c.t.Add(10 * time.Minute)
	again, err := tr.Ensure(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, again.SessionID)

	c.t = c.t.Add(25 * time.Minute)
	fresh, err := tr.Ensure(context.Background(), "abc")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, fresh.SessionID)
}

func TestTracker_Clear(t *testing.T) {
	tr, _ := newTracker(newMemoryStore())
	_, err := tr.Create(context.Background(), "abc")
	require.NoError(t, err)

	require.NoError(t, tr.Clear(context.Background(), "abc"))
	assert.False(t, tr.Validate(context.Background(), "abc"))
}

func TestTracker_MalformedOrFailingStoreIsInvalid(t *testing.T) {
	store := newMemoryStore()
	tr, _ := newTracker(store)

	store.records["abc"] = []byte("{not json")
	assert.False(t, tr.Validate(context.Background(), "abc"))

	store.getErr = errors.New("connection refused")
	assert.False(t, tr.Validate(context.Background(), "abc"))
}
