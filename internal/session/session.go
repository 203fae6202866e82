// Package session tracks one checkout session per payment link.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/redis"
)

// Session is the stored record. ExpiresAt is CreatedAt plus the tracker TTL.
type Session struct {
	SessionID string    `json:"sessionId"`
	PaymentID string    `json:"paymentId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the subset of the redis client the tracker needs.
type Store interface {
	PutSession(ctx context.Context, paymentID string, record []byte, ttl time.Duration) error
	GetSession(ctx context.Context, paymentID string) ([]byte, error)
	DeleteSession(ctx context.Context, paymentID string) error
}

type Tracker struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *zerolog.Logger
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

func NewTracker(store Store, ttl time.Duration, logger *zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create mints a fresh session for paymentID, replacing any existing one.
func (t *Tracker) Create(ctx context.Context, paymentID string) (Session, error) {
	now := t.now().UTC()
	s := Session{
		SessionID: t.newID(),
		PaymentID: paymentID,
		CreatedAt: now,
		ExpiresAt: now.Add(t.ttl),
	}

	record, err := json.Marshal(s)
	if err != nil {
		return Session{}, err
	}
	if err := t.store.PutSession(ctx, paymentID, record, t.ttl); err != nil {
		return Session{}, err
	}

	t.logger.Debug().
		Str("payment_id", paymentID).
		Str("session_id", s.SessionID).
		Time("expires_at", s.ExpiresAt).
		Msg("checkout session created")

	return s, nil
}

// Get returns the live session for paymentID. Expired or unreadable records
// are reported as not found.
func (t *Tracker) Get(ctx context.Context, paymentID string) (Session, bool) {
	record, err := t.store.GetSession(ctx, paymentID)
	if err != nil {
		if !errors.Is(err, redis.ErrSessionNotFound) {
			t.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("failed to read checkout session")
		}
		return Session{}, false
	}

	var s Session
	if err := json.Unmarshal(record, &s); err != nil {
		t.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("discarding malformed checkout session")
		return Session{}, false
	}

	if !t.now().Before(s.ExpiresAt) {
		return Session{}, false
	}
	return s, true
}

// Validate reports whether a live session exists for paymentID.
func (t *Tracker) Validate(ctx context.Context, paymentID string) bool {
	_, ok := t.Get(ctx, paymentID)
	return ok
}

// Ensure returns the live session or creates one.
func (t *Tracker) Ensure(ctx context.Context, paymentID string) (Session, error) {
	if s, ok := t.Get(ctx, paymentID); ok {
		return s, nil
	}
	return t.Create(ctx, paymentID)
}

func (t *Tracker) Clear(ctx context.Context, paymentID string) error {
	return t.store.DeleteSession(ctx, paymentID)
}
