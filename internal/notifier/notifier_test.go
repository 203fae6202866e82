package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/redis"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) NotifySuccess(ctx context.Context, successURL string, event *types.CheckoutCompletedEvent, timeout time.Duration) error {
	return m.Called(ctx, successURL, event, timeout).Error(0)
}

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error) {
	args := m.Called(ctx, key, ttl)
	stored, _ := args.Get(0).([]byte)
	return stored, args.Error(1)
}

func (m *mockGuard) MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return m.Called(ctx, key, response, ttl).Error(0)
}

func (m *mockGuard) MarkIdempotencyFailed(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func (m *mockPublisher) PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	return m.Called(ctx, topic, key, value, headers).Error(0)
}

type fakeLock struct {
	err      error
	acquired []string
	released int
}

func (f *fakeLock) lock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired = append(f.acquired, key)
	return func(context.Context) error {
		f.released++
		return nil
	}, nil
}

var testCfg = Config{Timeout: 8 * time.Second, LockTTL: 10 * time.Second, IdempotencyTTL: 24 * time.Hour}

func message(t *testing.T, event types.CheckoutCompletedEvent) *kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &kafka.Message{
		Topic:   kafka.TopicCheckoutCompleted,
		Key:     []byte(event.PaymentID),
		Value:   value,
		Headers: map[string]string{"correlation_id": "c-1"},
	}
}

func completed() types.CheckoutCompletedEvent {
	return types.CheckoutCompletedEvent{
		PaymentID:  "abc",
		Reference:  "tx-123",
		Currency:   "NGN",
		SuccessURL: "https://merchant.example.com/paid",
	}
}

func TestHandle_Delivers(t *testing.T) {
	sender := &mockSender{}
	guard := &mockGuard{}
	lock := &fakeLock{}
	logger := zerolog.Nop()

	guard.On("CheckAndSetIdempotency", mock.Anything, "notify:abc", testCfg.IdempotencyTTL).Return(nil, nil).Once()
	sender.On("NotifySuccess", mock.Anything, "https://merchant.example.com/paid", mock.MatchedBy(func(e *types.CheckoutCompletedEvent) bool {
		return e.PaymentID == "abc" && e.Reference == "tx-123"
	}), 8*time.Second).Return(nil).Once()
	guard.On("MarkIdempotencyComplete", mock.Anything, "notify:abc", deliveredMarker, testCfg.IdempotencyTTL).Return(nil).Once()

	n := New(sender, guard, lock.lock, testCfg, &logger)
	require.NoError(t, n.Handle(context.Background(), message(t, completed())))

	assert.Equal(t, []string{"notify:abc"}, lock.acquired)
	assert.Equal(t, 1, lock.released)
	sender.AssertExpectations(t)
	guard.AssertExpectations(t)
}

func TestHandle_SkipsWithoutSuccessURL(t *testing.T) {
	sender := &mockSender{}
	guard := &mockGuard{}
	lock := &fakeLock{}
	logger := zerolog.Nop()

	event := completed()
	event.SuccessURL = ""
	n := New(sender, guard, lock.lock, testCfg, &logger)
	require.NoError(t, n.Handle(context.Background(), message(t, event)))

	assert.Empty(t, lock.acquired)
	sender.AssertNotCalled(t, "NotifySuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_SkipsAlreadyDelivered(t *testing.T) {
	sender := &mockSender{}
	guard := &mockGuard{}
	lock := &fakeLock{}
	logger := zerolog.Nop()

	guard.On("CheckAndSetIdempotency", mock.Anything, "notify:abc", testCfg.IdempotencyTTL).Return(deliveredMarker, nil).Once()

	n := New(sender, guard, lock.lock, testCfg, &logger)
	require.NoError(t, n.Handle(context.Background(), message(t, completed())))

	sender.AssertNotCalled(t, "NotifySuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, lock.released)
}

func TestHandle_FailureReleasesKeyAndRetries(t *testing.T) {
	sender := &mockSender{}
	guard := &mockGuard{}
	lock := &fakeLock{}
	logger := zerolog.Nop()
	boom := errors.New("merchant returned 500")

	guard.On("CheckAndSetIdempotency", mock.Anything, "notify:abc", testCfg.IdempotencyTTL).Return(nil, nil).Once()
	sender.On("NotifySuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(boom).Once()
	guard.On("MarkIdempotencyFailed", mock.Anything, "notify:abc").Return(nil).Once()

	n := New(sender, guard, lock.lock, testCfg, &logger)
	err := n.Handle(context.Background(), message(t, completed()))

	assert.ErrorIs(t, err, boom)
	guard.AssertExpectations(t)
}

func TestHandle_LockHeld(t *testing.T) {
	sender := &mockSender{}
	guard := &mockGuard{}
	lock := &fakeLock{err: redis.ErrLockHeld}
	logger := zerolog.Nop()

	n := New(sender, guard, lock.lock, testCfg, &logger)
	err := n.Handle(context.Background(), message(t, completed()))

	assert.ErrorIs(t, err, redis.ErrLockHeld)
	guard.AssertNotCalled(t, "CheckAndSetIdempotency", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_MalformedIsDropped(t *testing.T) {
	logger := zerolog.Nop()
	n := New(&mockSender{}, &mockGuard{}, (&fakeLock{}).lock, testCfg, &logger)

	err := n.Handle(context.Background(), &kafka.Message{Value: []byte("{not json")})
	assert.NoError(t, err)
}

func TestDeadLetter(t *testing.T) {
	pub := &mockPublisher{}
	logger := zerolog.Nop()
	msg := &kafka.Message{
		Topic:   kafka.TopicCheckoutCompleted,
		Key:     []byte("abc"),
		Value:   []byte(`{"payment_id":"abc"}`),
		Headers: map[string]string{"correlation_id": "c-1"},
	}

	pub.On("PublishWithHeaders", mock.Anything, kafka.TopicDLQ, msg.Key, msg.Value, map[string]string{
		"correlation_id": "c-1",
		"source_topic":   kafka.TopicCheckoutCompleted,
		"error":          "gave up",
	}).Return(nil).Once()

	DeadLetter(pub, &logger)(context.Background(), msg, errors.New("gave up"))
	pub.AssertExpectations(t)
}
