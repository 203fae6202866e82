package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/model"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func (m *mockPublisher) PublishWithHeaders(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	return m.Called(ctx, topic, key, value, headers).Error(0)
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	pending   []model.CheckoutOutbox
	execs     []execCall
	committed bool
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (tx *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{rows: tx.db.pending, i: -1}, nil
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.execs = append(tx.db.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.db.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	return nil
}

type fakeRows struct {
	pgx.Rows
	rows []model.CheckoutOutbox
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	e := r.rows[r.i]
	*dest[0].(*int64) = e.ID
	*dest[1].(*string) = e.EventType
	*dest[2].(*json.RawMessage) = e.Payload
	*dest[3].(*string) = e.PartitionKey
	*dest[4].(*uuid.UUID) = e.CorrelationID
	*dest[5].(*int) = e.RetryCount
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func pendingRow(id int64, paymentID string, retries int) model.CheckoutOutbox {
	return model.CheckoutOutbox{
		ID:            id,
		EventType:     kafka.EventCheckoutCompleted,
		Payload:       json.RawMessage(`{"payment_id":"` + paymentID + `"}`),
		PartitionKey:  paymentID,
		CorrelationID: uuid.New(),
		RetryCount:    retries,
	}
}

func newTestRelay(db *fakeDB, pub *mockPublisher) *Relay {
	log := zerolog.Nop()
	return NewRelay(db, pub, &log, 0)
}

func (db *fakeDB) updates(fragment string) []execCall {
	var out []execCall
	for _, e := range db.execs {
		if strings.Contains(e.sql, fragment) {
			out = append(out, e)
		}
	}
	return out
}

func TestRelay_PublishesPendingRowsAndMarksThem(t *testing.T) {
	first, second := pendingRow(1, "abc", 0), pendingRow(2, "def", 0)
	db := &fakeDB{pending: []model.CheckoutOutbox{first, second}}
	pub := &mockPublisher{}
	pub.On("PublishWithHeaders", mock.Anything, kafka.TopicCheckoutCompleted, []byte("abc"), []byte(first.Payload),
		map[string]string{"event_type": kafka.EventCheckoutCompleted, "correlation_id": first.CorrelationID.String()}).
		Return(nil).Once()
	pub.On("PublishWithHeaders", mock.Anything, kafka.TopicCheckoutCompleted, []byte("def"), []byte(second.Payload), mock.Anything).
		Return(nil).Once()

	require.NoError(t, newTestRelay(db, pub).processBatch(context.Background()))

	pub.AssertExpectations(t)
	processed := db.updates("status = 'processed'")
	require.Len(t, processed, 1)
	assert.Equal(t, []int64{1, 2}, processed[0].args[0])
	assert.True(t, db.committed)
}

func TestRelay_FailedPublishStaysPending(t *testing.T) {
	row := pendingRow(7, "abc", 1)
	db := &fakeDB{pending: []model.CheckoutOutbox{row}}
	pub := &mockPublisher{}
	pub.On("PublishWithHeaders", mock.Anything, kafka.TopicCheckoutCompleted, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unavailable")).Once()

	require.NoError(t, newTestRelay(db, pub).processBatch(context.Background()))

	retried := db.updates("retry_count = retry_count + 1")
	require.Len(t, retried, 1)
	assert.Equal(t, int64(7), retried[0].args[0])
	assert.Equal(t, "broker unavailable", retried[0].args[1])
	assert.Equal(t, "pending", retried[0].args[2])
	assert.Empty(t, db.updates("status = 'processed'"))
	assert.True(t, db.committed)
}

func TestRelay_GivesUpAfterMaxAttempts(t *testing.T) {
	db := &fakeDB{pending: []model.CheckoutOutbox{pendingRow(9, "abc", maxPublishAttempts-1)}}
	pub := &mockPublisher{}
	pub.On("PublishWithHeaders", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker unavailable")).Once()

	require.NoError(t, newTestRelay(db, pub).processBatch(context.Background()))

	retried := db.updates("retry_count = retry_count + 1")
	require.Len(t, retried, 1)
	assert.Equal(t, "failed", retried[0].args[2])
}

func TestRelay_EmptyBatchPublishesNothing(t *testing.T) {
	db := &fakeDB{}
	pub := &mockPublisher{}

	require.NoError(t, newTestRelay(db, pub).processBatch(context.Background()))

	pub.AssertNotCalled(t, "PublishWithHeaders", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, db.execs)
	assert.False(t, db.committed)
}
