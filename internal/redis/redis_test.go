package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	log := zerolog.Nop()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewFromClient(db, "chainpaye:", &log), mock
}

func TestSession_PutGetDelete(t *testing.T) {
	c, mock := newMockClient(t)
	ctx := context.Background()
	record := []byte(`{"sessionId":"s-1","paymentId":"abc"}`)

	mock.ExpectSet("chainpaye:session:abc", record, 30*time.Minute).SetVal("OK")
	mock.ExpectGet("chainpaye:session:abc").SetVal(string(record))
	mock.ExpectDel("chainpaye:session:abc").SetVal(1)

	require.NoError(t, c.PutSession(ctx, "abc", record, 30*time.Minute))

	got, err := c.GetSession(ctx, "abc")
	require.NoError(t, err)
	assert.JSONEq(t, string(record), string(got))

	require.NoError(t, c.DeleteSession(ctx, "abc"))
}

func TestSession_GetMissing(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectGet("chainpaye:session:gone").RedisNil()

	_, err := c.GetSession(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIdempotency_FirstClaimWins(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectSetNX("chainpaye:idempotency:verify:ref-1", "pending", time.Hour).SetVal(true)

	stored, err := c.CheckAndSetIdempotency(context.Background(), "verify:ref-1", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestIdempotency_InFlight(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectSetNX("chainpaye:idempotency:verify:ref-1", "pending", time.Hour).SetVal(false)
	mock.ExpectGet("chainpaye:idempotency:verify:ref-1").SetVal("pending")

	_, err := c.CheckAndSetIdempotency(context.Background(), "verify:ref-1", time.Hour)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestIdempotency_ReturnsStoredResponse(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectSetNX("chainpaye:idempotency:verify:ref-1", "pending", time.Hour).SetVal(false)
	mock.ExpectGet("chainpaye:idempotency:verify:ref-1").SetVal(`{"success":true}`)

	stored, err := c.CheckAndSetIdempotency(context.Background(), "verify:ref-1", time.Hour)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(stored))
}

func TestIdempotency_FailedReleasesKey(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectDel("chainpaye:idempotency:verify:ref-1").SetVal(1)

	require.NoError(t, c.MarkIdempotencyFailed(context.Background(), "verify:ref-1"))
}

func TestIdempotency_SetNXError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectSetNX("chainpaye:idempotency:verify:ref-1", "pending", time.Hour).SetErr(errors.New("conn closed"))

	_, err := c.CheckAndSetIdempotency(context.Background(), "verify:ref-1", time.Hour)
	assert.Error(t, err)
}
