package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

type outboxRow struct {
	eventType    string
	payload      []byte
	partitionKey string
}

// fakeDB keeps committed receipts and outbox rows. Writes made inside a
// transaction only become visible on Commit.
type fakeDB struct {
	mu        sync.Mutex
	receipts  map[string]bool
	outbox    []outboxRow
	outboxErr error
	commits   int
	rollbacks int
}

func newFakeDB() *fakeDB {
	return &fakeDB{receipts: make(map[string]bool)}
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return noRow{}
}

func (db *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("writes must go through a transaction")
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

type fakeTx struct {
	pgx.Tx
	db       *fakeDB
	receipts []string
	outbox   []outboxRow
	done     bool
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()

	switch {
	case strings.Contains(sql, "INSERT INTO checkout_receipts"):
		paymentID := args[1].(string)
		if tx.db.receipts[paymentID] {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		tx.receipts = append(tx.receipts, paymentID)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "INSERT INTO checkout_outbox"):
		if tx.db.outboxErr != nil {
			return pgconn.CommandTag{}, tx.db.outboxErr
		}
		tx.outbox = append(tx.outbox, outboxRow{
			eventType:    args[0].(string),
			payload:      args[1].([]byte),
			partitionKey: args[2].(string),
		})
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	for _, id := range tx.receipts {
		tx.db.receipts[id] = true
	}
	tx.db.outbox = append(tx.db.outbox, tx.outbox...)
	tx.db.commits++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.db.rollbacks++
	return nil
}

func TestRepository_SaveWritesReceiptAndOutboxTogether(t *testing.T) {
	db := newFakeDB()
	repo := NewRepository(db)
	r := sampleReceipt()

	require.NoError(t, repo.Save(context.Background(), r))

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.True(t, db.receipts["abc"])
	require.Len(t, db.outbox, 1)
	assert.Equal(t, kafka.EventCheckoutCompleted, db.outbox[0].eventType)
	assert.Equal(t, "abc", db.outbox[0].partitionKey)
	assert.Equal(t, 1, db.commits)

	var event types.CheckoutCompletedEvent
	require.NoError(t, json.Unmarshal(db.outbox[0].payload, &event))
	assert.Equal(t, "abc", event.PaymentID)
	assert.Equal(t, "tx-1234567890abcdef", event.Reference)
	assert.True(t, event.Amount.Equal(r.Amount))
}

func TestRepository_SaveTwiceWritesOneOutboxRow(t *testing.T) {
	db := newFakeDB()
	repo := NewRepository(db)

	require.NoError(t, repo.Save(context.Background(), sampleReceipt()))
	require.NoError(t, repo.Save(context.Background(), sampleReceipt()))

	assert.Len(t, db.outbox, 1)
	assert.Equal(t, 1, db.commits)
	assert.Equal(t, 1, db.rollbacks)
}

func TestRepository_SaveOutboxFailureKeepsNoReceipt(t *testing.T) {
	db := newFakeDB()
	db.outboxErr = errors.New("relation checkout_outbox does not exist")
	repo := NewRepository(db)

	err := repo.Save(context.Background(), sampleReceipt())
	require.Error(t, err)
	assert.ErrorIs(t, err, db.outboxErr)

	assert.False(t, db.receipts["abc"])
	assert.Empty(t, db.outbox)
	assert.Equal(t, 0, db.commits)
	assert.Equal(t, 1, db.rollbacks)
}

func TestRepository_GetByPaymentIDNotFound(t *testing.T) {
	repo := NewRepository(newFakeDB())

	_, err := repo.GetByPaymentID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
