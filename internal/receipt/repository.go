package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Niiaks/Chainpaye/internal/kafka"
	"github.com/Niiaks/Chainpaye/internal/model"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

var ErrNotFound = errors.New("receipt not found")

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// CompletedEvent is the outbox payload for r.
func CompletedEvent(r *model.Receipt) *types.CheckoutCompletedEvent {
	return &types.CheckoutCompletedEvent{
		PaymentID:   r.PaymentID,
		Reference:   r.Reference,
		Amount:      r.Amount,
		Currency:    r.Currency,
		PayeeName:   r.PayeeName,
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		Method:      r.Method,
		SuccessURL:  r.SuccessURL,
		CompletedAt: r.PaidAt,
	}
}

// Save stores the receipt and its checkout.completed outbox row in one
// transaction. Saving the same payment twice is a no-op.
func (repo *Repository) Save(ctx context.Context, r *model.Receipt) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	payload, err := json.Marshal(CompletedEvent(r))
	if err != nil {
		return fmt.Errorf("failed to marshal completed event: %w", err)
	}

	tx, err := repo.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO checkout_receipts (
			id, payment_id, reference, amount, currency, payee_name,
			sender_name, sender_email, sender_phone, method, bank_name,
			account_number, success_url, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (payment_id) DO NOTHING
	`,
		r.ID, r.PaymentID, r.Reference, r.Amount, r.Currency, r.PayeeName,
		r.SenderName, r.SenderEmail, r.SenderPhone, r.Method, r.BankName,
		r.AccountNumber, r.SuccessURL, r.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO checkout_outbox (event_type, payload, partition_key, status, correlation_id)
		VALUES ($1, $2, $3, 'pending', $4)
	`, kafka.EventCheckoutCompleted, payload, r.PaymentID, r.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return tx.Commit(ctx)
}

func (repo *Repository) GetByPaymentID(ctx context.Context, paymentID string) (*model.Receipt, error) {
	var r model.Receipt
	err := repo.db.QueryRow(ctx, `
		SELECT id, payment_id, reference, amount, currency, payee_name,
			sender_name, sender_email, sender_phone, method, bank_name,
			account_number, success_url, paid_at, created_at, updated_at
		FROM checkout_receipts
		WHERE payment_id = $1
	`, paymentID).Scan(
		&r.ID, &r.PaymentID, &r.Reference, &r.Amount, &r.Currency, &r.PayeeName,
		&r.SenderName, &r.SenderEmail, &r.SenderPhone, &r.Method, &r.BankName,
		&r.AccountNumber, &r.SuccessURL, &r.PaidAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
