package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Model struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Receipt is the persisted record of a confirmed checkout.
type Receipt struct {
	ID            uuid.UUID       `json:"id"`
	PaymentID     string          `json:"payment_id" validate:"required"`
	Reference     string          `json:"reference" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	PayeeName     string          `json:"payee_name"`
	SenderName    string          `json:"sender_name" validate:"required"`
	SenderEmail   string          `json:"sender_email" validate:"required,email"`
	SenderPhone   string          `json:"sender_phone"`
	Method        string          `json:"method" validate:"required,oneof=bank card"`
	BankName      string          `json:"bank_name,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	SuccessURL    string          `json:"success_url,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
	Model
}

type CheckoutOutbox struct {
	ID            int64           `json:"id"`
	EventType     string          `json:"event_type" validate:"required"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	PartitionKey  string          `json:"partition_key" validate:"required"`
	Status        string          `json:"status" validate:"required,oneof=pending processed failed"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	RetryCount    int             `json:"retry_count" validate:"gte=0"`
	LastError     string          `json:"last_error,omitempty"`
	Model
}

// ProviderWebhook is an accepted provider callback, kept for audit.
type ProviderWebhook struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type" validate:"required"`
	PaymentID string          `json:"payment_id" validate:"required"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
	Status    string          `json:"status" validate:"required,oneof=received ignored processed"`
	Model
}
