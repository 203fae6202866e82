package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Niiaks/Chainpaye/internal/middleware"
	"github.com/Niiaks/Chainpaye/internal/model"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

const SignatureHeader = "x-chainpaye-signature"

const (
	EventTransactionPaid      = "transaction.paid"
	EventTransactionCompleted = "transaction.completed"
)

var validate = validator.New()

// StatusObserver is satisfied by *checkout.Service.
type StatusObserver interface {
	ObserveStatus(ctx context.Context, paymentID, reference, state string) bool
}

// AuditStore is satisfied by *pgxpool.Pool.
type AuditStore interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type WebhookHandler struct {
	secret   string
	observer StatusObserver
	audit    AuditStore
}

// NewWebhookHandler builds the provider webhook handler. audit may be nil.
func NewWebhookHandler(secret string, observer StatusObserver, audit AuditStore) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		observer: observer,
		audit:    audit,
	}
}

// VerifySignature checks the hex HMAC-SHA512 of payload under secret.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		logger.Error().Err(err).Msg("failed to read webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !VerifySignature(body, signature, h.secret) {
		logger.Warn().Msg("invalid webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event types.ProviderWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Error().Err(err).Msg("failed to decode webhook event")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&event); err != nil {
		logger.Error().Err(err).Msg("webhook event failed validation")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	status := "ignored"
	switch event.Event {
	case EventTransactionPaid, EventTransactionCompleted:
		state := event.Data.State
		if state == "" {
			state = types.TransactionStateCompleted
		}
		if h.observer.ObserveStatus(ctx, event.Data.PaymentLinkID, event.Data.Reference, state) {
			status = "processed"
		}
	}

	logger.Info().
		Str("event", event.Event).
		Str("payment_id", event.Data.PaymentLinkID).
		Str("reference", event.Data.Reference).
		Str("status", status).
		Msg("provider webhook handled")

	if h.audit != nil {
		record := model.ProviderWebhook{
			ID:        uuid.New(),
			EventType: event.Event,
			PaymentID: event.Data.PaymentLinkID,
			Payload:   body,
			Status:    status,
		}
		if _, err := h.audit.Exec(ctx, `
			INSERT INTO provider_webhooks (id, event_type, payment_id, payload, status)
			VALUES ($1, $2, $3, $4, $5)
		`, record.ID, record.EventType, record.PaymentID, record.Payload, record.Status); err != nil {
			logger.Error().Err(err).Msg("failed to store webhook")
		}
	}

	w.WriteHeader(http.StatusOK)
}
