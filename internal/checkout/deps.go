package checkout

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/cache"
	"github.com/Niiaks/Chainpaye/internal/config"
	"github.com/Niiaks/Chainpaye/internal/events"
	"github.com/Niiaks/Chainpaye/internal/model"
	"github.com/Niiaks/Chainpaye/internal/retry"
	"github.com/Niiaks/Chainpaye/internal/session"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

// Backend is the part of psp.BackendClient the checkout uses.
type Backend interface {
	GetPaymentLink(ctx context.Context, id string, attempts int) (*types.PaymentLink, error)
	SubmitVerification(ctx context.Context, ref string, req *types.VerificationRequest, attempts int) error
	TransactionStatus(ctx context.Context, ref string) (string, error)
}

type Sessions interface {
	Ensure(ctx context.Context, paymentID string) (session.Session, error)
	Clear(ctx context.Context, paymentID string) error
}

// Idempotency guards verification submission against double clicks and
// concurrent tabs.
type Idempotency interface {
	CheckAndSetIdempotency(ctx context.Context, key string, ttl time.Duration) ([]byte, error)
	MarkIdempotencyComplete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	MarkIdempotencyFailed(ctx context.Context, key string) error
}

type ReceiptStore interface {
	Save(ctx context.Context, r *model.Receipt) error
}

// ReceiptFinder is implemented by stores that can read receipts back, so a
// receipt stays downloadable after its machine is gone.
type ReceiptFinder interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*model.Receipt, error)
}

// Dependencies are shared by every machine of a service. Idempotency and
// Receipts are optional.
type Dependencies struct {
	Backend     Backend
	Links       *cache.TTL[string, *types.PaymentLink]
	Sessions    Sessions
	Idempotency Idempotency
	Receipts    ReceiptStore
	Reporter    events.Reporter
	Logger      *zerolog.Logger
	Config      config.CheckoutConfig
	Sleep       retry.SleepFunc
	Now         func() time.Time
}

func (d *Dependencies) setDefaults() {
	if d.Links == nil {
		d.Links = cache.New[string, *types.PaymentLink]()
	}
	if d.Reporter == nil {
		d.Reporter = events.Nop{}
	}
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	if d.Sleep == nil {
		d.Sleep = retry.Sleep
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}
