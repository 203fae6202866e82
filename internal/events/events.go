// Package events fans checkout instrumentation out to logs, New Relic and
// Prometheus. Reporting is best-effort: a reporter can never fail or block a
// checkout transition.
package events

import (
	"context"
	"errors"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/metrics"
)

const (
	PageView              = "page_view"
	MethodSelected        = "method_selected"
	ValidationFailed      = "validation_failed"
	PaymentDataLoaded     = "payment_data_loaded"
	VerificationSubmitted = "verification_submitted"
	PaymentSucceeded      = "payment_succeeded"
	PaymentFailed         = "payment_failed"
)

type Props map[string]any

type Reporter interface {
	Track(ctx context.Context, name string, props Props)
	Error(ctx context.Context, err error, props Props)
}

// Kinder is implemented by errors that carry a classification.
type Kinder interface {
	ErrorKind() string
}

func kindOf(err error) string {
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return "unknown"
}

type LogReporter struct {
	logger *zerolog.Logger
}

func NewLogReporter(logger *zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Track(_ context.Context, name string, props Props) {
	r.logger.Info().Str("event", name).Fields(map[string]any(props)).Msg("checkout event")
}

func (r *LogReporter) Error(_ context.Context, err error, props Props) {
	r.logger.Error().Stack().Err(err).Str("kind", kindOf(err)).Fields(map[string]any(props)).Msg("checkout error")
}

type NewRelicReporter struct {
	app *newrelic.Application
}

func NewNewRelicReporter(app *newrelic.Application) *NewRelicReporter {
	return &NewRelicReporter{app: app}
}

func (r *NewRelicReporter) Track(_ context.Context, name string, props Props) {
	if r.app == nil {
		return
	}
	params := make(map[string]any, len(props)+1)
	for k, v := range props {
		params[k] = v
	}
	params["event"] = name
	r.app.RecordCustomEvent("CheckoutEvent", params)
}

func (r *NewRelicReporter) Error(ctx context.Context, err error, props Props) {
	if txn := newrelic.FromContext(ctx); txn != nil {
		for k, v := range props {
			txn.AddAttribute(k, v)
		}
		txn.NoticeError(err)
		return
	}
	if r.app == nil {
		return
	}
	params := map[string]any{"error": err.Error(), "kind": kindOf(err)}
	for k, v := range props {
		params[k] = v
	}
	r.app.RecordCustomEvent("CheckoutError", params)
}

type PrometheusReporter struct{}

func (PrometheusReporter) Track(_ context.Context, name string, _ Props) {
	metrics.CheckoutEvents.WithLabelValues(name).Inc()
}

func (PrometheusReporter) Error(_ context.Context, err error, _ Props) {
	metrics.CheckoutErrors.WithLabelValues(kindOf(err)).Inc()
}

// Multi calls every reporter in order and swallows their panics.
type Multi struct {
	reporters []Reporter
	logger    *zerolog.Logger
}

func NewMulti(logger *zerolog.Logger, reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters, logger: logger}
}

func (m *Multi) Track(ctx context.Context, name string, props Props) {
	for _, r := range m.reporters {
		m.guard(name, func() { r.Track(ctx, name, props) })
	}
}

func (m *Multi) Error(ctx context.Context, err error, props Props) {
	for _, r := range m.reporters {
		m.guard("error", func() { r.Error(ctx, err, props) })
	}
}

func (m *Multi) guard(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Warn().Interface("panic", rec).Str("event", name).Msg("reporter panicked")
		}
	}()
	fn()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Track(context.Context, string, Props) {}

func (Nop) Error(context.Context, error, Props) {}
