package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Niiaks/Chainpaye/internal/checkout"
	"github.com/Niiaks/Chainpaye/internal/metrics"
	"github.com/Niiaks/Chainpaye/internal/middleware"
	"github.com/Niiaks/Chainpaye/internal/proxy"
	"github.com/Niiaks/Chainpaye/internal/server"
	"github.com/Niiaks/Chainpaye/internal/webhook"
)

type Handlers struct {
	Checkout *checkout.CheckoutHandler
	Proxy    *proxy.ProxyHandler
	Webhook  *webhook.WebhookHandler
}

func NewRouter(s *server.Server, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	mw := middleware.NewMiddlewares(s)

	// Apply middleware in order
	r.Use(middleware.RequestID)
	r.Use(mw.Tracing.NewRelicMiddleware())
	r.Use(mw.Tracing.EnhanceTracing)
	r.Use(mw.ContextEnhancer.EnhanceContext)
	r.Use(mw.Global.RequestLogger)
	r.Use(mw.Global.Recoverer)

	r.Get("/health", health(s))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/proxy/toronet", func(r chi.Router) {
			r.Use(mw.RateLimit.Limit("proxy"))
			r.Post("/", h.Proxy.Post)
			r.Get("/", h.Proxy.Get)
		})

		r.Route("/v1", func(r chi.Router) {
			r.Route("/checkout/{paymentID}", func(r chi.Router) {
				h.Checkout.Routes(r, mw.RateLimit.Limit("checkout"))
			})

			r.Post("/webhooks/provider", h.Webhook.HandleWebhook)
		})
	})

	return r
}

// health pings the dependencies named in the health check config.
func health(s *server.Server) http.HandlerFunc {
	hc := s.Config.Observability.HealthChecks
	pingers := map[string]func(context.Context) error{
		"database": s.Db.Ping,
		"redis":    s.Redis.Ping,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		checks := map[string]string{}

		if hc.Enabled {
			ctx, cancel := context.WithTimeout(r.Context(), hc.Timeout)
			defer cancel()

			for _, name := range hc.Checks {
				ping, ok := pingers[name]
				if !ok {
					continue
				}
				if err := ping(ctx); err != nil {
					middleware.GetLogger(r.Context()).Error().Err(err).Str("check", name).Msg("health check failed")
					checks[name] = "down"
					status = http.StatusServiceUnavailable
					continue
				}
				checks[name] = "up"
			}
		}

		body := map[string]any{"status": "ok", "checks": checks}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
