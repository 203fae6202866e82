package middleware

import (
	"context"
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/logger"
	"github.com/Niiaks/Chainpaye/internal/server"
)

const (
	SessionIDHeader = "X-Checkout-Session"
	SessionIDKey    = "session_id"
	LoggerKey       = "logger"
)

type ContextEnhancer struct {
	Server *server.Server
}

func NewContextEnhancer(srv *server.Server) *ContextEnhancer {
	return &ContextEnhancer{
		Server: srv,
	}
}

func (ce *ContextEnhancer) EnhanceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r)

		//enhance logger with context
		contextLogger := ce.Server.Logger.With().
			Str("request_id", requestID).
			Str("ip", ClientIP(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		if txn := newrelic.FromContext(r.Context()); txn != nil {
			contextLogger = logger.WithTraceContext(contextLogger, txn)
		}

		ctx := r.Context()
		if sessionID := r.Header.Get(SessionIDHeader); sessionID != "" {
			contextLogger = contextLogger.With().Str("session_id", sessionID).Logger()
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
		}

		ctx = context.WithValue(ctx, LoggerKey, &contextLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the logger from the context.
func GetLogger(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zerolog.Logger); ok {
		return logger
	}
	logger := zerolog.Nop()
	return &logger
}

// WithLogger stores l in ctx, for code running outside the middleware chain.
func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}
