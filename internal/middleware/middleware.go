package middleware

import (
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/Niiaks/Chainpaye/internal/server"
)

type Middlewares struct {
	Global          *Global
	ContextEnhancer *ContextEnhancer
	Tracing         *Tracing
	RateLimit       *RateLimiter
}

func NewMiddlewares(s *server.Server) *Middlewares {

	var nrApp *newrelic.Application

	if s.LoggerService != nil {
		nrApp = s.LoggerService.GetApplication()
	}

	return &Middlewares{
		Global:          NewGlobal(s),
		ContextEnhancer: NewContextEnhancer(s),
		Tracing:         NewTracing(nrApp),
		RateLimit:       NewRateLimiter(s.Redis, s.Config.Server.RateLimit, s.Config.Server.RateLimitWindow),
	}
}
