// Package retry re-sends HTTP requests that failed at the connection level.
package retry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestFunc builds a fresh request for every attempt so bodies can be re-read.
type RequestFunc func(ctx context.Context) (*http.Request, error)

type SleepFunc func(ctx context.Context, d time.Duration) error

// NetworkError is returned once every attempt failed before a response arrived.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	client Doer
	sleep  SleepFunc
	logger *zerolog.Logger
}

type Option func(*Fetcher)

func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func New(client Doer, opts ...Option) *Fetcher {
	nop := zerolog.Nop()
	f := &Fetcher{
		client: client,
		sleep:  Sleep,
		logger: &nop,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backoff is the wait after the zero-indexed attempt: 1s, 2s, 4s, ...
func Backoff(attempt int) time.Duration {
	return time.Second << attempt
}

// Do returns the first response that arrives, whatever its status code.
// Only transport errors are retried; there is no sleep after the final attempt.
func (f *Fetcher) Do(ctx context.Context, newRequest RequestFunc, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}

		resp, err := f.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		f.logger.Warn().Err(err).
			Int("attempt", i+1).
			Int("max_attempts", maxAttempts).
			Str("url", req.URL.String()).
			Msg("fetch attempt failed")

		if ctx.Err() != nil {
			return nil, errors.WithStack(&NetworkError{Attempts: i + 1, Err: ctx.Err()})
		}

		if i < maxAttempts-1 {
			if err := f.sleep(ctx, Backoff(i)); err != nil {
				return nil, errors.WithStack(&NetworkError{Attempts: i + 1, Err: err})
			}
		}
	}

	return nil, errors.WithStack(&NetworkError{Attempts: maxAttempts, Err: lastErr})
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
