package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/metrics"
	"github.com/Niiaks/Chainpaye/internal/retry"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

var ErrMalformedResponse = errors.New("malformed backend response")

// StatusError is a response the backend sent but did not accept.
type StatusError struct {
	Operation string
	Status    int
	Message   string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status=%d: %s", e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status=%d", e.Operation, e.Status)
}

// BackendClient talks to the Chainpaye backend. Every call goes through the
// retry fetcher, so only connection failures are retried.
type BackendClient struct {
	fetcher *retry.Fetcher
	baseURL string
	logger  *zerolog.Logger
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 50,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func NewBackendClient(baseURL string, doer retry.Doer, logger *zerolog.Logger, opts ...retry.Option) *BackendClient {
	opts = append([]retry.Option{retry.WithLogger(logger)}, opts...)
	return &BackendClient{
		fetcher: retry.New(doer, opts...),
		baseURL: baseURL,
		logger:  logger,
	}
}

// GetPaymentLink loads the link for id. Non-2xx statuses come back as
// *StatusError so the caller can map them; exhausted retries come back as
// *retry.NetworkError.
func (c *BackendClient) GetPaymentLink(ctx context.Context, id string, attempts int) (*types.PaymentLink, error) {
	path := "/api/v1/payment-links/" + url.PathEscape(id)
	status, body, err := c.doRequest(ctx, "get_payment_link", http.MethodPost, c.baseURL+path, nil, attempts)
	if err != nil {
		return nil, err
	}

	var env types.PaymentLinkEnvelope
	decodeErr := json.Unmarshal(body, &env)

	if status < 200 || status > 299 {
		return nil, &StatusError{Operation: "get_payment_link", Status: status, Message: env.Message}
	}
	if decodeErr != nil {
		return nil, errors.Wrap(ErrMalformedResponse, decodeErr.Error())
	}
	if !env.Success {
		return nil, &StatusError{Operation: "get_payment_link", Status: status, Message: env.Message}
	}
	if env.Data == nil || env.Data.ID == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "payment link data missing")
	}

	return env.Data, nil
}

// SubmitVerification posts the sender details for ref.
func (c *BackendClient) SubmitVerification(ctx context.Context, ref string, req *types.VerificationRequest, attempts int) error {
	path := "/api/v1/transactions/" + url.PathEscape(ref) + "/verify"
	status, body, err := c.doRequest(ctx, "submit_verification", http.MethodPost, c.baseURL+path, req, attempts)
	if err != nil {
		return err
	}

	var resp types.VerificationResponse
	_ = json.Unmarshal(body, &resp)

	if status < 200 || status > 299 {
		msg := resp.Message
		if msg == "" {
			msg = resp.Error
		}
		return &StatusError{Operation: "submit_verification", Status: status, Message: msg}
	}
	return nil
}

// TransactionStatus returns the backend state for ref, e.g. PENDING or PAID.
func (c *BackendClient) TransactionStatus(ctx context.Context, ref string) (string, error) {
	path := "/api/v1/transactions/" + url.PathEscape(ref) + "/status"
	status, body, err := c.doRequest(ctx, "transaction_status", http.MethodGet, c.baseURL+path, nil, 1)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &StatusError{Operation: "transaction_status", Status: status}
	}

	var resp types.TransactionStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(ErrMalformedResponse, err.Error())
	}
	return resp.Data.State, nil
}

// NotifySuccess posts the completed checkout to the merchant success URL.
func (c *BackendClient) NotifySuccess(ctx context.Context, successURL string, event *types.CheckoutCompletedEvent, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, _, err := c.doRequest(ctx, "notify_success", http.MethodPost, successURL, event, 1)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{Operation: "notify_success", Status: status}
	}
	return nil
}

func (c *BackendClient) doRequest(ctx context.Context, op, method, target string, body any, attempts int) (int, []byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to marshal request")
		}
		payload = b
	}

	newRequest := func(ctx context.Context) (*http.Request, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	start := time.Now()
	resp, err := c.fetcher.Do(ctx, newRequest, attempts)
	duration := time.Since(start)
	if err != nil {
		metrics.BackendRequestDuration.WithLabelValues(op, "network_error").Observe(duration.Seconds())
		c.logger.Error().Err(err).
			Str("method", method).
			Str("url", target).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("backend request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error().Err(err).
			Str("method", method).
			Str("url", target).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("failed to read backend response")
		return resp.StatusCode, nil, errors.Wrap(err, "failed to read response")
	}

	metrics.BackendRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())

	event := c.logger.Debug()
	if resp.StatusCode >= 400 {
		event = c.logger.Warn().Str("body", truncate(respBody, 512))
	}
	event.Int("status", resp.StatusCode).
		Str("method", method).
		Str("url", target).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("backend request completed")

	return resp.StatusCode, respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
