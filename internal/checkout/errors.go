package checkout

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/Niiaks/Chainpaye/internal/psp"
	"github.com/Niiaks/Chainpaye/internal/retry"
)

type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindHTTPStatus   ErrorKind = "http_status"
	KindMalformed    ErrorKind = "malformed_response"
	KindProviderInit ErrorKind = "provider_init"
	KindValidation   ErrorKind = "validation"
	KindVerification ErrorKind = "verification"
	KindPollTimeout  ErrorKind = "poll_timeout"
	KindPrecondition ErrorKind = "precondition"
	KindNotFound     ErrorKind = "not_found"
	KindInProgress   ErrorKind = "in_progress"
)

// Error is what the checkout surfaces. Message is always safe to show the payer.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorKind() string {
	return string(e.Kind)
}

func newError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the kind of err, or "" when err is not a checkout error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

const (
	MsgNetwork          = "Network error. Please check your internet connection and try again."
	MsgNotFound         = "Payment link not found. Please check the link and try again."
	MsgExpired          = "This payment link has expired. Please request a new one."
	MsgInvalid          = "Invalid payment link. Please check the link and try again."
	MsgServerError      = "Server error. Please try again in a few moments."
	MsgUnavailable      = "Payment service is temporarily unavailable. Please try again later."
	MsgMalformed        = "We received an unexpected response while loading this payment. Please try again."
	MsgLoadFailed       = "Failed to load payment data. Please try again."
	MsgInitSecurity     = "Connection security error. Please try again in a few minutes."
	MsgInitTimeout      = "Request timed out. Please try again."
	MsgInitDNS          = "Unable to reach payment service. Please check your internet connection."
	MsgInitGeneric      = "We could not set up this payment. Please try again or contact support."
	MsgMissingReference = "This payment is missing a transaction reference. Please contact support."
	MsgVerification     = "We could not submit your payment confirmation. Please try again."
	MsgPollTimeout      = "We have not been able to confirm your payment yet. Verification continues in the background, and you will be notified once your transfer is confirmed."
	MsgUnexpected       = "An unexpected error occurred. Please try again or contact support."
)

// StatusMessage maps a payment link response status to what the payer sees.
func StatusMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return MsgNotFound
	case http.StatusGone:
		return MsgExpired
	case http.StatusBadRequest:
		return MsgInvalid
	case http.StatusInternalServerError:
		return MsgServerError
	case http.StatusServiceUnavailable:
		return MsgUnavailable
	default:
		return fmt.Sprintf("Failed to load payment data (error %d). Please try again.", status)
	}
}

// classifyFetchError turns a payment link load failure into a checkout error.
func classifyFetchError(err error) *Error {
	var netErr *retry.NetworkError
	if errors.As(err, &netErr) {
		return newError(KindNetwork, MsgNetwork, err)
	}

	var statusErr *psp.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 200 && statusErr.Status < 300 {
			msg := statusErr.Message
			if msg == "" {
				msg = MsgLoadFailed
			}
			return &Error{Kind: KindHTTPStatus, Message: msg, Status: statusErr.Status, Err: err}
		}
		return &Error{Kind: KindHTTPStatus, Message: StatusMessage(statusErr.Status), Status: statusErr.Status, Err: err}
	}

	if errors.Is(err, psp.ErrMalformedResponse) {
		return newError(KindMalformed, MsgMalformed, err)
	}

	return newError(KindNetwork, MsgUnexpected, err)
}

type initFailure int

const (
	initGeneric initFailure = iota
	initSecurity
	initTimeout
	initDNS
)

var (
	securityMarkers = []string{"SSL", "TLS", "EPROTO", "certificate"}
	timeoutMarkers  = []string{"timeout", "ETIMEDOUT", "timed out"}
	dnsMarkers      = []string{"ENOTFOUND", "DNS", "getaddrinfo"}
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// classifyInitFailure inspects the provider error text of a FAILED initialization.
func classifyInitFailure(text string) initFailure {
	switch {
	case containsAny(text, securityMarkers):
		return initSecurity
	case containsAny(text, timeoutMarkers):
		return initTimeout
	case containsAny(text, dnsMarkers):
		return initDNS
	default:
		return initGeneric
	}
}

func initFailureError(kind initFailure, text string) *Error {
	cause := errors.Errorf("payment initialization failed: %s", text)
	switch kind {
	case initSecurity:
		return newError(KindProviderInit, MsgInitSecurity, cause)
	case initTimeout:
		return newError(KindProviderInit, MsgInitTimeout, cause)
	case initDNS:
		return newError(KindProviderInit, MsgInitDNS, cause)
	default:
		return newError(KindProviderInit, MsgInitGeneric, cause)
	}
}

// verificationError keeps the backend's own message when it sent one.
func verificationError(err error) *Error {
	var netErr *retry.NetworkError
	if errors.As(err, &netErr) {
		return newError(KindVerification, MsgNetwork, err)
	}
	var statusErr *psp.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.Message
		if msg == "" {
			msg = MsgVerification
		}
		return &Error{Kind: KindVerification, Message: msg, Status: statusErr.Status, Err: err}
	}
	return newError(KindVerification, MsgVerification, err)
}
