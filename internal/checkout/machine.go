package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Niiaks/Chainpaye/internal/events"
	"github.com/Niiaks/Chainpaye/internal/metrics"
	"github.com/Niiaks/Chainpaye/internal/model"
	"github.com/Niiaks/Chainpaye/internal/poll"
	"github.com/Niiaks/Chainpaye/internal/redis"
	"github.com/Niiaks/Chainpaye/internal/validation"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

type Step string

const (
	StepLoading       Step = "loading"
	StepSenderDetails Step = "sender-details"
	StepMethod        Step = "method"
	StepBankDetails   Step = "bank-details"
	StepVerifying     Step = "verifying"
	StepSuccess       Step = "success"
	StepError         Step = "error"
)

type SenderInfo struct {
	Name        string `json:"name"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
}

// FullPhone prefixes the country code. An empty phone stays empty so it is
// reported as missing rather than too short.
func (s SenderInfo) FullPhone() string {
	if strings.TrimSpace(s.Phone) == "" {
		return ""
	}
	return strings.TrimSpace(s.CountryCode + " " + s.Phone)
}

type ErrorView struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Snapshot is a read-only copy of the machine for rendering.
type Snapshot struct {
	PaymentID        string                      `json:"payment_id"`
	SessionID        string                      `json:"session_id,omitempty"`
	Step             Step                        `json:"step"`
	PaymentLink      *types.PaymentLink          `json:"payment_link,omitempty"`
	Sender           SenderInfo                  `json:"sender"`
	ValidationErrors validation.ValidationErrors `json:"validation_errors,omitempty"`
	Method           Method                      `json:"method,omitempty"`
	EligibleMethods  []Method                    `json:"eligible_methods,omitempty"`
	BankInstructions *BankInstructions           `json:"bank_instructions,omitempty"`
	CardRedirectURL  string                      `json:"card_redirect_url,omitempty"`
	Polling          poll.State                  `json:"polling"`
	Error            *ErrorView                  `json:"error,omitempty"`
	Receipt          *model.Receipt              `json:"receipt,omitempty"`
}

// Machine drives one checkout from loading to success or error. HTTP handlers
// and the polling goroutine both touch it, so all state sits behind mu.
type Machine struct {
	paymentID string
	deps      *Dependencies
	baseCtx   context.Context
	poller    *poll.Poller
	logger    zerolog.Logger

	mu         sync.Mutex
	step       Step
	link       *types.PaymentLink
	sender     SenderInfo
	errs       validation.ValidationErrors
	method     Method
	failure    *Error
	sessionID  string
	loading    bool
	submitting bool
	closed     bool
	receipt    *model.Receipt
	touchedAt  time.Time
}

// NewMachine builds a machine in the loading step. baseCtx bounds the polling
// task, so it should outlive any single request.
func NewMachine(baseCtx context.Context, paymentID string, deps *Dependencies) *Machine {
	deps.setDefaults()
	return &Machine{
		paymentID: paymentID,
		deps:      deps,
		baseCtx:   baseCtx,
		poller:    poll.New(deps.Config.PollInterval, deps.Config.PollCeiling),
		logger:    deps.Logger.With().Str("payment_id", paymentID).Logger(),
		step:      StepLoading,
		sender:    SenderInfo{CountryCode: deps.Config.DefaultCountryCode},
		touchedAt: deps.Now(),
	}
}

func (m *Machine) PaymentID() string {
	return m.paymentID
}

func (m *Machine) track(ctx context.Context, name string, props events.Props) {
	if props == nil {
		props = events.Props{}
	}
	props["payment_id"] = m.paymentID
	m.deps.Reporter.Track(ctx, name, props)
}

// setStep must be called with mu held.
func (m *Machine) setStep(to Step) {
	if m.step != to {
		metrics.StepTransitions.WithLabelValues(string(m.step), string(to)).Inc()
		m.logger.Debug().Str("from", string(m.step)).Str("to", string(to)).Msg("checkout step changed")
	}
	m.step = to
	m.touchedAt = m.deps.Now()
}

// failLocked moves to the error step. Must be called with mu held.
func (m *Machine) failLocked(e *Error) {
	m.failure = e
	m.setStep(StepError)
}

func (m *Machine) reportFailure(ctx context.Context, e *Error) {
	m.deps.Reporter.Error(ctx, e, events.Props{"payment_id": m.paymentID})
	m.track(ctx, events.PaymentFailed, events.Props{"kind": string(e.Kind)})
}

func precondition(msg string) *Error {
	return newError(KindPrecondition, msg, nil)
}

// Load fetches the payment link and moves loading to sender-details, or to
// error. skipCache forces a network fetch, which is what a retry does.
func (m *Machine) Load(ctx context.Context, skipCache bool) error {
	m.mu.Lock()
	switch {
	case m.loading:
		m.mu.Unlock()
		return newError(KindInProgress, "Payment details are already loading.", nil)
	case m.step == StepVerifying || m.step == StepSuccess:
		m.mu.Unlock()
		return precondition("This payment has already been submitted.")
	}
	m.loading = true
	m.failure = nil
	m.setStep(StepLoading)
	m.mu.Unlock()

	if s, err := m.deps.Sessions.Ensure(ctx, m.paymentID); err != nil {
		m.logger.Warn().Err(err).Msg("checkout session unavailable")
	} else {
		m.mu.Lock()
		m.sessionID = s.SessionID
		m.mu.Unlock()
	}

	link, cached, ferr := m.fetchLink(ctx, skipCache)

	m.mu.Lock()
	m.loading = false
	if ferr != nil {
		m.failLocked(ferr)
		m.mu.Unlock()
		m.reportFailure(ctx, ferr)
		return ferr
	}

	m.link = link
	auto := MethodNone
	if m.method == MethodNone {
		if sel, ok := AutoSelect(link); ok {
			m.method = sel
			auto = sel
		}
	}
	m.setStep(StepSenderDetails)
	m.mu.Unlock()

	m.track(ctx, events.PaymentDataLoaded, events.Props{
		"currency":     link.Currency,
		"payment_type": link.PaymentType,
		"cached":       cached,
	})
	if auto != MethodNone {
		m.track(ctx, events.MethodSelected, events.Props{"method": string(auto), "auto": true})
	}
	return nil
}

func (m *Machine) fetchLink(ctx context.Context, skipCache bool) (*types.PaymentLink, bool, *Error) {
	if !skipCache {
		if link, ok := m.deps.Links.Get(m.paymentID); ok {
			return link, true, nil
		}
	}

	cfg := m.deps.Config
	for attempt := 0; ; attempt++ {
		link, err := m.deps.Backend.GetPaymentLink(ctx, m.paymentID, cfg.FetchAttempts)
		if err != nil {
			return nil, false, classifyFetchError(err)
		}
		if err := validate.Struct(link); err != nil {
			return nil, false, newError(KindMalformed, MsgMalformed, err)
		}

		init := link.PaymentInitialization
		if init.Status != types.InitializationFailed {
			m.deps.Links.Set(m.paymentID, link, cfg.LinkCacheTTL)
			return link, false, nil
		}

		text := init.Response.Failure.Text()
		kind := classifyInitFailure(text)
		if kind == initSecurity && attempt < cfg.InitRetries {
			wait := time.Duration(attempt+1) * 2 * time.Second
			m.logger.Warn().Int("attempt", attempt+1).Dur("wait", wait).Str("provider_error", text).
				Msg("payment initialization hit a connection security error, re-fetching")
			if err := m.deps.Sleep(ctx, wait); err != nil {
				return nil, false, newError(KindNetwork, MsgNetwork, err)
			}
			continue
		}
		return nil, false, initFailureError(kind, text)
	}
}

// UpdateSender stores sanitized input and drops the error of every field that
// changed. Errors of untouched fields stay.
func (m *Machine) UpdateSender(in SenderInfo) (SenderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitting {
		return m.sender, errSubmitting()
	}
	if m.step != StepSenderDetails {
		return m.sender, precondition("Sender details can only be edited before choosing how to pay.")
	}

	next := SenderInfo{
		Name:        validation.SanitizeName(in.Name),
		CountryCode: validation.SanitizePhone(in.CountryCode),
		Phone:       validation.SanitizePhone(in.Phone),
		Email:       validation.SanitizeEmail(in.Email),
	}
	if next.Name != m.sender.Name {
		m.errs = m.errs.Without(validation.FieldName)
	}
	if next.Phone != m.sender.Phone || next.CountryCode != m.sender.CountryCode {
		m.errs = m.errs.Without(validation.FieldPhone)
	}
	if next.Email != m.sender.Email {
		m.errs = m.errs.Without(validation.FieldEmail)
	}
	m.sender = next
	m.touchedAt = m.deps.Now()

	return m.sender, nil
}

// Next validates the sender and moves to bank-details when bank transfer is
// chosen, or to method selection otherwise.
func (m *Machine) Next(ctx context.Context) (Step, error) {
	m.mu.Lock()
	if m.step != StepSenderDetails {
		step := m.step
		m.mu.Unlock()
		return step, precondition("Sender details have already been confirmed.")
	}

	errs := validation.ValidateSenderInfo(m.sender.Name, m.sender.FullPhone(), m.sender.Email)
	if len(errs) > 0 {
		m.errs = errs
		step := m.step
		m.mu.Unlock()

		fields := make([]string, 0, len(errs))
		for _, e := range errs {
			fields = append(fields, e.Field)
		}
		m.track(ctx, events.ValidationFailed, events.Props{"fields": strings.Join(fields, ",")})
		return step, newError(KindValidation, "Please correct the highlighted fields.", nil)
	}

	m.errs = nil
	if m.method == MethodBank {
		m.setStep(StepBankDetails)
	} else {
		m.setStep(StepMethod)
	}
	step := m.step
	m.mu.Unlock()

	return step, nil
}

// SelectMethod picks an eligible method. Bank moves to bank-details; card
// stays on method and returns the hosted card page to redirect to.
func (m *Machine) SelectMethod(ctx context.Context, method Method) (string, error) {
	m.mu.Lock()
	if m.step != StepMethod {
		m.mu.Unlock()
		return "", precondition("A payment method cannot be chosen right now.")
	}
	if !isEligible(m.link, method) {
		m.mu.Unlock()
		return "", precondition("This payment method is not available for this payment.")
	}

	var redirect string
	switch method {
	case MethodBank:
		m.method = MethodBank
		m.setStep(StepBankDetails)
	case MethodCard:
		redirect = m.link.CardRedirectURL()
		if redirect == "" {
			m.mu.Unlock()
			return "", precondition("Card payment is not available right now. Please try bank transfer or try again later.")
		}
		m.method = MethodCard
		m.touchedAt = m.deps.Now()
	}
	m.mu.Unlock()

	m.track(ctx, events.MethodSelected, events.Props{"method": string(method)})
	return redirect, nil
}

// ChangeMethod leaves the bank instructions to pick a method again.
func (m *Machine) ChangeMethod() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitting {
		return errSubmitting()
	}
	if m.step != StepBankDetails {
		return precondition("The payment method cannot be changed right now.")
	}
	m.method = MethodNone
	m.setStep(StepMethod)
	return nil
}

// Back returns to sender-details from method or bank-details. Entered sender
// fields are kept.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitting {
		return errSubmitting()
	}
	switch m.step {
	case StepBankDetails, StepMethod:
		m.setStep(StepSenderDetails)
		return nil
	default:
		return precondition("There is no previous step to go back to.")
	}
}

// ConfirmSent submits the verification request and starts polling. It is only
// valid from bank-details, so a second submission cannot start a second loop.
func (m *Machine) ConfirmSent(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed()
	}
	if m.step != StepBankDetails || m.submitting {
		busy := m.step == StepVerifying || m.submitting
		m.mu.Unlock()
		if busy {
			return newError(KindInProgress, "Your payment is already being verified.", nil)
		}
		return precondition("Payment confirmation is not available right now.")
	}

	ref := m.link.TransactionReference()
	if ref == "" {
		e := newError(KindPrecondition, MsgMissingReference, errors.New("payment link has neither transactionId nor reference"))
		m.failLocked(e)
		m.mu.Unlock()
		m.reportFailure(ctx, e)
		return e
	}

	if errs := validation.ValidateSenderInfo(m.sender.Name, m.sender.FullPhone(), m.sender.Email); len(errs) > 0 {
		m.errs = errs
		m.setStep(StepSenderDetails)
		m.mu.Unlock()
		return newError(KindValidation, "Please correct the highlighted fields.", nil)
	}

	req := &types.VerificationRequest{
		SenderName:    validation.SanitizeName(m.sender.Name),
		SenderPhone:   validation.SanitizePhone(m.sender.FullPhone()),
		SenderEmail:   validation.SanitizeEmail(m.sender.Email),
		Reference:     ref,
		PaymentLinkID: m.link.ID,
		Currency:      m.link.Currency,
		Amount:        m.link.Amount,
		PaymentType:   m.link.PaymentType,
	}
	m.submitting = true
	m.mu.Unlock()

	if err := m.submit(ctx, ref, req); err != nil {
		m.mu.Lock()
		m.submitting = false
		if m.closed {
			m.mu.Unlock()
			return err
		}
		m.failLocked(err)
		m.mu.Unlock()
		m.reportFailure(ctx, err)
		return err
	}

	// The poller is started under mu so a concurrent Close either sees the
	// live loop or is seen here.
	m.mu.Lock()
	m.submitting = false
	if m.closed || m.step != StepBankDetails {
		closed := m.closed
		m.mu.Unlock()
		m.logger.Info().Bool("closed", closed).Str("reference", ref).Msg("checkout left bank details during submission, not polling")
		if closed {
			return errClosed()
		}
		return precondition("Payment confirmation is not available right now.")
	}
	m.setStep(StepVerifying)
	m.startPolling(ref)
	m.mu.Unlock()

	m.track(ctx, events.VerificationSubmitted, events.Props{"reference": ref, "currency": req.Currency})
	return nil
}

func errSubmitting() *Error {
	return newError(KindInProgress, "Your payment confirmation is being submitted.", nil)
}

func errClosed() *Error {
	return precondition("This checkout has been closed.")
}

var verifiedMarker = []byte(`{"submitted":true}`)

// submit posts the verification once per reference. A reference whose
// verification already went through skips straight to polling.
func (m *Machine) submit(ctx context.Context, ref string, req *types.VerificationRequest) *Error {
	key := "verify:" + ref
	cfg := m.deps.Config
	guarded := false

	if idem := m.deps.Idempotency; idem != nil {
		stored, err := idem.CheckAndSetIdempotency(ctx, key, cfg.IdempotencyTTL)
		switch {
		case stored != nil:
			m.logger.Info().Str("reference", ref).Msg("verification already submitted, resuming polling")
			return nil
		case errors.Is(err, redis.ErrKeyExists):
			return newError(KindInProgress, "Your payment confirmation is already being submitted.", err)
		case err != nil:
			m.logger.Warn().Err(err).Msg("idempotency guard unavailable, submitting without it")
		default:
			guarded = true
		}
	}

	if err := m.deps.Backend.SubmitVerification(ctx, ref, req, cfg.VerifyAttempts); err != nil {
		if guarded {
			if rerr := m.deps.Idempotency.MarkIdempotencyFailed(ctx, key); rerr != nil {
				m.logger.Warn().Err(rerr).Msg("failed to release idempotency key")
			}
		}
		return verificationError(err)
	}

	if guarded {
		if err := m.deps.Idempotency.MarkIdempotencyComplete(ctx, key, verifiedMarker, cfg.IdempotencyTTL); err != nil {
			m.logger.Warn().Err(err).Msg("failed to record verification submission")
		}
	}
	return nil
}

// startPolling must be called with mu held.
func (m *Machine) startPolling(ref string) {
	h := m.poller.Start(m.baseCtx, func(ctx context.Context) bool {
		state, err := m.deps.Backend.TransactionStatus(ctx, ref)
		if err != nil {
			m.logger.Debug().Err(err).Msg("status check failed, will retry")
			return false
		}
		if !types.IsTerminalSuccess(state) {
			return false
		}
		m.complete(ctx, "poll")
		return true
	}, m.timeout)

	metrics.ActivePollers.Inc()
	go func() {
		<-h.Done()
		metrics.ActivePollers.Dec()
	}()
}

// ObserveStatus applies a status learned outside the polling loop, for
// example from a provider webhook. A non-empty reference must name this
// checkout's transaction. It reports whether the checkout completed.
func (m *Machine) ObserveStatus(ctx context.Context, reference, state string) bool {
	if !types.IsTerminalSuccess(state) {
		return false
	}
	if reference != "" && !m.matchesReference(reference) {
		m.logger.Warn().Str("reference", reference).Msg("status update for another transaction ignored")
		return false
	}
	m.poller.Stop()
	return m.complete(ctx, "webhook")
}

func (m *Machine) matchesReference(reference string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return false
	}
	return reference == m.link.TransactionID || reference == m.link.Reference
}

func (m *Machine) complete(ctx context.Context, source string) bool {
	m.mu.Lock()
	if m.step != StepVerifying {
		m.mu.Unlock()
		return false
	}
	receipt := m.buildReceiptLocked()
	m.receipt = receipt
	m.setStep(StepSuccess)
	m.mu.Unlock()

	m.logger.Info().Str("source", source).Str("reference", receipt.Reference).Msg("payment confirmed")

	if m.deps.Receipts != nil {
		if err := m.deps.Receipts.Save(ctx, receipt); err != nil {
			m.logger.Error().Err(err).Msg("failed to persist receipt")
		}
	}
	if err := m.deps.Sessions.Clear(ctx, m.paymentID); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear checkout session")
	}
	m.track(ctx, events.PaymentSucceeded, events.Props{"source": source, "reference": receipt.Reference})
	return true
}

func (m *Machine) buildReceiptLocked() *model.Receipt {
	r := &model.Receipt{
		PaymentID:   m.link.ID,
		Reference:   m.link.TransactionReference(),
		Amount:      m.link.Amount,
		Currency:    m.link.Currency,
		PayeeName:   m.link.Name,
		SenderName:  m.sender.Name,
		SenderEmail: m.sender.Email,
		SenderPhone: m.sender.FullPhone(),
		Method:      string(MethodBank),
		SuccessURL:  m.link.SuccessURL,
		PaidAt:      m.deps.Now().UTC(),
	}
	if bi := bankInstructions(m.link); bi != nil {
		r.BankName = bi.BankName
		r.AccountNumber = bi.AccountNumber
	}
	return r
}

func (m *Machine) timeout() {
	m.mu.Lock()
	if m.step != StepVerifying {
		m.mu.Unlock()
		return
	}
	e := newError(KindPollTimeout, MsgPollTimeout, errors.New("transaction status not confirmed before polling ceiling"))
	m.failLocked(e)
	m.mu.Unlock()

	m.logger.Warn().Dur("ceiling", m.deps.Config.PollCeiling).Msg("stopped polling without a confirmed status")
	m.reportFailure(m.baseCtx, e)
}

// Close stops any polling and keeps a submission in flight from starting a
// new loop. Safe to call more than once.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.poller.Stop()
	m.mu.Unlock()
}

func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		PaymentID:        m.paymentID,
		SessionID:        m.sessionID,
		Step:             m.step,
		PaymentLink:      m.link,
		Sender:           m.sender,
		ValidationErrors: append(validation.ValidationErrors(nil), m.errs...),
		Method:           m.method,
		EligibleMethods:  EligibleMethods(m.link),
		Polling:          m.poller.State(),
		Receipt:          m.receipt,
	}
	if m.step == StepBankDetails || m.step == StepVerifying {
		s.BankInstructions = bankInstructions(m.link)
	}
	if m.method == MethodCard && m.link != nil {
		s.CardRedirectURL = m.link.CardRedirectURL()
	}
	if m.failure != nil {
		s.Error = &ErrorView{Kind: m.failure.Kind, Message: m.failure.Message}
	}
	return s
}

// Receipt returns the receipt once the checkout succeeded.
func (m *Machine) Receipt() (*model.Receipt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipt, m.receipt != nil
}

func (m *Machine) idleSince() (time.Time, Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touchedAt, m.step
}
