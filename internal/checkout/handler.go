package checkout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Niiaks/Chainpaye/internal/middleware"
	"github.com/Niiaks/Chainpaye/internal/receipt"
)

var validate = validator.New()

type CheckoutHandler struct {
	service *Service
}

func NewCheckoutHandler(service *Service) *CheckoutHandler {
	return &CheckoutHandler{service: service}
}

type senderRequest struct {
	Name        string `json:"name" validate:"max=200"`
	CountryCode string `json:"country_code" validate:"max=8"`
	Phone       string `json:"phone" validate:"max=32"`
	Email       string `json:"email" validate:"max=254"`
}

type methodRequest struct {
	Method string `json:"method" validate:"required,oneof=bank card"`
}

type checkoutResponse struct {
	Checkout    Snapshot   `json:"checkout"`
	RedirectURL string     `json:"redirect_url,omitempty"`
	Error       *ErrorView `json:"error,omitempty"`
}

// Routes mounts the checkout endpoints under a {paymentID} route. limit wraps
// the state-changing ones and may be nil.
func (h *CheckoutHandler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/", h.Get)
	r.Get("/receipt.pdf", h.ReceiptPDF)
	r.Delete("/", h.Close)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/", h.Open)
		r.Post("/retry", h.Retry)
		r.Put("/sender", h.UpdateSender)
		r.Post("/next", h.Next)
		r.Post("/back", h.Back)
		r.Post("/method", h.SelectMethod)
		r.Post("/change-method", h.ChangeMethod)
		r.Post("/sent", h.ConfirmSent)
	})
}

func statusFor(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindPrecondition, KindInProgress:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, m *Machine) {
	var cerr *Error
	if !errors.As(err, &cerr) {
		cerr = newError(KindNetwork, MsgUnexpected, err)
	}
	resp := checkoutResponse{Error: &ErrorView{Kind: cerr.Kind, Message: cerr.Message}}
	if m != nil {
		resp.Checkout = m.Snapshot()
	}
	writeJSON(w, statusFor(cerr.Kind), resp)
}

func (h *CheckoutHandler) paymentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "paymentID")
	if err := validate.Var(id, "required,max=128,printascii"); err != nil {
		http.Error(w, "Invalid payment id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *CheckoutHandler) machine(w http.ResponseWriter, r *http.Request) (*Machine, bool) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return nil, false
	}
	m, err := h.service.Get(id)
	if err != nil {
		writeError(w, err, nil)
		return nil, false
	}
	return m, true
}

// Open starts (or resumes) the checkout for a payment link.
func (h *CheckoutHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	m, err := h.service.Open(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Str("payment_id", id).Msg("checkout failed to load")
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) Retry(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Load(r.Context(), true); err != nil {
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) UpdateSender(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	m, ok := h.machine(w, r)
	if !ok {
		return
	}

	var req senderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("failed to decode sender details")
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := m.UpdateSender(SenderInfo(req)); err != nil {
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) Next(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if _, err := m.Next(r.Context()); err != nil {
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Back(); err != nil {
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}

	var req methodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	redirect, err := m.SelectMethod(r.Context(), Method(req.Method))
	if err != nil {
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot(), RedirectURL: redirect})
}

func (h *CheckoutHandler) ChangeMethod(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.ChangeMethod(); err != nil {
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) ConfirmSent(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.ConfirmSent(r.Context()); err != nil {
		logger.Warn().Err(err).Str("payment_id", m.PaymentID()).Msg("verification submission failed")
		writeError(w, err, m)
		return
	}
	writeJSON(w, http.StatusAccepted, checkoutResponse{Checkout: m.Snapshot()})
}

func (h *CheckoutHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	h.service.Close(id)
	w.WriteHeader(http.StatusNoContent)
}

// ReceiptPDF streams the receipt of a successful checkout.
func (h *CheckoutHandler) ReceiptPDF(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Receipt(r.Context(), id)
	if err != nil {
		m, _ := h.service.Get(id)
		writeError(w, err, m)
		return
	}

	var buf bytes.Buffer
	if err := receipt.RenderPDF(&buf, rec); err != nil {
		logger.Error().Err(err).Msg("failed to render receipt pdf")
		http.Error(w, "Failed to generate receipt", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chainpaye-receipt-%s.pdf"`, rec.Reference))
	w.Write(buf.Bytes())
}
