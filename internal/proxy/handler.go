// Package proxy relays credential-bearing calls to the payment backend so the
// admin credentials never leave the server.
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Niiaks/Chainpaye/internal/config"
	"github.com/Niiaks/Chainpaye/internal/middleware"
	"github.com/Niiaks/Chainpaye/internal/retry"
)

var validate = validator.New()

const maxBodyBytes = 1 << 20

type proxyRequest struct {
	Endpoint string          `json:"endpoint" validate:"required,url"`
	Method   string          `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type ProxyHandler struct {
	client        retry.Doer
	baseURL       string
	admin         string
	adminPassword string
}

func NewProxyHandler(cfg config.BackendConfig, client retry.Doer) *ProxyHandler {
	return &ProxyHandler{
		client:        client,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		admin:         cfg.Admin,
		adminPassword: cfg.AdminPassword,
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// allowed reports whether endpoint lives under the backend base URL. A bare
// string prefix is not enough: "https://api.example.com.evil" must not pass.
func (h *ProxyHandler) allowed(endpoint string) bool {
	if endpoint == h.baseURL {
		return true
	}
	rest, ok := strings.CutPrefix(endpoint, h.baseURL)
	return ok && (strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "?"))
}

func (h *ProxyHandler) hasCredentials() bool {
	return h.admin != "" && h.adminPassword != ""
}

// Post relays {endpoint, method, data}. method defaults to POST.
func (h *ProxyHandler) Post(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req proxyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if !h.hasCredentials() {
		logger.Error().Msg("backend admin credentials are not configured")
		writeJSONError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if err := validate.Struct(&req); err != nil || !h.allowed(req.Endpoint) {
		logger.Warn().Str("endpoint", req.Endpoint).Msg("rejected proxy endpoint")
		writeJSONError(w, http.StatusBadRequest, "Invalid endpoint")
		return
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(req.Data) > 0 && string(req.Data) != "null" {
		body = bytes.NewReader(req.Data)
	}
	h.forward(w, r, method, req.Endpoint, body)
}

// Get relays GET ?endpoint=.
func (h *ProxyHandler) Get(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		writeJSONError(w, http.StatusBadRequest, "Endpoint parameter required")
		return
	}

	if !h.hasCredentials() {
		logger.Error().Msg("backend admin credentials are not configured")
		writeJSONError(w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if !h.allowed(endpoint) {
		logger.Warn().Str("endpoint", endpoint).Msg("rejected proxy endpoint")
		writeJSONError(w, http.StatusBadRequest, "Invalid endpoint")
		return
	}

	h.forward(w, r, http.MethodGet, endpoint, nil)
}

func (h *ProxyHandler) forward(w http.ResponseWriter, r *http.Request, method, endpoint string, body io.Reader) {
	ctx := r.Context()
	logger := middleware.GetLogger(ctx)

	upstream, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid endpoint")
		return
	}
	if body != nil {
		upstream.Header.Set("Content-Type", "application/json")
	}
	upstream.Header.Set("admin", h.admin)
	upstream.Header.Set("adminpwd", h.adminPassword)

	logger.Info().Str("method", method).Str("endpoint", endpoint).Msg("proxying backend request")

	resp, err := h.client.Do(upstream)
	if err != nil {
		logger.Error().Err(err).Str("endpoint", endpoint).Msg("proxy request failed")
		writeJSONError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil || !json.Valid(respBody) {
		logger.Error().Err(err).Int("status", resp.StatusCode).Msg("proxy received a non-JSON response")
		writeJSONError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}
