package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Niiaks/Chainpaye/internal/config"
)

type upstreamCall struct {
	method, path, admin, adminpwd, body string
}

func newProxy(t *testing.T, admin, pwd string) (*ProxyHandler, *httptest.Server, *[]upstreamCall) {
	t.Helper()
	var calls []upstreamCall
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = buf.ReadFrom(r.Body)
		calls = append(calls, upstreamCall{r.Method, r.URL.Path, r.Header.Get("admin"), r.Header.Get("adminpwd"), buf.String()})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":true}`))
	}))
	t.Cleanup(backend.Close)

	h := NewProxyHandler(config.BackendConfig{BaseURL: backend.URL, Admin: admin, AdminPassword: pwd}, backend.Client())
	return h, backend, &calls
}

func TestPost_InjectsCredentialsAndRelaysStatus(t *testing.T) {
	h, backend, calls := newProxy(t, "admin-user", "s3cret")

	body := `{"endpoint":"` + backend.URL + `/api/payment/toro","data":{"op":"recordfiattransaction"}}`
	rec := httptest.NewRecorder()
	h.Post(rec, httptest.NewRequest(http.MethodPost, "/api/proxy/toronet", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"result":true}`, rec.Body.String())
	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/payment/toro", got.path)
	assert.Equal(t, "admin-user", got.admin)
	assert.Equal(t, "s3cret", got.adminpwd)
	assert.JSONEq(t, `{"op":"recordfiattransaction"}`, got.body)
}

func TestPost_MissingCredentials(t *testing.T) {
	h, backend, calls := newProxy(t, "", "")

	body := `{"endpoint":"` + backend.URL + `/api/x"}`
	rec := httptest.NewRecorder()
	h.Post(rec, httptest.NewRequest(http.MethodPost, "/api/proxy/toronet", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server configuration error")
	assert.Empty(t, *calls)
}

func TestPost_RejectsForeignEndpoints(t *testing.T) {
	h, backend, calls := newProxy(t, "a", "b")

	for _, endpoint := range []string{
		"https://evil.example.com/api",
		backend.URL + ".evil.example.com/api",
		"",
	} {
		rec := httptest.NewRecorder()
		body := `{"endpoint":"` + endpoint + `"}`
		h.Post(rec, httptest.NewRequest(http.MethodPost, "/api/proxy/toronet", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, endpoint)
	}
	assert.Empty(t, *calls)
}

func TestGet(t *testing.T) {
	h, backend, calls := newProxy(t, "a", "b")

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/proxy/toronet", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	target := url.QueryEscape(backend.URL + "/api/v1/transactions/tx-1/status")
	rec = httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/proxy/toronet?endpoint="+target, nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodGet, (*calls)[0].method)
	assert.Equal(t, "a", (*calls)[0].admin)
}
