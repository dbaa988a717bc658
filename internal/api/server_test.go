package api_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/harbor_connect/internal/api"
	"github.com/austindbirch/harbor_connect/internal/auth"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/recipients"
)

type fakeResolver struct {
	mu    sync.Mutex
	orgs  []string
	set   *recipients.Set
	err   error
	block bool
}

func (f *fakeResolver) Resolve(ctx context.Context, orgID string) (*recipients.Set, error) {
	f.mu.Lock()
	f.orgs = append(f.orgs, orgID)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, &recipients.ResolutionError{Cause: recipients.Timeout, Provider: "rbac", Err: ctx.Err()}
	}
	return f.set, f.err
}

func (f *fakeResolver) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.orgs...)
}

func sampleSet() *recipients.Set {
	s := recipients.NewSet("rbac")
	s.Add(recipients.Recipient{ID: "u1", Enabled: true})
	s.Add(recipients.Recipient{ID: "u2", Enabled: true})
	return s
}

func quietLogger() *logging.Logger { return logging.NewWithWriter("test", io.Discard) }

func newRouter(res api.Resolver, opts api.RouterOptions) http.Handler {
	return api.NewRouter(api.New(res, quietLogger()), opts)
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/recipients", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestResolve_Success(t *testing.T) {
	res := &fakeResolver{set: sampleSet()}
	w := post(t, newRouter(res, api.RouterOptions{}), `{"org_id":"o1"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp api.ResolveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "o1", resp.OrgID)
	assert.Equal(t, "rbac", resp.Provider)
	assert.Equal(t, []recipients.Recipient{{ID: "u1", Enabled: true}, {ID: "u2", Enabled: true}}, resp.Recipients)
	assert.Equal(t, []string{"o1"}, res.calls())
}

func TestResolve_EmptySetIsEmptyArray(t *testing.T) {
	w := post(t, newRouter(&fakeResolver{set: recipients.NewSet("directory")}, api.RouterOptions{}), `{"org_id":"o1"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recipients":[]`)
}

func TestResolve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"timeout", &recipients.ResolutionError{Cause: recipients.Timeout, Provider: "rbac"}, http.StatusGatewayTimeout},
		{"unauthorized", &recipients.ResolutionError{Cause: recipients.Unauthorized, Provider: "rbac"}, http.StatusUnauthorized},
		{"backend unavailable", &recipients.ResolutionError{Cause: recipients.BackendUnavailable, Provider: "mbop"}, http.StatusServiceUnavailable},
		{"malformed", &recipients.ResolutionError{Cause: recipients.Malformed, Provider: "kessel"}, http.StatusBadGateway},
		{"wrapped", fmt.Errorf("resolve: %w", &recipients.ResolutionError{Cause: recipients.Malformed}), http.StatusBadGateway},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, newRouter(&fakeResolver{err: tt.err}, api.RouterOptions{}), `{"org_id":"o1"}`, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestResolve_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing org", `{}`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{set: sampleSet()}
			w := post(t, newRouter(res, api.RouterOptions{}), tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, res.calls())
		})
	}
}

func TestResolve_WithAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	validator := auth.NewJWTValidatorFromKey(&key.PublicKey, "harborconnect", "harborconnect-resolver")
	token, err := auth.IssueToken(key, "k1", "harborconnect", "harborconnect-resolver", "o1", time.Hour)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + token}

	tests := []struct {
		name       string
		body       string
		headers    map[string]string
		wantStatus int
		wantOrg    string
	}{
		{"org from claim", `{}`, bearer, http.StatusOK, "o1"},
		{"no body uses claim", ``, bearer, http.StatusOK, "o1"},
		{"matching org", `{"org_id":"o1"}`, bearer, http.StatusOK, "o1"},
		{"other org", `{"org_id":"o2"}`, bearer, http.StatusForbidden, ""},
		{"no token", `{"org_id":"o1"}`, nil, http.StatusUnauthorized, ""},
		{"gateway header without trust", `{"org_id":"victim-org"}`, map[string]string{auth.OrgIDHeader: "victim-org"}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{set: sampleSet()}
			h := newRouter(res, api.RouterOptions{Auth: validator})

			w := post(t, h, tt.body, tt.headers)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantOrg != "" {
				assert.Equal(t, []string{tt.wantOrg}, res.calls())
			} else {
				assert.Empty(t, res.calls())
			}
		})
	}
}

func TestResolve_TrustedGatewayHeader(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	validator := auth.NewJWTValidatorFromKey(&key.PublicKey, "harborconnect", "harborconnect-resolver").TrustGatewayHeader(true)
	res := &fakeResolver{set: sampleSet()}
	h := newRouter(res, api.RouterOptions{Auth: validator})

	w := post(t, h, `{}`, map[string]string{auth.OrgIDHeader: "o9"})

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"o9"}, res.calls())
}

func TestRouter_HealthAndMetricsAreOpen(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })

	h := newRouter(&fakeResolver{}, api.RouterOptions{
		Auth:    auth.NewJWTValidatorFromKey(&key.PublicKey, "i", "a"),
		Health:  ok,
		Metrics: ok,
	})

	for _, path := range []string{"/healthz", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_RequestTimeout(t *testing.T) {
	res := &fakeResolver{block: true}
	h := newRouter(res, api.RouterOptions{RequestTimeout: 20 * time.Millisecond})

	w := post(t, h, `{"org_id":"o1"}`, nil)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	h := newRouter(&fakeResolver{}, api.RouterOptions{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/recipients", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
