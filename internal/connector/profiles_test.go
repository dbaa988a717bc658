package connector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/logging"
)

func connectorConfig(kind string) config.Connector {
	return config.Connector{
		Name:                 kind,
		Kind:                 kind,
		Workers:              2,
		HECBatchSize:         2,
		EndpointCacheMaxSize: 10,
		HTTPSConnectTimeout:  time.Second,
		HTTPSSocketTimeout:   time.Second,
		EmailMode:            "gateway",
	}
}

func TestNewProfile(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.Connector
		wantAuth      string
		wantEmptyAuth string
		wantSMTP      bool
		wantBatch     bool
	}{
		{"webhook", connectorConfig(KindWebhook), "Bearer tok", "", false, false},
		{"splunk", connectorConfig(KindSplunk), "Splunk tok", "Splunk ", false, true},
		{"email gateway", connectorConfig(KindEmail), "Basic tok", "", false, false},
		{"email smtp", func() config.Connector {
			c := connectorConfig(KindEmail)
			c.EmailMode = "smtp"
			return c
		}(), "", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := NewProfile(tt.cfg)
			require.NoError(t, err)

			assert.Equal(t, tt.cfg.Name, p.RouteID)
			if p.Authorize != nil {
				assert.Equal(t, tt.wantAuth, p.Authorize("tok"))
				assert.Equal(t, tt.wantEmptyAuth, p.Authorize(""))
			} else {
				assert.Empty(t, tt.wantAuth)
			}
			_, isSMTP := p.Sender.(*SMTPSender)
			assert.Equal(t, tt.wantSMTP, isSMTP)
			_, isBatch := p.Splitter.(BatchSplitter)
			assert.Equal(t, tt.wantBatch, isBatch)
		})
	}
}

func TestNewProfile_UnknownKind(t *testing.T) {
	_, _, err := NewProfile(connectorConfig("pager"))
	assert.Error(t, err)
}

func TestNewProfile_RouteFallsBackToKind(t *testing.T) {
	cfg := connectorConfig(KindWebhook)
	cfg.Name = ""
	p, _, err := NewProfile(cfg)
	require.NoError(t, err)
	assert.Equal(t, KindWebhook, p.RouteID)
}

func TestSplunkConnectorPostsHECBatches(t *testing.T) {
	var bodies []string
	var auth, path string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"text":"Success","code":0}`))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p, err := New(connectorConfig(KindSplunk), sink, logging.NewWithWriter("test", io.Discard))
	require.NoError(t, err)

	e := testEvent(`[{"n":0},{"n":1},{"n":2}]`)
	e.Target = "http://" + srv.Listener.Addr().String() // forced to https
	e.TrustAll = true

	results := p.Process(context.Background(), e)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StateAcknowledged, r.State)
	}

	assert.Equal(t, "Splunk tok", auth)
	assert.Equal(t, HECPath, path)
	require.Len(t, bodies, 2)
	assert.Equal(t,
		`{"event":{"n":0},"source":"eventing","sourcetype":"Insights event"}{"event":{"n":1},"source":"eventing","sourcetype":"Insights event"}`,
		bodies[0])
	assert.Equal(t, `{"event":{"n":2},"source":"eventing","sourcetype":"Insights event"}`, bodies[1])
	assert.Len(t, sink.all(), 2)
}

func TestSplunkConnectorSendsHeaderWithoutToken(t *testing.T) {
	var auth []string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Values("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p, err := New(connectorConfig(KindSplunk), sink, logging.NewWithWriter("test", io.Discard))
	require.NoError(t, err)

	e := testEvent(`{"n":0}`)
	e.Target = "https://" + srv.Listener.Addr().String()
	e.TrustAll = true
	e.AuthToken = ""

	results := p.Process(context.Background(), e)
	require.Len(t, results, 1)

	require.Len(t, auth, 1)
	assert.Equal(t, "Splunk", strings.TrimSpace(auth[0]))
	assert.NotEqual(t, StateAcknowledged, results[0].State)
}
