package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/austindbirch/harbor_connect/internal/connector"
	"github.com/austindbirch/harbor_connect/internal/logging"
)

// receiver stands in for connector destinations: a webhook endpoint and a
// Splunk HEC collector.
type receiver struct {
	failFirstN int
	token      string // expected credential, empty accepts anything
	logger     *logging.Logger

	mu       sync.Mutex
	reqCount int
	events   int
}

func newReceiver(failFirstN int, token string, logger *logging.Logger) *receiver {
	return &receiver{failFirstN: failFirstN, token: token, logger: logger}
}

// admit counts the request and reports whether it should be failed to
// simulate a flaky destination.
func (rc *receiver) admit() (n int, fail bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.reqCount++
	return rc.reqCount, rc.reqCount <= rc.failFirstN
}

func (rc *receiver) addEvents(n int) {
	rc.mu.Lock()
	rc.events += n
	rc.mu.Unlock()
}

func (rc *receiver) authorized(r *http.Request, scheme string) bool {
	return rc.token == "" || r.Header.Get("Authorization") == scheme+" "+rc.token
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if !rc.authorized(r, "Bearer") {
		rc.logger.Plain().WithField("path", r.URL.Path).Warn("fake-receiver rejected credentials")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// Simulate flakiness: first N request -> 500
	if n, fail := rc.admit(); fail {
		rc.logger.Plain().WithFields(map[string]any{"n": n, "of": rc.failFirstN, "body": truncate(string(b), 160)}).Info("FAILING")
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	rc.addEvents(1)
	rc.logger.Plain().WithFields(map[string]any{"path": r.URL.Path, "body": truncate(string(b), 160)}).Info("fake-receiver OK")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// hecEnvelope is one event of a HEC batch.
type hecEnvelope struct {
	Event      json.RawMessage `json:"event"`
	Source     string          `json:"source"`
	SourceType string          `json:"sourcetype"`
}

// countHECEvents decodes a batch of concatenated HEC envelopes.
func countHECEvents(body []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	n := 0
	for {
		var env hecEnvelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("event %d: %w", n, err)
		}
		if len(env.Event) == 0 {
			return n, fmt.Errorf("event %d: missing event field", n)
		}
		n++
	}
	if n == 0 {
		return 0, errors.New("no data")
	}
	return n, nil
}

func writeHEC(w http.ResponseWriter, status, code int, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"text": text, "code": code})
}

func (rc *receiver) handleHEC(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if !rc.authorized(r, "Splunk") {
		writeHEC(w, http.StatusUnauthorized, 4, "Invalid token")
		return
	}
	if n, fail := rc.admit(); fail {
		rc.logger.Plain().WithFields(map[string]any{"n": n, "of": rc.failFirstN}).Info("FAILING")
		writeHEC(w, http.StatusServiceUnavailable, 9, "Server is busy")
		return
	}

	count, err := countHECEvents(b)
	if err != nil {
		writeHEC(w, http.StatusBadRequest, 6, "Invalid data format: "+err.Error())
		return
	}
	rc.addEvents(count)
	rc.logger.Plain().WithField("events", count).Info("fake-receiver HEC OK")
	writeHEC(w, http.StatusOK, 0, "Success")
}

func (rc *receiver) handleStats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	stats := map[string]int{"requests": rc.reqCount, "events": rc.events}
	rc.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("GET /stats", rc.handleStats)
	mux.HandleFunc("POST /hook", rc.handleHook)
	mux.HandleFunc("POST "+connector.HECPath, rc.handleHEC)
	return mux
}

func main() {
	logger := logging.New("harborconnect-fake-receiver")

	failFirstN := 0
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			failFirstN = n
		}
	}
	rc := newReceiver(failFirstN, os.Getenv("EXPECTED_TOKEN"), logger)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	logger.Plain().WithField("addr", addr).Info("fake-receiver listening")
	srv := &http.Server{Addr: addr, Handler: rc.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-receiver failed")
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
