package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/austindbirch/harbor_connect/internal/auth"
	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/logging"
)

const (
	defaultKeyID = "harborconnect-key-1"
	defaultTTL   = time.Hour
)

// keyServer issues development tokens for the resolver API and publishes the
// matching JWKS.
type keyServer struct {
	key      *rsa.PrivateKey
	kid      string
	issuer   string
	audience string
}

// loadPrivateKey parses a PKCS1 or PKCS8 PEM key, or generates one when pemKey
// is empty.
func loadPrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	if pemKey == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM private key")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}

func (s *keyServer) jwksHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(auth.JSONWebKeySet{
		Keys: []auth.JSONWebKey{auth.NewJSONWebKey(&s.key.PublicKey, s.kid)},
	})
}

type tokenRequest struct {
	OrgID string `json:"org_id"`
	TTL   int    `json:"ttl_seconds,omitempty"`
}

func (s *keyServer) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.OrgID == "" {
		http.Error(w, "org_id is required", http.StatusBadRequest)
		return
	}
	if req.TTL < 0 {
		http.Error(w, "ttl_seconds must not be negative", http.StatusBadRequest)
		return
	}

	ttl := defaultTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}

	token, err := auth.IssueToken(s.key, s.kid, s.issuer, s.audience, req.OrgID, ttl)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"expires_in": int(ttl.Seconds()),
		"token_type": "Bearer",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *keyServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", s.jwksHandler)
	mux.HandleFunc("POST /token", s.createTokenHandler)
	mux.HandleFunc("GET /healthz", healthHandler)
	return mux
}

func main() {
	logger := logging.New("harborconnect-jwks-server")
	authCfg := config.FromEnv().Auth

	key, err := loadPrivateKey(os.Getenv("JWT_PRIVATE_KEY"))
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to load signing key")
	}
	kid := authCfg.JWKSKeyID
	if kid == "" {
		kid = defaultKeyID
	}
	s := &keyServer{key: key, kid: kid, issuer: authCfg.Issuer, audience: authCfg.Audience}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8083"
	}

	logger.Plain().WithFields(map[string]any{
		"port": port,
		"kid":  kid,
	}).Info("JWKS server starting")

	srv := &http.Server{Addr: ":" + port, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("Server failed to start")
	}
}
