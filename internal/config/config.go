package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	MaxConns int
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151, used for backlog stats
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	InboundTopic   string // engine -> connector events
	Channel        string // NSQ channel name for connector workers
	SuccessTopic   string // connector -> engine success reports
	FailureTopic   string // connector -> engine failure reports
	MaxInFlight    int
}

type SMTP struct {
	Host       string
	Port       int
	Username   string
	Password   string
	FromAddr   string
	Encryption string // none, starttls, ssl_tls
}

type Connector struct {
	Name                 string        // route identifier, e.g. "splunk"
	Kind                 string        // webhook, splunk, email
	Workers              int           // concurrent pipeline workers
	HECBatchSize         int           // max events per Splunk HEC batch
	EndpointCacheMaxSize int           // max cached endpoint handles
	HTTPSConnectTimeout  time.Duration // dial timeout of the shared transports
	HTTPSSocketTimeout   time.Duration // response timeout of the shared transports
	EmailMode            string        // gateway or smtp
	SMTP                 SMTP
}

type Resolver struct {
	MaxResultsPerPage     int
	RetryInitialBackoff   time.Duration
	RetryMaxAttempts      int
	RetryMaxBackoff       time.Duration
	RetryMultiplier       float64
	WarnIfDurationExceeds time.Duration
	BackendMaxRPS         float64 // 0 disables the backend limiter
	RequestTimeout        time.Duration
	RBACURL               string
	RBACPSK               string
	MBOPURL               string
	MBOPAPIToken          string
	MBOPClientID          string
	MBOPEnv               string
	KesselTargetURL       string
	KesselUseSecureClient bool
}

type Toggles struct {
	UnleashEnabled bool
	UnleashURL     string
	UnleashToken   string
	UseKessel      bool
	UseRBAC        bool
	UseMBOP        bool
}

type Auth struct {
	PublicKeyPEM string
	JWKSURL      string // used when no PEM key is configured
	JWKSKeyID    string
	Issuer       string
	Audience     string

	// TrustGatewayHeader accepts X-Org-Id without a token. Off unless the
	// resolver only sits behind an authenticating gateway.
	TrustGatewayHeader bool
}

type Tracing struct {
	OTLPEndpoint   string
	ServiceVersion string
}

type Config struct {
	AppName          string
	HTTPPort         string // connector health/metrics
	ResolverHTTPPort string // resolver API
	DB               DB
	NSQ              NSQ
	Connector        Connector
	Resolver         Resolver
	Toggles          Toggles
	Auth             Auth
	Tracing          Tracing
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:          getenv("APP_NAME", "harborconnect"),
		HTTPPort:         getenv("HTTP_PORT", ":8082"),
		ResolverHTTPPort: getenv("RESOLVER_HTTP_PORT", ":8090"),
		DB: DB{
			User:     getenv("DB_USER", "postgres"),
			Pass:     getenv("DB_PASS", "postgres"),
			Host:     getenv("DB_HOST", "postgres"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "harborconnect"),
			MaxConns: getenvInt("DB_MAX_CONNS", 10),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			InboundTopic:   getenv("NSQ_INBOUND_TOPIC", "engine_to_connector"),
			Channel:        getenv("NSQ_CONNECTOR_CHANNEL", "connectors"),
			SuccessTopic:   getenv("NSQ_SUCCESS_TOPIC", "connector_success"),
			FailureTopic:   getenv("NSQ_FAILURE_TOPIC", "connector_failure"),
			MaxInFlight:    getenvInt("NSQ_MAX_IN_FLIGHT", 200),
		},
		Connector: Connector{
			Name:                 getenv("CONNECTOR_NAME", "webhook"),
			Kind:                 getenv("CONNECTOR_KIND", "webhook"),
			Workers:              getenvInt("CONNECTOR_WORKERS", 16),
			HECBatchSize:         getenvInt("SPLUNK_HEC_BATCH_SIZE", 1),
			EndpointCacheMaxSize: getenvInt("ENDPOINT_CACHE_MAX_SIZE", 100),
			HTTPSConnectTimeout:  getenvDuration("HTTPS_CONNECT_TIMEOUT", 2500*time.Millisecond),
			HTTPSSocketTimeout:   getenvDuration("HTTPS_SOCKET_TIMEOUT", 2500*time.Millisecond),
			EmailMode:            getenv("EMAIL_MODE", "gateway"),
			SMTP: SMTP{
				Host:       getenv("SMTP_HOST", "localhost"),
				Port:       getenvInt("SMTP_PORT", 587),
				Username:   getenv("SMTP_USERNAME", ""),
				Password:   getenv("SMTP_PASSWORD", ""),
				FromAddr:   getenv("SMTP_FROM", "no-reply@harborconnect.local"),
				Encryption: getenv("SMTP_ENCRYPTION", "starttls"),
			},
		},
		Resolver: Resolver{
			MaxResultsPerPage:     getenvInt("RESOLVER_MAX_RESULTS_PER_PAGE", 1000),
			RetryInitialBackoff:   getenvDuration("RESOLVER_RETRY_INITIAL_BACKOFF", 100*time.Millisecond),
			RetryMaxAttempts:      getenvInt("RESOLVER_RETRY_MAX_ATTEMPTS", 3),
			RetryMaxBackoff:       getenvDuration("RESOLVER_RETRY_MAX_BACKOFF", time.Second),
			RetryMultiplier:       getenvFloat("RESOLVER_RETRY_MULTIPLIER", 2.0),
			WarnIfDurationExceeds: getenvDuration("RESOLVER_WARN_IF_REQUEST_DURATION_EXCEEDS", 30*time.Second),
			BackendMaxRPS:         getenvFloat("RESOLVER_BACKEND_MAX_RPS", 0),
			RequestTimeout:        getenvDuration("RESOLVER_REQUEST_TIMEOUT", 10*time.Second),
			RBACURL:               getenv("RBAC_URL", "http://rbac:8080"),
			RBACPSK:               getenv("RBAC_PSK", ""),
			MBOPURL:               getenv("MBOP_URL", "http://mbop:8090"),
			MBOPAPIToken:          getenv("MBOP_API_TOKEN", "na"),
			MBOPClientID:          getenv("MBOP_CLIENT_ID", "na"),
			MBOPEnv:               getenv("MBOP_ENV", "na"),
			KesselTargetURL:       getenv("KESSEL_TARGET_URL", "localhost:9000"),
			KesselUseSecureClient: getenvBool("KESSEL_SECURE_CLIENT", false),
		},
		Toggles: Toggles{
			UnleashEnabled: getenvBool("UNLEASH_ENABLED", false),
			UnleashURL:     getenv("UNLEASH_URL", "http://unleash:4242/api"),
			UnleashToken:   getenv("UNLEASH_TOKEN", ""),
			UseKessel:      getenvBool("USE_KESSEL_ENABLED", false),
			UseRBAC:        getenvBool("FETCH_USERS_RBAC_ENABLED", false),
			UseMBOP:        getenvBool("FETCH_USERS_MBOP_ENABLED", false),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("JWT_PUBLIC_KEY", ""),
			JWKSURL:      getenv("JWKS_URL", ""),
			JWKSKeyID:    getenv("JWKS_KEY_ID", ""),
			Issuer:       getenv("JWT_ISSUER", "harborconnect"),
			Audience:     getenv("JWT_AUDIENCE", "harborconnect-resolver"),

			TrustGatewayHeader: getenvBool("AUTH_TRUST_GATEWAY_HEADER", false),
		},
		Tracing: Tracing{
			OTLPEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "tempo:4318"),
			ServiceVersion: getenv("SERVICE_VERSION", "dev"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Settings returns the resolver and connector settings logged once at startup.
// Secrets are left out.
func (c Config) Settings() map[string]any {
	return map[string]any{
		"connector.name":                               c.Connector.Name,
		"connector.kind":                               c.Connector.Kind,
		"connector.workers":                            c.Connector.Workers,
		"connector.endpoint-cache-max-size":            c.Connector.EndpointCacheMaxSize,
		"connector.https-connect-timeout":              c.Connector.HTTPSConnectTimeout.String(),
		"connector.https-socket-timeout":               c.Connector.HTTPSSocketTimeout.String(),
		"connector.splunk.hec-batch-size":              c.Connector.HECBatchSize,
		"connector.email.mode":                         c.Connector.EmailMode,
		"recipients-resolver.max-results-per-page":     c.Resolver.MaxResultsPerPage,
		"recipients-resolver.retry.initial-backoff":    c.Resolver.RetryInitialBackoff.String(),
		"recipients-resolver.retry.max-attempts":       c.Resolver.RetryMaxAttempts,
		"recipients-resolver.retry.max-backoff":        c.Resolver.RetryMaxBackoff.String(),
		"recipients-resolver.retry.multiplier":         c.Resolver.RetryMultiplier,
		"recipients-resolver.warn-if-duration-exceeds": c.Resolver.WarnIfDurationExceeds.String(),
		"recipients-resolver.mbop.env":                 c.Resolver.MBOPEnv,
		"recipients-resolver.kessel.target-url":        c.Resolver.KesselTargetURL,
		"recipients-resolver.kessel.secure-client":     c.Resolver.KesselUseSecureClient,
		"unleash.enabled":                              c.Toggles.UnleashEnabled,
	}
}
