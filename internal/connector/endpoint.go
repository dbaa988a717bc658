package connector

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/austindbirch/harbor_connect/internal/metrics"
)

// TrustMode selects how a handle validates the destination certificate.
type TrustMode int

const (
	Verified TrustMode = iota
	TrustAll
)

func TrustModeOf(trustAll bool) TrustMode {
	if trustAll {
		return TrustAll
	}
	return Verified
}

func (m TrustMode) String() string {
	if m == TrustAll {
		return "trust_all"
	}
	return "verified"
}

// Timeouts applies to every handle a Selector builds.
type Timeouts struct {
	Connect time.Duration
	Socket  time.Duration
}

// Handle is a configured sender for one (target, trust mode) pair. Handles are
// immutable and shared between workers.
type Handle struct {
	Target string
	Mode   TrustMode
	URL    *url.URL
	client *http.Client
}

func (h *Handle) Client() *http.Client {
	return h.client
}

type endpointKey struct {
	target string
	mode   TrustMode
}

// Selector hands out cached endpoint handles. The cache is a thread-safe LRU
// bounded to the configured size.
type Selector struct {
	cache    *lru.Cache[endpointKey, *Handle]
	timeouts Timeouts
	path     string // appended when the target has no path
	schemes  map[string]bool
	forced   string // scheme every handle uses regardless of the target's

	once     sync.Once
	verified *http.Client
	trustAll *http.Client

	constructions atomic.Int64
}

type SelectorOption func(*Selector)

// WithSchemes replaces the accepted target schemes (http and https by default).
func WithSchemes(schemes ...string) SelectorOption {
	return func(s *Selector) {
		s.schemes = make(map[string]bool, len(schemes))
		for _, sc := range schemes {
			s.schemes[sc] = true
		}
	}
}

// WithForcedScheme posts to the scheme-less form of every target over the
// given scheme, so "http://splunk:8088" is reached as "https://splunk:8088".
func WithForcedScheme(scheme string) SelectorOption {
	return func(s *Selector) { s.forced = scheme }
}

// WithDefaultPath sets the path used for targets that have none, e.g. the
// HEC collector path.
func WithDefaultPath(path string) SelectorOption {
	return func(s *Selector) { s.path = path }
}

func NewSelector(maxSize int, timeouts Timeouts, opts ...SelectorOption) (*Selector, error) {
	cache, err := lru.New[endpointKey, *Handle](maxSize)
	if err != nil {
		return nil, fmt.Errorf("endpoint cache: %w", err)
	}
	s := &Selector{
		cache:    cache,
		timeouts: timeouts,
		schemes:  map[string]bool{"http": true, "https": true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Select returns the handle for target in the given mode, building it on a
// cache miss.
func (s *Selector) Select(target string, mode TrustMode) (*Handle, error) {
	key := endpointKey{target: target, mode: mode}
	if h, ok := s.cache.Get(key); ok {
		metrics.RecordEndpointCache(true)
		return h, nil
	}
	metrics.RecordEndpointCache(false)

	h, err := s.build(target, mode)
	if err != nil {
		return nil, err
	}
	if prev, ok, _ := s.cache.PeekOrAdd(key, h); ok {
		return prev, nil
	}
	return h, nil
}

// Cached reports whether a handle is cached without touching its recency.
func (s *Selector) Cached(target string, mode TrustMode) bool {
	return s.cache.Contains(endpointKey{target: target, mode: mode})
}

func (s *Selector) Len() int {
	return s.cache.Len()
}

// Constructions counts handles built so far, i.e. cache misses that resolved
// to a valid target.
func (s *Selector) Constructions() int64 {
	return s.constructions.Load()
}

func (s *Selector) build(target string, mode TrustMode) (*Handle, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if s.forced != "" && u.Scheme != "" {
		u.Scheme = s.forced
	}
	if !s.schemes[u.Scheme] {
		return nil, fmt.Errorf("invalid target %q: unsupported scheme %q", target, u.Scheme)
	}
	if u.Host == "" && u.Opaque == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", target)
	}
	if s.path != "" && (u.Path == "" || u.Path == "/") {
		u.Path = s.path
	}

	s.once.Do(s.initClients)
	client := s.verified
	if mode == TrustAll {
		client = s.trustAll
	}

	s.constructions.Add(1)
	return &Handle{Target: target, Mode: mode, URL: u, client: client}, nil
}

// initClients builds the two shared clients. Timeouts are applied here, once.
func (s *Selector) initClients() {
	s.verified = newClient(s.timeouts, nil)
	s.trustAll = newClient(s.timeouts, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // per-event opt-in
}

func newClient(t Timeouts, tlsConfig *tls.Config) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   t.Connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Socket,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       tlsConfig,
	}
	timeout := time.Duration(0)
	if t.Connect > 0 && t.Socket > 0 {
		timeout = t.Connect + t.Socket
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}
