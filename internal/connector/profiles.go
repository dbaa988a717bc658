package connector

import (
	"fmt"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/logging"
)

const (
	KindWebhook = "webhook"
	KindSplunk  = "splunk"
	KindEmail   = "email"

	// HECPath is used for Splunk targets given without a path.
	HECPath = "/services/collector/event"
)

// prefixed omits the header when the target has no token.
func prefixed(scheme string) func(string) string {
	return func(token string) string {
		if token == "" {
			return ""
		}
		return scheme + " " + token
	}
}

// splunkAuth sends the header even when the target has no token.
func splunkAuth(token string) string {
	return "Splunk " + token
}

// NewProfile returns the profile and selector options for a connector kind.
func NewProfile(cfg config.Connector) (Profile, []SelectorOption, error) {
	route := cfg.Name
	if route == "" {
		route = cfg.Kind
	}

	switch cfg.Kind {
	case KindWebhook:
		return Profile{
			RouteID:   route,
			Splitter:  IdentitySplitter{},
			Authorize: prefixed("Bearer"),
			Sender:    HTTPSender{},
		}, nil, nil

	case KindSplunk:
		profile := Profile{
			RouteID:   route,
			Splitter:  BatchSplitter{MaxBatch: cfg.HECBatchSize, Encode: EncodeHEC},
			Authorize: splunkAuth,
			Sender:    HTTPSender{},
		}
		return profile, []SelectorOption{WithForcedScheme("https"), WithDefaultPath(HECPath)}, nil

	case KindEmail:
		if cfg.EmailMode == "smtp" {
			return Profile{
				RouteID:  route,
				Splitter: IdentitySplitter{},
				Sender: NewSMTPSender(SMTPConfig{
					Host:       cfg.SMTP.Host,
					Port:       cfg.SMTP.Port,
					Username:   cfg.SMTP.Username,
					Password:   cfg.SMTP.Password,
					FromAddr:   cfg.SMTP.FromAddr,
					Encryption: cfg.SMTP.Encryption,
					Timeout:    cfg.HTTPSConnectTimeout + cfg.HTTPSSocketTimeout,
				}),
			}, []SelectorOption{WithSchemes("mailto")}, nil
		}
		return Profile{
			RouteID:   route,
			Splitter:  IdentitySplitter{},
			Authorize: prefixed("Basic"),
			Sender:    HTTPSender{},
		}, nil, nil

	default:
		return Profile{}, nil, fmt.Errorf("unknown connector kind %q", cfg.Kind)
	}
}

// New builds the pipeline for the configured connector.
func New(cfg config.Connector, sink Sink, logger *logging.Logger) (*Pipeline, error) {
	profile, selOpts, err := NewProfile(cfg)
	if err != nil {
		return nil, err
	}
	selector, err := NewSelector(cfg.EndpointCacheMaxSize, Timeouts{
		Connect: cfg.HTTPSConnectTimeout,
		Socket:  cfg.HTTPSSocketTimeout,
	}, selOpts...)
	if err != nil {
		return nil, err
	}
	return NewPipeline(Options{
		Profile:  profile,
		Selector: selector,
		Sink:     sink,
		Workers:  cfg.Workers,
		Logger:   logger,
	})
}
