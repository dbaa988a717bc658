package toggle

import (
	"net/http"

	"github.com/Unleash/unleash-client-go/v4"

	"github.com/austindbirch/harbor_connect/internal/logging"
)

// UnleashChecker looks toggles up in an Unleash server.
type UnleashChecker struct {
	client *unleash.Client
}

type unleashListener struct {
	logger *logging.Logger
}

func (l unleashListener) OnError(err error) {
	l.logger.Plain().WithError(err).Warn("unleash error")
}

func (l unleashListener) OnWarning(err error) {
	l.logger.Plain().WithError(err).Warn("unleash warning")
}

func (l unleashListener) OnReady() {
	l.logger.Plain().Info("unleash client ready")
}

// NewUnleashChecker starts an Unleash client. It does not wait for the first
// fetch; until then every lookup returns its fallback.
func NewUnleashChecker(appName, url, token string, logger *logging.Logger) (*UnleashChecker, error) {
	opts := []unleash.ConfigOption{
		unleash.WithAppName(appName),
		unleash.WithUrl(url),
		unleash.WithListener(unleashListener{logger: logger}),
	}
	if token != "" {
		opts = append(opts, unleash.WithCustomHeaders(http.Header{"Authorization": {token}}))
	}
	client, err := unleash.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &UnleashChecker{client: client}, nil
}

func (u *UnleashChecker) IsEnabled(name string, fallback bool) bool {
	return u.client.IsEnabled(name, unleash.WithFallback(fallback))
}

func (u *UnleashChecker) Close() error {
	return u.client.Close()
}
