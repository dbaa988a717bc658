// Package queue connects connector pipelines to NSQ: it decodes engine
// messages from the inbound topic and publishes outcome reports back.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/connector"
	"github.com/austindbirch/harbor_connect/internal/delivery"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/metrics"
)

// touchInterval keeps a message leased while it waits for a free worker.
const touchInterval = 30 * time.Second

var errShuttingDown = errors.New("connector shutting down")

// DecodeEvent turns an inbound message body into a pipeline event. A missing
// correlation id is replaced with a fresh one.
func DecodeEvent(body []byte) (connector.Event, error) {
	var in delivery.Inbound
	if err := json.Unmarshal(body, &in); err != nil {
		return connector.Event{}, fmt.Errorf("decode inbound message: %w", err)
	}
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}
	e := connector.Event{
		Routing: connector.Routing{
			CorrelationID: in.CorrelationID,
			OrgID:         in.OrgID,
			AccountID:     in.AccountID,
			Target:        in.TargetURL,
			AuthToken:     in.AuthToken,
			TrustAll:      in.TrustAll,
		},
		Payload:      in.Payload,
		TraceHeaders: in.TraceHeaders,
	}
	if err := e.Validate(); err != nil {
		return connector.Event{}, fmt.Errorf("invalid inbound message %s: %w", in.CorrelationID, err)
	}
	return e, nil
}

// Handler hands decoded messages to a pipeline. A message is finished once a
// pipeline worker has taken it; it is requeued when the connector stops first.
type Handler struct {
	ctx    context.Context
	route  string
	out    chan<- connector.Event
	logger *logging.Logger
}

func NewHandler(ctx context.Context, route string, out chan<- connector.Event, logger *logging.Logger) *Handler {
	return &Handler{ctx: ctx, route: route, out: out, logger: logger}
}

func (h *Handler) HandleMessage(m *nsq.Message) error {
	e, err := DecodeEvent(m.Body)
	if err != nil {
		// terminal: a bad payload never becomes deliverable
		h.logger.Plain().WithRoute(h.route).WithError(err).Error("bad inbound payload")
		metrics.RecordFailure(h.route, "malformed_message")
		return nil
	}

	touch := time.NewTicker(touchInterval)
	defer touch.Stop()
	for {
		select {
		case h.out <- e:
			return nil
		case <-touch.C:
			m.Touch()
		case <-h.ctx.Done():
			return errShuttingDown
		}
	}
}

// NewConsumer builds a consumer of the inbound topic. Call Connect to start it.
func NewConsumer(cfg config.NSQ, h nsq.Handler, logger *logging.Logger) (*nsq.Consumer, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.MaxInFlight
	c, err := nsq.NewConsumer(cfg.InboundTopic, cfg.Channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	c.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)
	c.AddHandler(h)
	return c, nil
}

// Connect attaches the consumer to nsqd directly, which creates the channel
// up front, and then to lookupd.
func Connect(c *nsq.Consumer, cfg config.NSQ) error {
	if err := c.ConnectToNSQD(cfg.NsqdTCPAddr); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}
	if cfg.LookupHTTPAddr != "" {
		if err := c.ConnectToNSQLookupd(cfg.LookupHTTPAddr); err != nil {
			return fmt.Errorf("connect to lookupd: %w", err)
		}
	}
	return nil
}

// nsqLogger routes go-nsq's internal log lines through the service logger.
type nsqLogger struct {
	logger *logging.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	l.logger.Plain().WithField("component", "nsq").Warn(s)
	return nil
}
