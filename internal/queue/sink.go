package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/connector"
	"github.com/austindbirch/harbor_connect/internal/delivery"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/retry"
	"github.com/austindbirch/harbor_connect/internal/tracing"
)

// Publisher is the part of *nsq.Producer the sink needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NewProducer builds the producer used for outcome reports. It connects lazily
// on the first Publish or Ping.
func NewProducer(cfg config.NSQ, logger *logging.Logger) (*nsq.Producer, error) {
	p, err := nsq.NewProducer(cfg.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)
	return p, nil
}

// Sink reports outcomes to the engine: successes on one topic, failures on
// another.
type Sink struct {
	pub          Publisher
	successTopic string
	failureTopic string
	policy       retry.Policy
}

func NewSink(pub Publisher, cfg config.NSQ) *Sink {
	return &Sink{
		pub:          pub,
		successTopic: cfg.SuccessTopic,
		failureTopic: cfg.FailureTopic,
		policy:       retry.DefaultPolicy(),
	}
}

// WithRetryPolicy replaces the publish retry policy.
func (s *Sink) WithRetryPolicy(p retry.Policy) *Sink {
	s.policy = p
	return s
}

// publishError marks nsqd publish failures as retryable.
type publishError struct{ err error }

func (e publishError) Error() string   { return e.err.Error() }
func (e publishError) Unwrap() error   { return e.err }
func (e publishError) Transient() bool { return true }

func (s *Sink) Report(ctx context.Context, o connector.Outcome) error {
	u := delivery.Unit{Index: o.UnitIndex, Count: o.UnitCount}

	var (
		topic string
		msg   any
	)
	if o.Succeeded() {
		topic = s.successTopic
		msg = delivery.NewSuccessReport(o.RouteID, o.CorrelationID, o.OrgID, o.AccountID, o.Target, u)
	} else {
		d := o.Diagnostic
		topic = s.failureTopic
		msg = delivery.NewFailureReport(o.RouteID, o.CorrelationID, o.OrgID, d.Kind, d.Detail, d.StatusCode, u)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = retry.Do(ctx, s.policy, func(context.Context) (struct{}, error) {
		if err := s.pub.Publish(topic, b); err != nil {
			return struct{}{}, publishError{err}
		}
		return struct{}{}, nil
	}, func(attempt int, err error, delay time.Duration) {
		tracing.AddSpanEvent(ctx, "nsq.publish_retry",
			attribute.String("topic", topic),
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		)
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published", attribute.String("topic", topic))
	return nil
}
