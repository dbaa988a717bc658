package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/tracing"
)

// Failure kinds reported on the failure channel and in metrics.
const (
	KindTransportFailure     = "transport_failure"
	KindTransportUnavailable = "transport_unavailable"
	KindInvariantViolation   = "invariant_violation"
	KindOther                = "other"
)

// ErrInvariantViolation marks a pipeline state that must never happen, such as
// a splitter returning no units.
var ErrInvariantViolation = errors.New("pipeline invariant violated")

const (
	httpFailureTemplate    = "Message sending failed on %s: [orgId=%s, historyId=%s] with status code [%d] and body [%s]"
	defaultFailureTemplate = "Message sending failed on %s: [orgId=%s, historyId=%s, targetUrl=%s]"
)

// FailureContext identifies the unit a failure belongs to.
type FailureContext struct {
	RouteID string
	Routing
	UnitIndex int
}

// Diagnostic is the structured outcome of classifying one failure.
type Diagnostic struct {
	Kind          string
	RouteID       string
	OrgID         string
	CorrelationID string
	StatusCode    int    // only for transport failures
	Body          string // only for transport failures
	Detail        string
}

// Classifier turns delivery errors into diagnostics and logs each one once,
// at error level. It never retries.
type Classifier struct {
	logger *logging.Logger
}

func NewClassifier(logger *logging.Logger) *Classifier {
	return &Classifier{logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, err error, fc FailureContext) Diagnostic {
	d := Diagnostic{
		RouteID:       fc.RouteID,
		OrgID:         fc.OrgID,
		CorrelationID: fc.CorrelationID,
	}
	entry := c.logger.WithContext(ctx).
		WithRoute(fc.RouteID).
		WithOrg(fc.OrgID).
		WithCorrelation(fc.CorrelationID).
		WithField("unit", fc.UnitIndex)

	var tf *TransportFailure
	if errors.As(err, &tf) {
		d.Kind = KindTransportFailure
		d.StatusCode = tf.StatusCode
		d.Body = tf.Body
		d.Detail = fmt.Sprintf(httpFailureTemplate, fc.RouteID, fc.OrgID, fc.CorrelationID, tf.StatusCode, tf.Body)
		entry.WithField("status_code", tf.StatusCode).Error(d.Detail)
		tracing.SetSpanError(ctx, err)
		return d
	}

	var tu *TransportUnavailable
	switch {
	case errors.As(err, &tu):
		d.Kind = KindTransportUnavailable
	case errors.Is(err, ErrInvariantViolation):
		d.Kind = KindInvariantViolation
	default:
		d.Kind = KindOther
	}
	msg := fmt.Sprintf(defaultFailureTemplate, fc.RouteID, fc.OrgID, fc.CorrelationID, fc.Target)
	d.Detail = msg
	if err != nil {
		d.Detail = msg + ": " + err.Error()
	}
	entry.WithTarget(fc.Target).WithField("kind", d.Kind).WithError(err).Error(msg)
	tracing.SetSpanError(ctx, err)
	return d
}
