package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/metrics"
	"github.com/austindbirch/harbor_connect/internal/tracing"
)

// State is a step of the per-unit delivery state machine.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateSplit         State = "SPLIT"
	StateAuthenticated State = "AUTHENTICATED"
	StateRouted        State = "ROUTED"
	StateDelivering    State = "DELIVERING"
	StateAcknowledged  State = "ACKNOWLEDGED"
	StateFailed        State = "FAILED"
)

// Outcome is reported once per unit. Diagnostic is nil when the unit was
// acknowledged.
type Outcome struct {
	RouteID string
	Routing
	UnitIndex  int
	UnitCount  int
	Diagnostic *Diagnostic
}

func (o Outcome) Succeeded() bool { return o.Diagnostic == nil }

// Sink carries outcomes back to the engine, successes and failures on
// separate channels.
type Sink interface {
	Report(ctx context.Context, o Outcome) error
}

// Profile is what differs between connectors.
type Profile struct {
	RouteID   string
	Splitter  Splitter
	Authorize func(token string) string // returns the Authorization header value, "" for none
	Sender    Sender
}

type Options struct {
	Profile  Profile
	Selector *Selector
	Sink     Sink
	Workers  int
	Logger   *logging.Logger

	// OnTransition, when set, is called for every state a unit enters.
	// Unit index is -1 for event-level states.
	OnTransition func(correlationID string, unit int, s State)
}

// UnitResult is the final state of one unit.
type UnitResult struct {
	Index      int
	State      State
	Diagnostic *Diagnostic
}

type Pipeline struct {
	profile      Profile
	selector     *Selector
	classifier   *Classifier
	sink         Sink
	workers      int
	logger       *logging.Logger
	onTransition func(string, int, State)
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Profile.Splitter == nil || opts.Profile.Sender == nil {
		return nil, fmt.Errorf("connector: profile needs a splitter and a sender")
	}
	if opts.Selector == nil {
		return nil, fmt.Errorf("connector: selector is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("connector: sink is required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("harborconnect-connector")
	}
	if opts.Profile.Authorize == nil {
		opts.Profile.Authorize = func(string) string { return "" }
	}
	return &Pipeline{
		profile:      opts.Profile,
		selector:     opts.Selector,
		classifier:   NewClassifier(opts.Logger),
		sink:         opts.Sink,
		workers:      opts.Workers,
		logger:       opts.Logger,
		onTransition: opts.OnTransition,
	}, nil
}

func (p *Pipeline) RouteID() string { return p.profile.RouteID }

// Run processes events with the configured number of workers until events is
// closed or ctx is done. Events already taken by a worker are finished.
func (p *Pipeline) Run(ctx context.Context, events <-chan Event) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					p.Process(ctx, e)
				}
			}
		}()
	}
	wg.Wait()
}

// Process takes one event through the state machine and reports an outcome
// for every unit. Cancelling ctx does not interrupt deliveries in progress.
func (p *Pipeline) Process(ctx context.Context, e Event) []UnitResult {
	ctx = context.WithoutCancel(tracing.ExtractHeaders(ctx, e.TraceHeaders))
	ctx, span := tracing.StartSpan(ctx, "connector.process",
		attribute.String("route_id", p.profile.RouteID),
		attribute.String("correlation_id", e.CorrelationID),
		attribute.String("org_id", e.OrgID),
	)
	defer span.End()

	p.transition(ctx, e.CorrelationID, -1, StateReceived)
	metrics.RecordEventReceived(p.profile.RouteID)

	units := p.profile.Splitter.Split(e)
	if len(units) == 0 {
		err := fmt.Errorf("%w: splitter returned no units", ErrInvariantViolation)
		u := Unit{Routing: e.Routing, Total: 1}
		return []UnitResult{p.fail(ctx, u, err)}
	}
	p.transition(ctx, e.CorrelationID, -1, StateSplit)
	span.SetAttributes(attribute.Int("units", len(units)))

	results := make([]UnitResult, 0, len(units))
	for _, u := range units {
		results = append(results, p.deliver(ctx, u))
	}
	return results
}

func (p *Pipeline) deliver(ctx context.Context, u Unit) UnitResult {
	u.Authorization = p.profile.Authorize(u.AuthToken)
	p.transition(ctx, u.CorrelationID, u.Index, StateAuthenticated)

	h, err := p.selector.Select(u.Target, TrustModeOf(u.TrustAll))
	if err != nil {
		return p.fail(ctx, u, err)
	}
	p.transition(ctx, u.CorrelationID, u.Index, StateRouted)

	p.transition(ctx, u.CorrelationID, u.Index, StateDelivering)
	start := time.Now()
	err = p.profile.Sender.Send(ctx, h, u)
	latency := time.Since(start)
	if err != nil {
		metrics.RecordDelivery(p.profile.RouteID, "failed", latency)
		return p.fail(ctx, u, err)
	}

	metrics.RecordDelivery(p.profile.RouteID, "acknowledged", latency)
	p.transition(ctx, u.CorrelationID, u.Index, StateAcknowledged)
	p.logger.WithContext(ctx).
		WithRoute(p.profile.RouteID).
		WithCorrelation(u.CorrelationID).
		WithOrg(u.OrgID).
		WithAccount(u.AccountID).
		WithTarget(u.Target).
		WithField("unit", u.Index).
		Infof("Delivered event %s (orgId %s account %s) to %s", u.CorrelationID, u.OrgID, u.AccountID, u.Target)

	p.report(ctx, Outcome{RouteID: p.profile.RouteID, Routing: u.Routing, UnitIndex: u.Index, UnitCount: u.Total})
	return UnitResult{Index: u.Index, State: StateAcknowledged}
}

func (p *Pipeline) fail(ctx context.Context, u Unit, err error) UnitResult {
	p.transition(ctx, u.CorrelationID, u.Index, StateFailed)
	d := p.classifier.Classify(ctx, err, FailureContext{RouteID: p.profile.RouteID, Routing: u.Routing, UnitIndex: u.Index})
	metrics.RecordFailure(p.profile.RouteID, d.Kind)
	p.report(ctx, Outcome{RouteID: p.profile.RouteID, Routing: u.Routing, UnitIndex: u.Index, UnitCount: u.Total, Diagnostic: &d})
	return UnitResult{Index: u.Index, State: StateFailed, Diagnostic: &d}
}

// report hands o to the sink. A failed unit already has its error line from
// the classifier, so a lost failure report is logged at warn level.
func (p *Pipeline) report(ctx context.Context, o Outcome) {
	err := p.sink.Report(ctx, o)
	if err == nil {
		return
	}
	entry := p.logger.WithContext(ctx).
		WithRoute(o.RouteID).
		WithCorrelation(o.CorrelationID).
		WithOrg(o.OrgID).
		WithField("succeeded", o.Succeeded()).
		WithField("unit", o.UnitIndex).
		WithError(err)
	if o.Succeeded() {
		entry.Error("outcome report failed")
	} else {
		entry.Warn("outcome report failed")
	}
	tracing.SetSpanError(ctx, err)
}

func (p *Pipeline) transition(ctx context.Context, correlationID string, unit int, s State) {
	tracing.AddSpanEvent(ctx, string(s), attribute.Int("unit", unit))
	if p.onTransition != nil {
		p.onTransition(correlationID, unit, s)
	}
}
