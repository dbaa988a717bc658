package recipients

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/metrics"
	"github.com/austindbirch/harbor_connect/internal/retry"
	"github.com/austindbirch/harbor_connect/internal/toggle"
	"github.com/austindbirch/harbor_connect/internal/tracing"
)

// Providers holds the backends a Resolver can pick from. Nil entries are
// skipped even when their toggle is on. Default is required.
type Providers struct {
	Kessel  Provider
	RBAC    Provider
	MBOP    Provider
	Default Provider
}

type Options struct {
	PageSize  int
	Policy    retry.Policy
	WarnAfter time.Duration // 0 disables the slow-resolution warning
	Limiter   *rate.Limiter // optional, shared by all calls
	Logger    *logging.Logger
}

// Resolver turns an org id into its set of enabled recipients. It keeps no
// per-call state, so concurrent calls for different orgs are independent.
type Resolver struct {
	toggles   *toggle.Registry
	providers Providers
	pageSize  int
	policy    retry.Policy
	warnAfter time.Duration
	limiter   *rate.Limiter
	logger    *logging.Logger
}

func NewResolver(toggles *toggle.Registry, providers Providers, opts Options) (*Resolver, error) {
	if providers.Default == nil {
		return nil, fmt.Errorf("recipients: default provider is required")
	}
	if opts.PageSize < 1 {
		return nil, fmt.Errorf("recipients: page size must be at least 1, got %d", opts.PageSize)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("recipients: retry policy: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("harborconnect-resolver")
	}

	toggles.Register(toggle.UseKessel, false)
	toggles.Register(toggle.UseRBAC, false)
	toggles.Register(toggle.UseMBOP, false)

	return &Resolver{
		toggles:   toggles,
		providers: providers,
		pageSize:  opts.PageSize,
		policy:    opts.Policy,
		warnAfter: opts.WarnAfter,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
	}, nil
}

// SelectProvider applies the toggle priority kessel > rbac > mbop > default.
// Toggles are read on every call.
func (r *Resolver) SelectProvider() Provider {
	switch {
	case r.providers.Kessel != nil && r.toggles.Resolve(toggle.UseKessel, false):
		return r.providers.Kessel
	case r.providers.RBAC != nil && r.toggles.Resolve(toggle.UseRBAC, false):
		return r.providers.RBAC
	case r.providers.MBOP != nil && r.toggles.Resolve(toggle.UseMBOP, false):
		return r.providers.MBOP
	default:
		return r.providers.Default
	}
}

// Resolve pages through the selected provider and returns the deduplicated
// enabled recipients. Any page that exhausts its retries aborts the call with
// a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, orgID string) (*Set, error) {
	provider := r.SelectProvider()
	name := provider.Name()

	ctx, span := tracing.StartSpan(ctx, "recipients.resolve",
		attribute.String("org_id", orgID),
		attribute.String("provider", name),
	)
	defer span.End()

	start := time.Now()
	set, pages, err := r.collect(ctx, provider, orgID)
	elapsed := time.Since(start)
	r.warnIfSlow(ctx, orgID, name, pages, elapsed)

	if err != nil {
		rerr := asResolutionError(name, err)
		tracing.SetSpanError(ctx, rerr)
		metrics.RecordResolution(name, rerr.Cause.String(), elapsed, 0)
		r.logger.WithContext(ctx).WithOrg(orgID).WithError(rerr).WithFields(map[string]any{
			"provider": name,
			"cause":    rerr.Cause.String(),
			"pages":    pages,
		}).Error("recipients resolution failed")
		return nil, rerr
	}

	span.SetAttributes(attribute.Int("recipients", set.Len()), attribute.Int("pages", pages))
	metrics.RecordResolution(name, "ok", elapsed, set.Len())
	return set, nil
}

func (r *Resolver) collect(ctx context.Context, provider Provider, orgID string) (*Set, int, error) {
	name := provider.Name()
	set := NewSet(name)
	cursor := ""
	pages := 0

	for {
		req := PageRequest{OrgID: orgID, Cursor: cursor, PageSize: r.pageSize}
		pageNo := pages + 1

		page, err := retry.Do(ctx, r.policy, func(ctx context.Context) (Page, error) {
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return Page{}, &ResolutionError{Cause: Timeout, Provider: name, Err: err}
				}
			}
			return provider.FetchPage(ctx, req)
		}, func(attempt int, err error, delay time.Duration) {
			metrics.RecordPageRetry(name, CauseOf(err).String())
			tracing.AddSpanEvent(ctx, "recipients.page_retry",
				attribute.Int("page", pageNo),
				attribute.Int("attempt", attempt),
			)
			r.logger.WithContext(ctx).WithOrg(orgID).WithError(err).WithFields(map[string]any{
				"provider": name,
				"page":     pageNo,
				"attempt":  attempt,
				"delay":    delay.String(),
			}).Warn("recipients page fetch failed, retrying")
		})
		if err != nil {
			return nil, pages, err
		}
		pages++

		for _, rc := range page.Recipients {
			if rc.Enabled {
				set.Add(rc)
			}
		}

		if len(page.Recipients) < r.pageSize || page.NextCursor == "" {
			return set, pages, nil
		}
		if page.NextCursor == cursor {
			return nil, pages, &ResolutionError{
				Cause:    Malformed,
				Provider: name,
				Err:      fmt.Errorf("backend repeated cursor %q", cursor),
			}
		}
		cursor = page.NextCursor
	}
}

func (r *Resolver) warnIfSlow(ctx context.Context, orgID, provider string, pages int, elapsed time.Duration) {
	if r.warnAfter <= 0 || elapsed <= r.warnAfter {
		return
	}
	r.logger.WithContext(ctx).WithOrg(orgID).WithFields(map[string]any{
		"provider":   provider,
		"pages":      pages,
		"duration":   elapsed.String(),
		"warn_after": r.warnAfter.String(),
	}).Warnf("recipients resolution took %s, longer than %s", elapsed, r.warnAfter)
}
