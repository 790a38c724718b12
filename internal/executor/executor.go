// Package executor drives request attempts against selected targets: one
// attempt per target, failover across remaining ready targets, and event
// emission toward the quota daemon. It never writes quota state itself.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/events"
	"github.com/routecodex/routecodex/internal/provider"
	"github.com/routecodex/routecodex/internal/router"
)

const (
	// DefaultIdleTimeout bounds the gap between upstream stream frames.
	DefaultIdleTimeout = 30 * time.Second

	// maxAttempts is a hard stop against pathological route tables; normal
	// exhaustion ends with NoAvailableProvider well before this.
	maxAttempts = 10
)

// Executor coordinates routing, conversion, and transport for one request.
type Executor struct {
	router      *router.Router
	providers   *provider.Registry
	codecs      *codec.Registry
	bus         *events.Broadcaster
	logger      *slog.Logger
	idleTimeout time.Duration
}

// New builds an executor.
func New(r *router.Router, providers *provider.Registry, codecs *codec.Registry, bus *events.Broadcaster, logger *slog.Logger, idleTimeout time.Duration) *Executor {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		router:      r,
		providers:   providers,
		codecs:      codecs,
		bus:         bus,
		logger:      logger,
		idleTimeout: idleTimeout,
	}
}

// Result is a completed unary execution.
type Result struct {
	Response *domain.CanonicalResponse
	Decision domain.RouteDecision
}

// Execute runs a unary request with failover. Each target gets exactly one
// attempt; recoverable failures move on to the next ready target.
func (e *Executor) Execute(ctx context.Context, req *domain.CanonicalRequest, cl router.Classification, base *codec.Context, sessionID string) (*Result, error) {
	exclude := make(map[domain.ProviderKey]bool)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		decision, err := e.router.Select(cl, sessionID, exclude)
		if err != nil {
			return nil, err
		}
		exclude[decision.ProviderKey] = true

		resp, gerr := e.attempt(ctx, req, &decision, base)
		if gerr == nil {
			e.recordSuccess(&decision, base, sessionID, resp)
			return &Result{Response: resp, Decision: decision}, nil
		}

		e.recordError(&decision, base, gerr)
		if !gerr.Recoverable() {
			return nil, gerr
		}
		e.logger.Warn("attempt failed, failing over",
			slog.String("request_id", base.RequestID),
			slog.String("provider_key", decision.ProviderKey.String()),
			slog.String("kind", string(gerr.Kind)),
		)
	}
	return nil, domain.NewError(domain.KindNoAvailableProvider, "failover attempts exhausted")
}

// attempt encodes, sends, and decodes one try against one target.
func (e *Executor) attempt(ctx context.Context, req *domain.CanonicalRequest, decision *domain.RouteDecision, base *codec.Context) (*domain.CanonicalResponse, *domain.GatewayError) {
	cctx, pair, body, gerr := e.prepare(req, decision, base)
	if gerr != nil {
		return nil, gerr
	}

	adapter, err := e.providers.Adapter(decision.Target.ProviderType)
	if err != nil {
		return nil, domain.AsGatewayError(err)
	}
	raw, err := adapter.Complete(ctx, decision.Target, body)
	if err != nil {
		return nil, domain.AsGatewayError(err)
	}

	resp, err := pair.ConvertInboundResponse(raw, cctx)
	if err != nil {
		return nil, domain.AsGatewayError(err)
	}
	// Clients always see the model name they asked for.
	resp.ProviderModel = resp.Model
	resp.Model = cctx.ClientModel
	return resp, nil
}

// prepare clones the conversion context for one target and encodes the
// outbound body. The target protocol varies per target, so this happens
// inside the attempt loop.
func (e *Executor) prepare(req *domain.CanonicalRequest, decision *domain.RouteDecision, base *codec.Context) (*codec.Context, *codec.Pair, []byte, *domain.GatewayError) {
	target := decision.Target
	cctx := *base
	cctx.TargetProtocol = target.OutboundProfile
	cctx.TargetModel = target.ProviderKey.Model()
	if cctx.TargetModel == "" {
		cctx.TargetModel = target.DefaultModel
	}
	cctx.ProjectID = target.ProjectID

	pair, err := e.codecs.Pair(cctx.EntryProtocol, cctx.TargetProtocol)
	if err != nil {
		return nil, nil, nil, domain.AsGatewayError(
			domain.WrapError(domain.KindInternalConversion, err, "no conversion path"))
	}

	outbound := *req
	outbound.Model = cctx.TargetModel
	body, err := pair.ConvertOutbound(&outbound, &cctx)
	if err != nil {
		return nil, nil, nil, domain.AsGatewayError(err)
	}
	return &cctx, pair, body, nil
}

func (e *Executor) runtime(decision *domain.RouteDecision, base *codec.Context) domain.EventRuntime {
	return domain.EventRuntime{
		RequestID:  base.RequestID,
		ProviderID: decision.ProviderKey.Provider(),
		RouteName:  decision.RouteName,
		Target:     decision.ProviderKey.String(),
	}
}

func (e *Executor) recordError(decision *domain.RouteDecision, base *codec.Context, gerr *domain.GatewayError) {
	ev := domain.ProviderErrorEvent{
		ProviderKey: decision.ProviderKey,
		Status:      gerr.Status,
		Code:        gerr.Code,
		Kind:        gerr.Kind,
		Message:     gerr.Message,
		Recoverable: gerr.Recoverable(),
		Timestamp:   time.Now(),
		Details:     gerr.Details,
		Runtime:     e.runtime(decision, base),
	}
	if gerr.RetryAfter > 0 {
		ev.CooldownMs = gerr.RetryAfter.Milliseconds()
	}
	e.bus.PublishError(ev)
}

func (e *Executor) recordSuccess(decision *domain.RouteDecision, base *codec.Context, sessionID string, resp *domain.CanonicalResponse) {
	tokens := 0
	if resp != nil {
		tokens = resp.Usage.TotalTokens
	}
	e.bus.PublishSuccess(domain.ProviderSuccessEvent{
		ProviderKey: decision.ProviderKey,
		TokensUsed:  tokens,
		Timestamp:   time.Now(),
		Runtime:     e.runtime(decision, base),
	})
	e.router.RecordSuccess(sessionID, decision.ProviderKey)
}
