package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/provider"
	"github.com/routecodex/routecodex/internal/router"
)

// Stream is a committed streaming execution. Events closes when the stream
// ends; Err reports the terminal error after close, nil on clean end.
type Stream struct {
	Events   <-chan domain.CanonicalEvent
	Decision domain.RouteDecision
	Context  *codec.Context

	err  error
	done chan struct{}
}

// Err blocks until the stream finishes, then reports its terminal error.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// ExecuteStream runs a streaming request. Failover is allowed only until
// the first frame is decoded; after that the stream is committed to its
// target and any failure terminates it.
func (e *Executor) ExecuteStream(ctx context.Context, req *domain.CanonicalRequest, cl router.Classification, base *codec.Context, sessionID string) (*Stream, error) {
	exclude := make(map[domain.ProviderKey]bool)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		decision, err := e.router.Select(cl, sessionID, exclude)
		if err != nil {
			return nil, err
		}
		exclude[decision.ProviderKey] = true

		stream, gerr := e.attemptStream(ctx, req, &decision, base, sessionID)
		if gerr == nil {
			return stream, nil
		}

		e.recordError(&decision, base, gerr)
		if !gerr.Recoverable() {
			return nil, gerr
		}
		e.logger.Warn("stream attempt failed, failing over",
			slog.String("request_id", base.RequestID),
			slog.String("provider_key", decision.ProviderKey.String()),
			slog.String("kind", string(gerr.Kind)),
		)
	}
	return nil, domain.NewError(domain.KindNoAvailableProvider, "failover attempts exhausted")
}

// attemptStream opens the upstream stream and waits for the first decodable
// frame before committing. A failure before that first frame stays
// recoverable; afterwards the pump owns the stream.
func (e *Executor) attemptStream(ctx context.Context, req *domain.CanonicalRequest, decision *domain.RouteDecision, base *codec.Context, sessionID string) (*Stream, *domain.GatewayError) {
	cctx, pair, body, gerr := e.prepare(req, decision, base)
	if gerr != nil {
		return nil, gerr
	}

	adapter, err := e.providers.Adapter(decision.Target.ProviderType)
	if err != nil {
		return nil, domain.AsGatewayError(err)
	}
	result, err := adapter.Stream(ctx, decision.Target, body)
	if err != nil {
		return nil, domain.AsGatewayError(err)
	}

	firstEvents, gerr := e.awaitFirstFrame(ctx, result, pair, cctx)
	if gerr != nil {
		return nil, gerr
	}

	out := make(chan domain.CanonicalEvent, 16)
	s := &Stream{
		Events:   out,
		Decision: *decision,
		Context:  cctx,
		done:     make(chan struct{}),
	}
	go e.pump(ctx, result, pair, cctx, decision, sessionID, firstEvents, out, s)
	return s, nil
}

// awaitFirstFrame reads frames until one decodes into events, bounded by
// the idle timeout.
func (e *Executor) awaitFirstFrame(ctx context.Context, result *provider.StreamResult, pair *codec.Pair, cctx *codec.Context) ([]domain.CanonicalEvent, *domain.GatewayError) {
	timer := time.NewTimer(e.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, domain.AsGatewayError(ctx.Err())
		case <-timer.C:
			return nil, &domain.GatewayError{
				Kind:    domain.KindUpstreamIdleTimeout,
				Message: "no stream frame before idle timeout",
			}
		case frame, ok := <-result.Frames:
			if !ok {
				if err := result.Err(); err != nil {
					return nil, domain.AsGatewayError(err)
				}
				return nil, domain.NewError(domain.KindUpstreamTransient, "stream closed before first frame")
			}
			evs, err := pair.Target.DecodeStreamFrame(frame.Event, frame.Data, cctx)
			if err != nil {
				return nil, domain.AsGatewayError(
					domain.WrapError(domain.KindInternalConversion, err, "stream frame decode failed"))
			}
			if len(evs) > 0 {
				return evs, nil
			}
		}
	}
}

// pump forwards decoded events to the client channel, resetting the idle
// timer on every upstream frame. Once here, failures terminate rather than
// fail over.
func (e *Executor) pump(ctx context.Context, result *provider.StreamResult, pair *codec.Pair, cctx *codec.Context, decision *domain.RouteDecision, sessionID string, first []domain.CanonicalEvent, out chan<- domain.CanonicalEvent, s *Stream) {
	defer close(s.done)
	defer close(out)

	var usage *domain.Usage
	deliver := func(evs []domain.CanonicalEvent) bool {
		for _, ev := range evs {
			if ev.Usage != nil {
				usage = ev.Usage
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				s.err = domain.AsGatewayError(ctx.Err())
				return false
			}
		}
		return true
	}
	finish := func(err *domain.GatewayError) {
		if err != nil {
			s.err = err
			// Client cancellation is not the provider's fault.
			if err.Kind != domain.KindCancelled {
				e.recordError(decision, s.Context, err)
			}
			return
		}
		tokens := 0
		if usage != nil {
			tokens = usage.TotalTokens
		}
		e.bus.PublishSuccess(domain.ProviderSuccessEvent{
			ProviderKey: decision.ProviderKey,
			TokensUsed:  tokens,
			Timestamp:   time.Now(),
			Runtime:     e.runtime(decision, s.Context),
		})
		e.router.RecordSuccess(sessionID, decision.ProviderKey)
	}

	if !deliver(first) {
		finish(s.err.(*domain.GatewayError))
		return
	}

	timer := time.NewTimer(e.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			finish(domain.AsGatewayError(ctx.Err()))
			return
		case <-timer.C:
			finish(&domain.GatewayError{
				Kind:    domain.KindUpstreamIdleTimeout,
				Message: "stream idle timeout",
			})
			return
		case frame, ok := <-result.Frames:
			if !ok {
				if err := result.Err(); err != nil {
					finish(domain.AsGatewayError(err))
					return
				}
				finish(nil)
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(e.idleTimeout)

			evs, err := pair.Target.DecodeStreamFrame(frame.Event, frame.Data, cctx)
			if err != nil {
				finish(domain.AsGatewayError(
					domain.WrapError(domain.KindInternalConversion, err, "stream frame decode failed")))
				return
			}
			if !deliver(evs) {
				finish(s.err.(*domain.GatewayError))
				return
			}
		}
	}
}
