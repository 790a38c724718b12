package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/domain"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/toolfilter"
)

// Recorder persists completed interactions; implementations must be safe
// for concurrent use. Storage failures never fail the request.
type Recorder interface {
	Record(ctx context.Context, rec Interaction)
}

// Interaction is one completed request/response pair with its routing
// metadata.
type Interaction struct {
	RequestID   string          `json:"request_id"`
	Endpoint    string          `json:"endpoint"`
	Entry       domain.Protocol `json:"entry_protocol"`
	Target      domain.Protocol `json:"target_protocol,omitempty"`
	RouteName   string          `json:"route_name,omitempty"`
	ProviderKey string          `json:"provider_key,omitempty"`
	ClientModel string          `json:"client_model,omitempty"`
	Stream      bool            `json:"stream"`
	DurationMs  int64           `json:"duration_ms"`
	Usage       domain.Usage    `json:"usage"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// Pipeline wires the conversion, routing, and execution stages.
type Pipeline struct {
	codecs     *codec.Registry
	classifier *router.Classifier
	exec       *executor.Executor
	policy     ReasoningPolicy
	recorder   Recorder
	logger     *slog.Logger
}

// New builds a pipeline. recorder may be nil.
func New(codecs *codec.Registry, classifier *router.Classifier, exec *executor.Executor, policy ReasoningPolicy, recorder Recorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		codecs:     codecs,
		classifier: classifier,
		exec:       exec,
		policy:     policy,
		recorder:   recorder,
		logger:     logger,
	}
}

// prepare decodes and filters the inbound payload and classifies it.
func (p *Pipeline) prepare(env *domain.Envelope) (*domain.CanonicalRequest, router.Classification, *codec.Context, error) {
	cctx := &codec.Context{
		RequestID:     env.RequestID,
		Endpoint:      env.Endpoint,
		EntryProtocol: env.EntryProtocol,
		Stream:        env.Metadata.Stream,
		UserAgent:     env.Metadata.UserAgent,
	}
	entry, ok := p.codecs.Codec(env.EntryProtocol)
	if !ok {
		return nil, router.Classification{}, nil,
			domain.NewError(domain.KindInternalConversion, "no codec for entry protocol %s", env.EntryProtocol)
	}
	req, err := entry.DecodeRequest(env.Payload, cctx)
	if err != nil {
		return nil, router.Classification{}, nil,
			domain.WrapError(domain.KindProtocol, err, "invalid request body")
	}
	cctx.ClientModel = req.Model
	cctx.ToolsFieldPresent = req.ToolsFieldPresent

	if err := toolfilter.Apply(req); err != nil {
		return nil, router.Classification{}, nil, err
	}

	cl := p.classifier.Classify(req, env.Metadata.RouteHint)
	return req, cl, cctx, nil
}

// HandleUnary processes a non-streaming request and returns the encoded
// client response body.
func (p *Pipeline) HandleUnary(ctx context.Context, env *domain.Envelope) ([]byte, error) {
	started := time.Now()
	req, cl, cctx, err := p.prepare(env)
	if err != nil {
		return nil, err
	}

	result, err := p.exec.Execute(ctx, req, cl, cctx, env.Metadata.SessionID)
	if err != nil {
		p.record(ctx, env, cl, nil, started, err)
		return nil, err
	}

	p.policy.applyToResponse(env.EntryProtocol, result.Response)

	entry, _ := p.codecs.Codec(env.EntryProtocol)
	body, err := entry.EncodeResponse(result.Response, cctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternalConversion, err, "client response encode failed")
	}
	p.record(ctx, env, cl, result, started, nil)
	return body, nil
}

// StreamSession is a client-facing stream of encoded SSE frames.
type StreamSession struct {
	Frames <-chan codec.Frame

	err func() error
}

// Err reports the terminal error once Frames has closed.
func (s *StreamSession) Err() error { return s.err() }

// HandleStream processes a streaming request. Frames on the returned
// session are ready to write to the client verbatim.
func (p *Pipeline) HandleStream(ctx context.Context, env *domain.Envelope) (*StreamSession, error) {
	started := time.Now()
	req, cl, cctx, err := p.prepare(env)
	if err != nil {
		return nil, err
	}
	req.Stream = true

	stream, err := p.exec.ExecuteStream(ctx, req, cl, cctx, env.Metadata.SessionID)
	if err != nil {
		p.record(ctx, env, cl, nil, started, err)
		return nil, err
	}

	entry, _ := p.codecs.Codec(env.EntryProtocol)
	frames := make(chan codec.Frame, 32)
	meta := &codec.StreamMeta{
		ID:      env.RequestID,
		Model:   cctx.ClientModel,
		Created: started.Unix(),
	}

	go func() {
		defer close(frames)
		scctx := stream.Context
		for ev := range stream.Events {
			if ev.ResponseID != "" && meta.ID == env.RequestID {
				meta.ID = ev.ResponseID
			}
			if !p.policy.applyToEvent(env.EntryProtocol, &ev) {
				continue
			}
			encoded, err := entry.EncodeStreamFrame(&ev, meta, scctx)
			if err != nil {
				p.logger.Error("stream frame encode failed",
					slog.String("request_id", env.RequestID),
					slog.String("error", err.Error()),
				)
				return
			}
			for _, f := range encoded {
				select {
				case frames <- f:
				case <-ctx.Done():
					return
				}
			}
		}
		// A clean end gets the protocol terminator; a broken stream gets a
		// terminal error frame so the client can tell failure from
		// truncation.
		var tail []codec.Frame
		if serr := stream.Err(); serr == nil {
			tail = entry.StreamTerminator(meta, scctx)
		} else {
			tail = entry.EncodeErrorFrame(serr, meta, scctx)
		}
		for _, f := range tail {
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
		p.recordStream(ctx, env, cl, stream, started)
	}()

	return &StreamSession{
		Frames: frames,
		err:    stream.Err,
	}, nil
}

func (p *Pipeline) record(ctx context.Context, env *domain.Envelope, cl router.Classification, result *executor.Result, started time.Time, err error) {
	if p.recorder == nil {
		return
	}
	rec := Interaction{
		RequestID:  env.RequestID,
		Endpoint:   env.Endpoint,
		Entry:      env.EntryProtocol,
		RouteName:  cl.RouteName,
		Stream:     env.Metadata.Stream,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if result != nil {
		rec.Target = result.Decision.Target.OutboundProfile
		rec.ProviderKey = result.Decision.ProviderKey.String()
		rec.ClientModel = result.Response.Model
		rec.Usage = result.Response.Usage
	}
	if err != nil {
		rec.ErrorKind = string(domain.KindOf(err))
	}
	p.recorder.Record(ctx, rec)
}

func (p *Pipeline) recordStream(ctx context.Context, env *domain.Envelope, cl router.Classification, stream *executor.Stream, started time.Time) {
	if p.recorder == nil {
		return
	}
	rec := Interaction{
		RequestID:   env.RequestID,
		Endpoint:    env.Endpoint,
		Entry:       env.EntryProtocol,
		Target:      stream.Decision.Target.OutboundProfile,
		RouteName:   cl.RouteName,
		ProviderKey: stream.Decision.ProviderKey.String(),
		ClientModel: stream.Context.ClientModel,
		Stream:      true,
		DurationMs:  time.Since(started).Milliseconds(),
	}
	if err := stream.Err(); err != nil {
		rec.ErrorKind = string(domain.KindOf(err))
	}
	p.recorder.Record(ctx, rec)
}
