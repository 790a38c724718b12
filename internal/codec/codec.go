// Package codec converts between client/provider wire formats and the
// canonical chat model. One Codec exists per protocol; a Pair composes the
// entry-protocol codec (client side) with the target-protocol codec
// (provider side) so that exactly one conversion path is registered per
// (entry, target) combination.
package codec

import (
	"fmt"
	"sync"

	"github.com/routecodex/routecodex/internal/domain"
)

// Context carries per-request conversion state between stages.
type Context struct {
	RequestID      string
	Endpoint       string
	EntryProtocol  domain.Protocol
	TargetProtocol domain.Protocol
	Stream         bool

	// ClientModel is the model the client asked for; TargetModel is what
	// the router selected. Responses are rewritten back to ClientModel.
	ClientModel string
	TargetModel string

	// ToolsFieldPresent preserves an empty tools array across the round
	// trip when the client sent one.
	ToolsFieldPresent bool

	// Cloud Code Assist envelope fields for antigravity targets.
	ProjectID string
	UserAgent string

	// Per-request streaming encode state for protocols whose frames are
	// stateful (Anthropic block lifecycle, Responses item lifecycle).
	MessageStarted  bool
	TextBlockOpen   bool
	ToolBlockOpen   bool
	NextBlockIndex  int
	StreamCompleted bool
}

// StreamMeta carries identifiers stamped onto every encoded client frame.
type StreamMeta struct {
	ID      string
	Model   string
	Created int64
}

// Frame is one encoded SSE frame headed for the client. Event may be empty
// for protocols that only use data lines.
type Frame struct {
	Event string
	Data  []byte
}

// Codec converts one protocol to and from the canonical model.
type Codec interface {
	Protocol() domain.Protocol

	// Client side (entry protocol).
	DecodeRequest(data []byte, cctx *Context) (*domain.CanonicalRequest, error)
	EncodeResponse(resp *domain.CanonicalResponse, cctx *Context) ([]byte, error)
	EncodeStreamFrame(ev *domain.CanonicalEvent, meta *StreamMeta, cctx *Context) ([]Frame, error)
	StreamTerminator(meta *StreamMeta, cctx *Context) []Frame

	// EncodeErrorFrame renders the terminal error frames for a stream that
	// failed after headers were sent, in the protocol's native error shape.
	EncodeErrorFrame(err error, meta *StreamMeta, cctx *Context) []Frame

	// Provider side (target protocol).
	EncodeRequest(req *domain.CanonicalRequest, cctx *Context) ([]byte, error)
	DecodeResponse(data []byte, cctx *Context) (*domain.CanonicalResponse, error)
	DecodeStreamFrame(event string, data []byte, cctx *Context) ([]domain.CanonicalEvent, error)
}

// Pair is the registered conversion path for one (entry, target) tuple.
type Pair struct {
	Entry  Codec
	Target Codec
}

// ConvertInbound turns an entry-shaped client request into canonical form.
func (p *Pair) ConvertInbound(payload []byte, cctx *Context) (*domain.CanonicalRequest, error) {
	req, err := p.Entry.DecodeRequest(payload, cctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindProtocol, err, "invalid request body")
	}
	cctx.ClientModel = req.Model
	cctx.ToolsFieldPresent = req.ToolsFieldPresent
	return req, nil
}

// ConvertOutbound turns a canonical request into the target-shaped provider
// body.
func (p *Pair) ConvertOutbound(req *domain.CanonicalRequest, cctx *Context) ([]byte, error) {
	body, err := p.Target.EncodeRequest(req, cctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternalConversion, err, "outbound conversion failed")
	}
	return body, nil
}

// ConvertInboundResponse turns a target-shaped provider response into
// canonical form.
func (p *Pair) ConvertInboundResponse(data []byte, cctx *Context) (*domain.CanonicalResponse, error) {
	resp, err := p.Target.DecodeResponse(data, cctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternalConversion, err, "provider response decode failed")
	}
	return resp, nil
}

// ConvertOutboundResponse turns a canonical response into the entry-shaped
// client body.
func (p *Pair) ConvertOutboundResponse(resp *domain.CanonicalResponse, cctx *Context) ([]byte, error) {
	body, err := p.Entry.EncodeResponse(resp, cctx)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternalConversion, err, "client response encode failed")
	}
	return body, nil
}

// Registry holds one Pair per (entry, target) tuple.
type Registry struct {
	mu     sync.RWMutex
	codecs map[domain.Protocol]Codec
	pairs  map[[2]domain.Protocol]*Pair
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[domain.Protocol]Codec),
		pairs:  make(map[[2]domain.Protocol]*Pair),
	}
}

// Register adds a protocol codec. Registering the same protocol twice is a
// programming error.
func (r *Registry) Register(c Codec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[c.Protocol()]; ok {
		return fmt.Errorf("codec already registered for %s", c.Protocol())
	}
	r.codecs[c.Protocol()] = c
	return nil
}

// RegisterPair wires an (entry, target) conversion path from the registered
// protocol codecs.
func (r *Registry) RegisterPair(entry, target domain.Protocol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.codecs[entry]
	if !ok {
		return fmt.Errorf("no codec registered for entry protocol %s", entry)
	}
	t, ok := r.codecs[target]
	if !ok {
		return fmt.Errorf("no codec registered for target protocol %s", target)
	}
	key := [2]domain.Protocol{entry, target}
	if _, ok := r.pairs[key]; ok {
		return fmt.Errorf("pair already registered for %s -> %s", entry, target)
	}
	r.pairs[key] = &Pair{Entry: e, Target: t}
	return nil
}

// Pair returns the conversion path for (entry, target).
func (r *Registry) Pair(entry, target domain.Protocol) (*Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[[2]domain.Protocol{entry, target}]
	if !ok {
		return nil, fmt.Errorf("no codec pair for %s -> %s", entry, target)
	}
	return p, nil
}

// Codec returns the codec registered for a single protocol.
func (r *Registry) Codec(p domain.Protocol) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[p]
	return c, ok
}
