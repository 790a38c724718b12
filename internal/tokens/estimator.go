// Package tokens estimates request token counts for route classification.
// The router only needs an order-of-magnitude figure to detect long-context
// requests, so one cl100k tokenizer serves every model family, with a
// bytes/4 fallback when the tokenizer cannot load.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/routecodex/routecodex/internal/domain"
)

// Estimator counts approximate prompt tokens for a canonical request.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewEstimator creates a lazy-loading estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) load() {
	e.codec, e.err = tokenizer.Get(tokenizer.Cl100kBase)
}

// Count returns the estimated token count of all message content, system
// prompt, and tool-call arguments in the request.
func (e *Estimator) Count(req *domain.CanonicalRequest) int {
	e.once.Do(e.load)
	total := 0
	count := func(s string) {
		if s == "" {
			return
		}
		if e.err == nil {
			if n, err := e.codec.Count(s); err == nil {
				total += n
				return
			}
		}
		// Rough fallback: ~4 bytes per token for English-ish text.
		total += len(s) / 4
	}
	count(req.System)
	count(req.Instructions)
	for _, m := range req.Messages {
		count(m.Content)
		count(m.Thinking)
		for _, tc := range m.ToolCalls {
			count(tc.Function.Name)
			count(tc.Function.Arguments)
		}
	}
	return total
}
