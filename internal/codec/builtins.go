package codec

import "github.com/routecodex/routecodex/internal/domain"

// EntryProtocols are the client-facing protocols the gateway accepts.
var EntryProtocols = []domain.Protocol{
	domain.ProtocolOpenAIChat,
	domain.ProtocolResponses,
	domain.ProtocolAnthropic,
}

// TargetProtocols are the provider-facing protocols the gateway emits.
var TargetProtocols = []domain.Protocol{
	domain.ProtocolOpenAIChat,
	domain.ProtocolResponses,
	domain.ProtocolAnthropic,
	domain.ProtocolGemini,
}

// BuildRegistry registers the given protocol codecs and wires every
// (entry, target) pair.
func BuildRegistry(codecs ...Codec) (*Registry, error) {
	r := NewRegistry()
	for _, c := range codecs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	for _, entry := range EntryProtocols {
		for _, target := range TargetProtocols {
			if err := r.RegisterPair(entry, target); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}
