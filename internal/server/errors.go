package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/routecodex/routecodex/internal/domain"
)

// writeJSONError writes an OpenAI-style error envelope.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    code,
			"code":    code,
		},
	})
}

// writeGatewayError renders a GatewayError in the entry protocol's native
// error shape.
func writeGatewayError(w http.ResponseWriter, entry domain.Protocol, err error) {
	ge := domain.AsGatewayError(err)
	status := ge.HTTPStatus()
	if ge.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(ge.RetryAfter.Seconds())))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	switch entry {
	case domain.ProtocolAnthropic:
		json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    string(ge.Kind),
				"message": ge.Message,
			},
		})
	default:
		code := ge.Code
		if code == "" {
			code = string(ge.Kind)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": ge.Message,
				"type":    string(ge.Kind),
				"code":    code,
			},
		})
	}
}
