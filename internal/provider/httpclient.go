package provider

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/routecodex/routecodex/internal/domain"
)

// sseBufferSize bounds one SSE line; some providers ship whole tool-call
// argument blobs in a single data line.
const sseBufferSize = 1024 * 1024

// doJSON performs a unary POST and classifies non-2xx responses.
func doJSON(ctx context.Context, client *http.Client, providerType, url string, headers http.Header, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.KindInternalConversion, err, "build upstream request")
	}
	req.Header = headers.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.KindCancelled, ctx.Err(), "request cancelled")
		}
		return nil, domain.WrapError(domain.KindUpstreamTransient, err, "upstream request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.KindUpstreamTransient, err, "read upstream response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ClassifyHTTPError(providerType, resp.StatusCode, data)
	}
	return data, nil
}

// doStream performs a streaming POST and pumps SSE frames into a channel.
// Non-2xx responses are classified before any frame is delivered, so the
// executor may still fail over.
func doStream(ctx context.Context, client *http.Client, providerType, url string, headers http.Header, body []byte) (*StreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.WrapError(domain.KindInternalConversion, err, "build upstream request")
	}
	req.Header = headers.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.KindCancelled, ctx.Err(), "request cancelled")
		}
		return nil, domain.WrapError(domain.KindUpstreamTransient, err, "upstream request failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, ClassifyHTTPError(providerType, resp.StatusCode, data)
	}

	frames := make(chan Frame, 16)
	var terminal error

	go func() {
		defer close(frames)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), sseBufferSize)

		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				event = ""
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "[DONE]" {
					return
				}
				select {
				case frames <- Frame{Event: event, Data: []byte(data)}:
				case <-ctx.Done():
					terminal = ctx.Err()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			terminal = domain.WrapError(domain.KindUpstreamTransient, err, "upstream stream broke")
		}
		if ctx.Err() != nil {
			terminal = ctx.Err()
		}
	}()

	return &StreamResult{
		Frames: frames,
		Err:    func() error { return terminal },
	}, nil
}
