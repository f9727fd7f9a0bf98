package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// StreamableRelay passthroughs a streamable_http-kind destination: every
// request is forwarded as-is to the destination's single endpoint, keyed by
// the Mcp-Session-Id header the upstream itself manages. Unlike sse-kind
// destinations there is no endpoint-event rewriting or SessionMap involved;
// the upstream's session header passes through untouched.
type StreamableRelay struct {
	client      *http.Client
	upstreamURL string
}

// NewStreamableRelay builds a passthrough relay for one streamable_http-kind
// destination.
func NewStreamableRelay(client *http.Client, upstreamURL string) *StreamableRelay {
	return &StreamableRelay{client: client, upstreamURL: upstreamURL}
}

// Forward proxies method/body/headers to the destination's endpoint and
// returns the upstream's response with hop-by-hop headers stripped.
func (r *StreamableRelay) Forward(ctx context.Context, method string, headers http.Header, body []byte) (*ForwardResult, error) {
	resp, err := doWithRetry(ctx, func() (*http.Response, error) {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, rerr := http.NewRequestWithContext(ctx, method, r.upstreamURL, reqBody)
		if rerr != nil {
			return nil, rerr
		}
		req.Header = headers.Clone()
		return r.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	StripUpstreamHopByHop(resp.Header)
	return &ForwardResult{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}
