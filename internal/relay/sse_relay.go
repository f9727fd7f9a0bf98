package relay

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	afsurl "github.com/viant/afs/url"

	"github.com/viant/mcpguard/internal/httpcommon"
)

var sessionIDPattern = regexp.MustCompile(`[?&]sessionId=([^&\s]+)`)

// SSERelay opens an upstream SSE stream for an sse-kind destination,
// rewriting the first `event: endpoint` frame to point back at this proxy
// and registering the real upstream message URL in a SessionMap. Grounded on
// proxy.py's handle_sse/_build_upstream_message_url.
type SSERelay struct {
	client      *http.Client
	sessions    *SessionMap
	destination string
	upstreamURL string
}

// NewSSERelay builds a relay for one sse-kind destination.
func NewSSERelay(client *http.Client, sessions *SessionMap, destination, upstreamURL string) *SSERelay {
	return &SSERelay{client: client, sessions: sessions, destination: destination, upstreamURL: upstreamURL}
}

// Stream opens the upstream SSE connection and writes rewritten frames to w
// until the upstream closes, ctx is cancelled, or an unrecoverable error
// occurs. It returns the status to record in the audit log.
func (r *SSERelay) Stream(ctx context.Context, w *httpcommon.FlushWriter, clientHeaders http.Header) (status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.upstreamURL+"/sse", nil)
	if err != nil {
		return 0, err
	}
	req.Header = clientHeaders.Clone()

	resp, err := r.client.Do(req)
	if err != nil {
		_ = httpcommon.WriteEvent(w, "error", []byte(`{"error":"upstream unavailable"}`))
		return 502, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	var sessionID string
	var eventType string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			if sessionID != "" {
				r.sessions.Remove(sessionID)
			}
			return 200, nil
		default:
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
				return 0, werr
			}
		case strings.HasPrefix(line, "data:"):
			dataValue := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if eventType == "endpoint" {
				if m := sessionIDPattern.FindStringSubmatch(dataValue); m != nil {
					sessionID = m[1]
					r.sessions.Register(sessionID, buildUpstreamMessageURL(r.upstreamURL, dataValue))
					rewritten := fmt.Sprintf("/%s/message?session_id=%s", r.destination, sessionID)
					if _, werr := fmt.Fprintf(w, "data: %s\n", rewritten); werr != nil {
						return 0, werr
					}
				} else if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
					return 0, werr
				}
				eventType = ""
			} else if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
				return 0, werr
			}
		case line == "":
			eventType = ""
			if _, werr := w.Write([]byte("\n")); werr != nil {
				return 0, werr
			}
		default:
			if _, werr := fmt.Fprintf(w, "%s\n", line); werr != nil {
				return 0, werr
			}
		}
	}

	if sessionID != "" {
		r.sessions.Remove(sessionID)
	}
	return 200, scanner.Err()
}

// buildUpstreamMessageURL resolves the endpoint event's (possibly relative)
// data into a full upstream URL, mirroring proxy.py's
// _build_upstream_message_url.
func buildUpstreamMessageURL(upstreamBase, endpointData string) string {
	if strings.HasPrefix(endpointData, "http") {
		return endpointData
	}
	scheme := afsurl.Scheme(upstreamBase, "http")
	host := afsurl.Host(upstreamBase)
	return fmt.Sprintf("%s://%s%s", scheme, host, endpointData)
}
