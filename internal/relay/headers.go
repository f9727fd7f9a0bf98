package relay

import (
	"net/http"
	"strings"
)

var clientHopByHop = map[string]bool{
	"host": true, "content-length": true, "transfer-encoding": true,
}

var upstreamHopByHop = map[string]bool{
	"transfer-encoding": true, "connection": true, "keep-alive": true,
}

// UpstreamHeaders copies r's headers minus the client-side hop-by-hop set
// (host, content-length, transfer-encoding), per spec §4.3.
func UpstreamHeaders(r *http.Request) http.Header {
	out := make(http.Header, len(r.Header))
	for k, v := range r.Header {
		if clientHopByHop[strings.ToLower(k)] {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

// StripUpstreamHopByHop removes the upstream-side hop-by-hop headers
// (transfer-encoding, connection, keep-alive) before forwarding a response.
func StripUpstreamHopByHop(h http.Header) {
	for k := range upstreamHopByHop {
		h.Del(k)
	}
}
