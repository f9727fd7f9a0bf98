package proxyserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/viant/mcpguard/internal/audit"
	"github.com/viant/mcpguard/internal/bridge"
	"github.com/viant/mcpguard/internal/config"
	"github.com/viant/mcpguard/internal/session"
	"github.com/viant/mcpguard/jsonrpc"
)

// handleMCPPost implements POST /{destination}/mcp: stdio destinations go
// through the bridge; streamable_http destinations are a retrying
// passthrough to the upstream endpoint. Grounded on
// original_source/bridge.py's handle_stdio_streamable_http_post and
// proxy.py's handle_streamable_http_post.
func (s *Server) handleMCPPost(c *gin.Context) {
	start := time.Now()
	name := c.Param("destination")
	dest, ok := s.destination(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown destination: " + name})
		return
	}

	body, err := readBody(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if jsonrpc.DetectMessageType(body) == jsonrpc.MessageTypeBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Batch JSON-RPC is not supported"})
		return
	}

	rec := &audit.Record{
		User:           audit.BearerUser(c.Request.Header.Get("Authorization")),
		SourceIP:       audit.SourceIP(c.Request),
		Destination:    name,
		MCPMethod:      probeMethod(body),
		RequestBody:    string(body),
		RequestHeaders: c.Request.Header,
	}
	defer func() { rec.Latency = time.Since(start); s.auditLog.Log(*rec) }()

	outcome := s.scan(c, body, dest, false)
	finalizeRecord(rec, outcome.result)
	if outcome.blocked {
		rec.StatusCode = http.StatusBadRequest
		writeBlocked(c, outcome.result)
		return
	}
	if outcome.result.Body != "" {
		body = []byte(outcome.result.Body)
	}

	switch dest.Type {
	case config.KindStdio:
		s.postStdio(c, rec, dest, body)
	case config.KindStreamableHTTP:
		s.postStreamable(c, rec, dest, body)
	default:
		rec.StatusCode = http.StatusGone
		c.JSON(http.StatusGone, gin.H{"error": "destination does not expose /mcp"})
	}
}

func (s *Server) postStdio(c *gin.Context, rec *audit.Record, dest *config.Destination, body []byte) {
	b, err := s.bridges.GetOrCreate(dest.Name)
	if err != nil {
		rec.StatusCode = http.StatusServiceUnavailable
		rec.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	sessionHdr := c.Request.Header.Get("Mcp-Session-Id")
	res, opErr := b.Post(c.Request.Context(), sessionHdr, json.RawMessage(body))
	if opErr != nil {
		status, msg := mapOpError(opErr)
		rec.StatusCode = status
		rec.Error = msg
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if id, ok := extractID(res.Body); ok {
		rec.RPCId = id
		rec.HasRPCId = true
	}
	rec.ResponseBody = string(res.Body)
	rec.StatusCode = res.Status

	if res.NewSession {
		c.Header("Mcp-Session-Id", res.SessionID)
	}
	if res.Notification {
		c.Status(http.StatusAccepted)
		return
	}

	outcome := s.scan(c, res.Body, dest, true)
	finalizeRecord(rec, outcome.result)
	if outcome.blocked {
		rec.StatusCode = http.StatusBadRequest
		writeBlocked(c, outcome.result)
		return
	}
	if outcome.result.Body != "" {
		res.Body = []byte(outcome.result.Body)
		rec.ResponseBody = outcome.result.Body
	}
	c.Data(http.StatusOK, "application/json", res.Body)
}

func (s *Server) postStreamable(c *gin.Context, rec *audit.Record, dest *config.Destination, body []byte) {
	r, ok := s.streamableRelays[dest.Name]
	if !ok {
		rec.StatusCode = http.StatusBadGateway
		c.JSON(http.StatusBadGateway, gin.H{"error": "relay not configured"})
		return
	}
	fr, err := r.Forward(c.Request.Context(), http.MethodPost, c.Request.Header, body)
	if err != nil {
		rec.StatusCode = http.StatusBadGateway
		rec.Error = err.Error()
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
		return
	}
	rec.ResponseBody = string(fr.Body)
	rec.StatusCode = fr.StatusCode
	for k, v := range fr.Header {
		for _, vv := range v {
			c.Header(k, vv)
		}
	}
	c.Data(fr.StatusCode, fr.Header.Get("Content-Type"), fr.Body)
}

// handleMCPGet implements GET /{destination}/mcp: the Streamable HTTP
// notification stream for stdio destinations.
func (s *Server) handleMCPGet(c *gin.Context) {
	name := c.Param("destination")
	dest, ok := s.destination(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown destination: " + name})
		return
	}

	switch dest.Type {
	case config.KindStdio:
		s.getStdioStream(c, dest)
	case config.KindStreamableHTTP:
		s.getStreamable(c, dest)
	default:
		c.JSON(http.StatusGone, gin.H{"error": "destination does not expose /mcp"})
	}
}

func (s *Server) getStdioStream(c *gin.Context, dest *config.Destination) {
	sessionHdr := c.Request.Header.Get("Mcp-Session-Id")
	if !session.IsValidUUIDv4(sessionHdr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid Mcp-Session-Id"})
		return
	}
	b, err := s.bridges.GetOrCreate(dest.Name)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	handle, opErr := b.Get(sessionHdr)
	if opErr != nil {
		status, msg := mapOpError(opErr)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	defer handle.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	ctx := c.Request.Context()
	for {
		line, ok, exhausted := handle.Next(ctx)
		if !ok {
			if exhausted {
				_, _ = c.Writer.Write([]byte("event: error\ndata: {\"error\":\"subprocess unavailable\"}\n\n"))
				if flusher != nil {
					flusher.Flush()
				}
			}
			return
		}
		if _, err := c.Writer.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := c.Writer.Write(line); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) getStreamable(c *gin.Context, dest *config.Destination) {
	r, ok := s.streamableRelays[dest.Name]
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "relay not configured"})
		return
	}
	fr, err := r.Forward(c.Request.Context(), http.MethodGet, c.Request.Header, nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
		return
	}
	for k, v := range fr.Header {
		for _, vv := range v {
			c.Header(k, vv)
		}
	}
	c.Data(fr.StatusCode, fr.Header.Get("Content-Type"), fr.Body)
}

// handleMCPDelete implements DELETE /{destination}/mcp: session close.
func (s *Server) handleMCPDelete(c *gin.Context) {
	name := c.Param("destination")
	dest, ok := s.destination(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown destination: " + name})
		return
	}

	switch dest.Type {
	case config.KindStdio:
		sessionHdr := c.Request.Header.Get("Mcp-Session-Id")
		b, err := s.bridges.GetOrCreate(dest.Name)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if opErr := b.Delete(sessionHdr); opErr != nil {
			status, msg := mapOpError(opErr)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.Status(http.StatusNoContent)
	case config.KindStreamableHTTP:
		r, ok := s.streamableRelays[dest.Name]
		if !ok {
			c.JSON(http.StatusBadGateway, gin.H{"error": "relay not configured"})
			return
		}
		fr, err := r.Forward(c.Request.Context(), http.MethodDelete, c.Request.Header, nil)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
			return
		}
		c.Status(fr.StatusCode)
	default:
		c.JSON(http.StatusGone, gin.H{"error": "destination does not expose /mcp"})
	}
}

// mapOpError translates a bridge.OpError into the HTTP status/message pair
// from spec §7's error taxonomy.
func mapOpError(err error) (int, string) {
	opErr, ok := err.(*bridge.OpError)
	if !ok {
		return http.StatusInternalServerError, err.Error()
	}
	switch opErr.Kind {
	case bridge.ErrBadRequest:
		return http.StatusBadRequest, opErr.Message
	case bridge.ErrNotFound:
		return http.StatusNotFound, opErr.Message
	case bridge.ErrTimeout:
		return http.StatusGatewayTimeout, opErr.Message
	case bridge.ErrUnavailable:
		return http.StatusServiceUnavailable, opErr.Message
	default:
		return http.StatusInternalServerError, opErr.Message
	}
}
