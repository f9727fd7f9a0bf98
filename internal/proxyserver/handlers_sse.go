package proxyserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/viant/mcpguard/internal/audit"
	"github.com/viant/mcpguard/internal/bridge"
	"github.com/viant/mcpguard/internal/config"
	"github.com/viant/mcpguard/internal/httpcommon"
	"github.com/viant/mcpguard/internal/relay"
)

// handleSSE implements GET /{destination}/sse: an sse-kind destination gets
// the upstream relay; a stdio destination opted into legacy_sse gets its own
// per-connection subprocess; anything else is 410 (spec §6).
func (s *Server) handleSSE(c *gin.Context) {
	start := time.Now()
	name := c.Param("destination")
	dest, ok := s.destination(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown destination: " + name})
		return
	}

	switch {
	case dest.Type == config.KindSSE:
		s.relaySSE(c, name, dest, start)
	case dest.Type == config.KindStdio && dest.LegacySSE:
		s.legacySSE(c, name, dest, start)
	default:
		c.JSON(http.StatusGone, gin.H{"error": "destination does not expose the legacy SSE pair"})
	}
}

func (s *Server) relaySSE(c *gin.Context, name string, dest *config.Destination, start time.Time) {
	r, ok := s.sseRelays[name]
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "relay not configured"})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Writer.WriteHeader(http.StatusOK)

	w := httpcommon.NewFlushWriter(c.Writer)
	status, err := r.Stream(c.Request.Context(), w, relay.UpstreamHeaders(c.Request))

	rec := audit.Record{
		User:        audit.BearerUser(c.Request.Header.Get("Authorization")),
		SourceIP:    audit.SourceIP(c.Request),
		Destination: name,
		MCPMethod:   "sse",
		StatusCode:  status,
		Latency:     time.Since(start),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.auditLog.Log(rec)
}

func (s *Server) legacySSE(c *gin.Context, name string, dest *config.Destination, start time.Time) {
	conn, err := bridge.NewLegacyConnection(c.Request.Context(), name, dest, s.log)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	s.legacyConns.Put(conn.SessionID(), conn)
	defer func() {
		s.legacyConns.Delete(conn.SessionID())
		conn.Close()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	endpoint := "/" + name + "/message?session_id=" + conn.SessionID()
	if _, err := c.Writer.Write([]byte("event: endpoint\ndata: " + endpoint + "\n\n")); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			s.auditLog.Log(audit.Record{
				User:        "stdio",
				SourceIP:    audit.SourceIP(c.Request),
				Destination: name,
				MCPMethod:   "sse",
				StatusCode:  http.StatusOK,
				Latency:     time.Since(start),
			})
			return
		case item, open := <-conn.Events().Get():
			if !open {
				return
			}
			if item == nil {
				_, _ = c.Writer.Write([]byte("event: error\ndata: {\"error\":\"subprocess unavailable\"}\n\n"))
				if flusher != nil {
					flusher.Flush()
				}
				return
			}
			if _, err := c.Writer.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := c.Writer.Write(item); err != nil {
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
}

// handleMessage implements POST /{destination}/message: the SSE-pair
// message endpoint shared by sse-kind relay destinations and legacy stdio
// SSE connections.
func (s *Server) handleMessage(c *gin.Context) {
	start := time.Now()
	name := c.Param("destination")
	dest, ok := s.destination(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown destination: " + name})
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session_id"})
		return
	}

	body, err := readBody(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
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

	switch {
	case dest.Type == config.KindSSE:
		r, ok := s.messageRelays[name]
		if !ok {
			rec.StatusCode = http.StatusBadGateway
			c.JSON(http.StatusBadGateway, gin.H{"error": "relay not configured"})
			return
		}
		fr, err := r.Forward(c.Request.Context(), sessionID, relay.UpstreamHeaders(c.Request), body)
		if err != nil {
			if err == relay.ErrUnknownSession {
				rec.StatusCode = http.StatusNotFound
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown session_id"})
				return
			}
			rec.StatusCode = http.StatusBadGateway
			rec.Error = err.Error()
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
			return
		}
		rec.StatusCode = fr.StatusCode
		rec.ResponseBody = string(fr.Body)
		for k, v := range fr.Header {
			for _, vv := range v {
				c.Header(k, vv)
			}
		}
		c.Data(fr.StatusCode, fr.Header.Get("Content-Type"), fr.Body)

	case dest.Type == config.KindStdio && dest.LegacySSE:
		conn, ok := s.legacyConns.Get(sessionID)
		if !ok {
			rec.StatusCode = http.StatusNotFound
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found: " + sessionID})
			return
		}
		conn.EnqueueStdin(body)
		rec.StatusCode = http.StatusAccepted
		c.Status(http.StatusAccepted)

	default:
		rec.StatusCode = http.StatusGone
		c.JSON(http.StatusGone, gin.H{"error": "destination does not expose the legacy SSE pair"})
	}
}
