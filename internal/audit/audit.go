// Package audit emits one structured JSON line per proxied request, with
// configurable body capture, 32KB truncation and field redaction. Grounded
// on original_source/src/mithril_proxy/logger.py, reexpressed with
// logrus.JSONFormatter + WithFields rather than Python's logging.Formatter.
package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/viant/mcpguard/internal/config"
)

const maxBodyBytes = 32 * 1024

var defaultRedactedFields = map[string]bool{
	"authorization": true, "x-api-key": true, "api_key": true,
	"token": true, "secret": true, "password": true,
}

// Logger writes one audit line per request under a process-wide lock so
// concurrent requests never interleave partial JSON lines.
type Logger struct {
	out            *logrus.Logger
	mu             sync.Mutex
	captureBodies  bool
	captureHeaders bool
	redacted       map[string]bool
}

// New builds an audit Logger writing to file at path (appended, created if
// missing), applying the options resolved from config.Options.
func New(path string, opts config.Options) (*Logger, error) {
	out := logrus.New()
	out.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	out.SetLevel(logrus.InfoLevel)

	if path != "" {
		f, err := openAppend(path)
		if err != nil {
			return nil, err
		}
		out.SetOutput(f)
	}

	redacted := make(map[string]bool, len(defaultRedactedFields))
	for k := range defaultRedactedFields {
		redacted[k] = true
	}
	for _, f := range opts.ExcludedLogFields {
		redacted[strings.ToLower(f)] = true
	}

	return &Logger{
		out:            out,
		captureBodies:  opts.AuditLogBodies,
		captureHeaders: opts.AuditLogHeaders,
		redacted:       redacted,
	}, nil
}

// Record is one terminated request's audit fields, per spec §4.5.
type Record struct {
	User             string
	SourceIP         string
	Destination      string
	MCPMethod        string
	StatusCode       int
	Latency          time.Duration
	Error            string
	RPCId            interface{}
	RequestBody      string
	ResponseBody     string
	RequestHeaders   http.Header
	DetectionAction  string
	DetectionEngine  string
	DetectionDetail  string
	HasRPCId         bool
}

// Log writes one JSON line for rec.
func (l *Logger) Log(rec Record) {
	fields := logrus.Fields{
		"user":        rec.User,
		"source_ip":   rec.SourceIP,
		"destination": rec.Destination,
		"mcp_method":  rec.MCPMethod,
		"status_code": rec.StatusCode,
		"latency_ms":  roundTo2dp(float64(rec.Latency.Microseconds()) / 1000.0),
	}
	if rec.Error != "" {
		fields["error"] = rec.Error
	}
	if rec.HasRPCId {
		fields["rpc_id"] = rec.RPCId
	}
	if rec.DetectionAction != "" {
		fields["detection_action"] = rec.DetectionAction
	}
	if rec.DetectionEngine != "" {
		fields["detection_engine"] = rec.DetectionEngine
	}
	if rec.DetectionDetail != "" {
		fields["detection_detail"] = truncate(rec.DetectionDetail)
	}

	if l.captureBodies {
		l.addBody(fields, "request_body", rec.RequestBody)
		l.addBody(fields, "response_body", rec.ResponseBody)
	}
	if l.captureHeaders && rec.RequestHeaders != nil {
		fields["request_headers"] = l.redactHeaders(rec.RequestHeaders)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.WithFields(fields).Info("request")
}

func (l *Logger) addBody(fields logrus.Fields, key, value string) {
	if value == "" {
		return
	}
	value = l.redactJSONFields(value)
	if len(value) > maxBodyBytes {
		fields[key] = value[:maxBodyBytes]
		fields["truncated"] = true
		return
	}
	fields[key] = value
}

// redactJSONFields parses body as a JSON object and omits any field whose
// name matches (case-insensitively) the redacted-fields set.
func (l *Logger) redactJSONFields(body string) string {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &asMap); err != nil {
		return body
	}
	changed := false
	for k := range asMap {
		if l.redacted[strings.ToLower(k)] {
			delete(asMap, k)
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(asMap)
	if err != nil {
		return body
	}
	return string(out)
}

func (l *Logger) redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if l.redacted[strings.ToLower(k)] {
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}

func truncate(s string) string {
	if len(s) > maxBodyBytes {
		return s[:maxBodyBytes]
	}
	return s
}

func roundTo2dp(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// BearerUser extracts the audit "user" field: the bearer token's first 8
// characters, or "anonymous". Bearer tokens are pass-through per spec's
// Non-goals (no auth); only the prefix is logged for correlation.
func BearerUser(authorizationHeader string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return "anonymous"
	}
	token := strings.TrimPrefix(authorizationHeader, prefix)
	if len(token) > 8 {
		token = token[:8]
	}
	if token == "" {
		return "anonymous"
	}
	return token
}

// SourceIP extracts the client IP from the connection's remote address only,
// never trusting X-Forwarded-For/Forwarded, per
// original_source/utils.py's documented rationale (no trusted upstream
// proxy is assumed).
func SourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
