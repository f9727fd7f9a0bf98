package proxyserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/viant/mcpguard/internal/audit"
	"github.com/viant/mcpguard/internal/config"
	"github.com/viant/mcpguard/internal/detector"
)

// readBody reads and closes the request body, tolerating a nil body.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

type rpcProbe struct {
	Id     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func probeMethod(body []byte) string {
	var p rpcProbe
	if err := json.Unmarshal(body, &p); err != nil {
		return ""
	}
	return p.Method
}

// extractID pulls the top-level "id" field out of a JSON-RPC response body
// for the audit record's rpc_id field.
func extractID(body []byte) (interface{}, bool) {
	var p rpcProbe
	if err := json.Unmarshal(body, &p); err != nil || p.Id == nil {
		return nil, false
	}
	var id interface{}
	if err := json.Unmarshal(p.Id, &id); err != nil {
		return nil, false
	}
	return id, true
}

// scanOutcome is what the caller needs after running the detector over one
// body: whether to block the request and the (possibly redacted) body to use
// going forward.
type scanOutcome struct {
	blocked bool
	result  detector.Result
}

func (s *Server) scan(c *gin.Context, body []byte, dest *config.Destination, isResponse bool) scanOutcome {
	if s.det == nil || len(body) == 0 {
		return scanOutcome{}
	}
	res := s.det.Scan(c.Request.Context(), string(body), dest, isResponse)
	return scanOutcome{blocked: res.Action == detector.ActionBlock, result: res}
}

// writeBlocked writes the 400 response for a detector block verdict, per the
// Open Question resolution recorded in DESIGN.md (no explicit status is
// named in the error taxonomy for a detector block; it is treated as an
// input-validation rejection).
func writeBlocked(c *gin.Context, res detector.Result) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":            "request blocked by content policy",
		"detection_engine": res.Engine,
		"detection_detail": res.Detail,
	})
}

// finalizeRecord fills in the detection fields on rec from res, when res
// represents anything other than a pass.
func finalizeRecord(rec *audit.Record, res detector.Result) {
	if res.Action == "" || res.Action == detector.ActionPass {
		return
	}
	rec.DetectionAction = string(res.Action)
	rec.DetectionEngine = res.Engine
	rec.DetectionDetail = res.Detail
}
