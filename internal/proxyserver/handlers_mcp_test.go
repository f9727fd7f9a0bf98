package proxyserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viant/mcpguard/internal/config"
)

func TestHandleMCPPost_UnknownDestinationIs404(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/nope/mcp", "application/json", strings.NewReader(`{}`))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleMCPPost_RejectsBatchRequests(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/echo/mcp", "application/json", strings.NewReader(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":2,"method":"b"}]`))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleMCPPost_StdioRoundTripMintsSessionAndEchoesResponse(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/echo/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
}

func TestHandleMCPPost_UnknownStdioSessionIsNotFound(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/echo/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Mcp-Session-Id", "11111111-1111-4111-8111-111111111111")
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleMCPPost_DestinationWithoutMCPSurfaceIsGone(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"web": {Type: config.KindSSE, URL: "http://example.invalid"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/web/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestHandleMCPDelete_UnknownSessionIsNotFound(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/echo/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "22222222-2222-4222-8222-222222222222")
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleMCPGet_MissingSessionHeaderIsBadRequest(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/echo/mcp")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
