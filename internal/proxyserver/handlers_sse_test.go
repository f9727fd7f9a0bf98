package proxyserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viant/mcpguard/internal/config"
)

func TestHandleSSE_UnknownDestinationIs404(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope/sse")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleSSE_StdioWithoutLegacyOptInIsGone(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat"},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/echo/sse")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestHandleSSE_StdioLegacyOptInSendsEndpointEvent(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat", LegacySSE: true},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/echo/sse", nil)
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	frame := string(buf[:n])
	assert.Contains(t, frame, "event: endpoint")
	assert.True(t, strings.Contains(frame, "/echo/message?session_id="))
}

func TestHandleMessage_UnknownSessionIsNotFound(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat", LegacySSE: true},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/echo/message?session_id=not-registered", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"notify"}`))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleMessage_MissingSessionIdIsBadRequest(t *testing.T) {
	s := newTestServer(t, map[string]*config.Destination{
		"echo": {Type: config.KindStdio, Command: "cat", LegacySSE: true},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/echo/message", "application/json", strings.NewReader(`{}`))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
