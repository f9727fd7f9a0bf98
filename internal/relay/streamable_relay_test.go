package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamableRelay_Forward_PassesThroughMethodAndBody(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Header().Set("Mcp-Session-Id", "upstream-session")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer server.Close()

	relay := NewStreamableRelay(server.Client(), server.URL)
	result, err := relay.Forward(context.Background(), http.MethodPost, http.Header{}, []byte(`{"id":1}`))
	assert.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "upstream-session", result.Header.Get("Mcp-Session-Id"))
}

func TestStreamableRelay_Forward_DeleteWithNoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	relay := NewStreamableRelay(server.Client(), server.URL)
	result, err := relay.Forward(context.Background(), http.MethodDelete, http.Header{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, result.StatusCode)
}
