package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/viant/mcpguard/internal/session"
)

func TestBridge_Post_NewSessionOnRequestWithNoHeader(t *testing.T) {
	b, mr := newRunningTestBridge(t)

	go func() {
		deadline := time.After(time.Second)
		for {
			select {
			case <-deadline:
				return
			default:
			}
			b.mu.Lock()
			n := len(b.pending)
			b.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		b.onLine([]byte(`{"jsonrpc":"2.0","id":0,"result":{"ok":true}}`))
	}()

	result, err := b.Post(context.Background(), "", json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.NoError(t, err)
	assert.True(t, result.NewSession)
	assert.True(t, session.IsValidUUIDv4(result.SessionID))
	assert.Equal(t, 200, result.Status)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, string(result.Body))
	assert.NotEmpty(t, mr.lastSent())
}

func TestBridge_Post_NotificationRequiresExistingSession(t *testing.T) {
	b, _ := newRunningTestBridge(t)

	_, err := b.Post(context.Background(), "", json.RawMessage(`{"jsonrpc":"2.0","method":"notify"}`))
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrBadRequest, opErr.Kind)
}

func TestBridge_Post_NotificationOnKnownSessionReturns202(t *testing.T) {
	b, mr := newRunningTestBridge(t)
	sid := session.New()
	b.mu.Lock()
	b.sessions[sid] = true
	b.mu.Unlock()

	result, err := b.Post(context.Background(), sid, json.RawMessage(`{"jsonrpc":"2.0","method":"notify"}`))
	assert.NoError(t, err)
	assert.Equal(t, 202, result.Status)
	assert.True(t, result.Notification)
	assert.False(t, result.NewSession)
	assert.NotEmpty(t, mr.lastSent())
}

func TestBridge_Post_UnknownSessionIsNotFound(t *testing.T) {
	b, _ := newRunningTestBridge(t)

	_, err := b.Post(context.Background(), session.New(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrNotFound, opErr.Kind)
}

func TestBridge_Post_InvalidSessionHeaderFormat(t *testing.T) {
	b, _ := newRunningTestBridge(t)

	_, err := b.Post(context.Background(), "not-a-uuid", json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrBadRequest, opErr.Kind)
}

func TestBridge_Post_MaxSessionsRejectsNewSession(t *testing.T) {
	b, _ := newRunningTestBridge(t)
	b.maxSessions = 1
	b.sessions["existing"] = true

	_, err := b.Post(context.Background(), "", json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrUnavailable, opErr.Kind)
}

func TestBridge_Post_TimesOutWhenNoResponseArrives(t *testing.T) {
	b, _ := newRunningTestBridge(t)
	b.responseTimeout = 20 * time.Millisecond

	_, err := b.Post(context.Background(), "", json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrTimeout, opErr.Kind)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.pending, "a timed-out call must be removed from pending")
	assert.Empty(t, b.sessions, "a timed-out new session must be rolled back")
}

func TestBridge_Post_InvalidJSONBodyIsBadRequest(t *testing.T) {
	b, _ := newRunningTestBridge(t)

	_, err := b.Post(context.Background(), "", json.RawMessage(`not json`))
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrBadRequest, opErr.Kind)
}

func TestBridge_Get_RegistersQueueForExistingSession(t *testing.T) {
	b, _ := newRunningTestBridge(t)
	sid := session.New()
	b.sessions[sid] = true

	handle, err := b.Get(sid)
	assert.NoError(t, err)
	defer handle.Close()

	b.broadcast([]byte(`{"jsonrpc":"2.0","method":"notifications/progress"}`))

	line, ok, exhausted := handle.Next(context.Background())
	assert.True(t, ok)
	assert.False(t, exhausted)
	assert.Contains(t, string(line), "notifications/progress")
}

func TestBridge_Get_UnknownSessionIsNotFound(t *testing.T) {
	b, _ := newRunningTestBridge(t)

	_, err := b.Get(session.New())
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrNotFound, opErr.Kind)
}

func TestBridge_Delete_ClosesAssociatedStreams(t *testing.T) {
	b, _ := newRunningTestBridge(t)
	sid := session.New()
	b.sessions[sid] = true

	handle, err := b.Get(sid)
	assert.NoError(t, err)

	err = b.Delete(sid)
	assert.NoError(t, err)

	_, ok, exhausted := handle.Next(context.Background())
	assert.False(t, ok)
	assert.True(t, exhausted, "deleting a session must close its streams with the exhausted sentinel")

	b.mu.Lock()
	_, stillExists := b.sessions[sid]
	b.mu.Unlock()
	assert.False(t, stillExists)
}

func TestBridge_Delete_UnknownSessionIsNotFound(t *testing.T) {
	b, _ := newRunningTestBridge(t)

	err := b.Delete(session.New())
	opErr, ok := err.(*OpError)
	assert.True(t, ok)
	assert.Equal(t, ErrNotFound, opErr.Kind)
}
