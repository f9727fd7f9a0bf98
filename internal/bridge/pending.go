package bridge

import (
	"sync/atomic"

	"github.com/viant/mcpguard/jsonrpc"
)

// pendingCall correlates a request written to subprocess stdin with its
// eventual stdout reply, resolved exactly once: with a response, a timeout,
// or a subprocess failure (spec §3's PendingCall entity).
type pendingCall struct {
	originalID jsonrpc.RequestId
	resultCh   chan pendingResult
	resolved   int32
}

type pendingResult struct {
	raw []byte // full JSON-RPC line with id already rewritten back to originalID
	err error
}

func newPendingCall(originalID jsonrpc.RequestId) *pendingCall {
	return &pendingCall{originalID: originalID, resultCh: make(chan pendingResult, 1)}
}

// resolve completes the call exactly once; later calls are no-ops, matching
// "resolve the waiter (unless already completed)".
func (p *pendingCall) resolve(res pendingResult) {
	if atomic.CompareAndSwapInt32(&p.resolved, 0, 1) {
		p.resultCh <- res
	}
}
