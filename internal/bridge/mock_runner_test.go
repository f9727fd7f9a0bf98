package bridge

import (
	"context"
	"sync"

	"github.com/viant/gosh/runner"
)

// mockRunner is a minimal runner.Runner double, grounded on the teacher's
// transport/client/stdio/client_test.go mockRunner.
type mockRunner struct {
	mutex    sync.Mutex
	sentData [][]byte
	sendErr  error
}

func (m *mockRunner) PID() int { return 1 }

func (m *mockRunner) Close() error { return nil }

func (m *mockRunner) Send(ctx context.Context, data []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.sentData = append(m.sentData, append([]byte(nil), data...))
	return len(data), nil
}

func (m *mockRunner) Run(ctx context.Context, command string, options ...runner.Option) (string, int, error) {
	<-ctx.Done()
	return "", 0, ctx.Err()
}

func (m *mockRunner) lastSent() []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.sentData) == 0 {
		return nil
	}
	return m.sentData[len(m.sentData)-1]
}
