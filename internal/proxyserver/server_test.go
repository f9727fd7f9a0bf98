package proxyserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/viant/mcpguard/internal/audit"
	"github.com/viant/mcpguard/internal/bridge"
	"github.com/viant/mcpguard/internal/config"
)

func newTestServer(t *testing.T, destinations map[string]*config.Destination) *Server {
	t.Helper()
	for name, d := range destinations {
		d.Name = name
	}
	table := &config.Table{Destinations: destinations}
	bridges := bridge.NewTable(func(name string) (*bridge.Bridge, error) {
		return bridge.New(context.Background(), destinations[name], 2*time.Second, 10, zap.NewNop().Sugar(), nil), nil
	})
	auditLog, err := audit.New(filepath.Join(t.TempDir(), "audit.log"), config.Options{})
	if err != nil {
		t.Fatalf("building audit logger: %v", err)
	}
	return New(table, bridges, nil, auditLog, config.Options{}, zap.NewNop().Sugar())
}
