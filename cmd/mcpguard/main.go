// Command mcpguard runs the security-aware reverse proxy in front of one or
// more MCP servers. Startup ordering follows
// original_source/src/mithril_proxy/main.py's documented lifespan sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/viant/mcpguard/internal/audit"
	"github.com/viant/mcpguard/internal/bridge"
	"github.com/viant/mcpguard/internal/config"
	"github.com/viant/mcpguard/internal/detector"
	"github.com/viant/mcpguard/internal/procenv"
	"github.com/viant/mcpguard/internal/proxyserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpguard:", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	// 1. load_config — required before validating stdio commands.
	opts := config.LoadOptions()
	destinations, err := config.Load(opts)
	if err != nil {
		return fmt.Errorf("loading destinations: %w", err)
	}

	// 2. validate stdio commands fail-fast, now that secrets are merged in.
	for name, dest := range destinations.Destinations {
		if dest.Type != config.KindStdio {
			continue
		}
		if err := procenv.ValidateStdioDestination(name, dest.Command); err != nil {
			return fmt.Errorf("invalid stdio destination %q: %w", name, err)
		}
	}

	// 3. setup_logging — audit logger needs the resolved log path.
	auditLog, err := audit.New(opts.LogFile, opts)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	// 4. load_patterns — regex patterns, fast and synchronous.
	patterns := detector.NewPatternStore(opts.PatternsDir, sugar)
	if n, err := patterns.Load(); err != nil {
		return fmt.Errorf("loading patterns: %w", err)
	} else {
		sugar.Infow("patterns loaded at startup", "count", n)
	}

	// 5. init_detector — AI classifier, if any. mcpguard ships no bundled
	// model; the AI engine stays disabled (Available()==false) until a
	// Classifier implementation is wired in by an operator-specific build.
	classifierPool := detector.NewClassifierPool(nil, opts.AIMaxWorkers)
	det := detector.New(patterns, classifierPool, opts.AIInjectionThreshold, 4000)

	// lifetimeCtx bounds every stdio subprocess and its retry supervisor for
	// as long as the process runs; canceled only at shutdown, never per
	// request (see internal/bridge.New).
	lifetimeCtx, cancelLifetime := context.WithCancel(context.Background())
	defer cancelLifetime()

	// 6. init_bridge — the destination table of lazily-spawned bridges.
	var bridges *bridge.Table
	bridges = bridge.NewTable(func(name string) (*bridge.Bridge, error) {
		dest, ok := destinations.Destinations[name]
		if !ok {
			return nil, fmt.Errorf("unknown destination: %s", name)
		}
		if dest.Type != config.KindStdio {
			return nil, fmt.Errorf("destination %q is not a stdio destination", name)
		}
		onExhausted := func(name string) { bridges.Remove(name) }
		return bridge.New(lifetimeCtx, dest, time.Duration(opts.StdioResponseTimeout)*time.Second, opts.MaxStdioConnections, sugar, onExhausted), nil
	})

	srv := proxyserver.New(destinations, bridges, det, auditLog, opts, sugar)

	httpServer := &http.Server{
		Addr:    ":8080",
		Handler: srv.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		sugar.Infow("mcpguard listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 7. Register SIGHUP to reload regex patterns without restart, via the
	// event-loop signal facility — never a synchronous signal handler that
	// could deadlock on the pattern lock.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	detector.WatchSIGHUP(ctx, patterns, sugar)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
		sugar.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http server forced to shutdown", "error", err)
	}

	cancelLifetime() // no more retries; every bridge's supervisor sees this on its next check
	bridges.Range(func(name string, b *bridge.Bridge) bool {
		b.Shutdown(shutdownCtx)
		return true
	})

	sugar.Info("mcpguard shutdown complete")
	return nil
}
