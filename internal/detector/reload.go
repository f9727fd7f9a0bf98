package detector

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// WatchSIGHUP registers a channel-based SIGHUP handler that calls
// store.Load() on the event loop's own goroutine rather than from a signal
// handler stack, per spec §9's redesign note ("must be registered via the
// loop's signal facility... must not run on an arbitrary stack"). It runs
// until ctx is cancelled.
func WatchSIGHUP(ctx context.Context, store *PatternStore, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				n, err := store.Load()
				if err != nil {
					log.Warnw("pattern reload failed", "error", err)
					continue
				}
				log.Infow("pattern reload via SIGHUP", "count", n)
			}
		}
	}()
}
