package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scrapeforge/internal/config"
)

func TestRunIsNoOpWhenDisabled(t *testing.T) {
	s := New(nil, config.RetentionConfig{Enabled: false}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return immediately when retention is disabled")
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	// A long cleanup interval with a nil store: the ticker must never fire
	// before ctx is cancelled, so sweepOnce (which needs a real store) is
	// never invoked.
	s := New(nil, config.RetentionConfig{Enabled: true, CleanupIntervalMinutes: 60}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return once ctx is cancelled")
	}
}
