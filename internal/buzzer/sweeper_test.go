// internal/buzzer/sweeper_test.go
package buzzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRemovesAbandonedLobbies(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ABCD")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(h.engine, time.Minute).Run(ctx)
		close(done)
	}()

	blocker, ok := h.clock.(interface{ BlockUntilContext(context.Context, int) error })
	require.True(t, ok)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, blocker.BlockUntilContext(waitCtx, 1), "sweeper ticker registered")

	h.clock.Advance(61 * time.Minute)

	assert.Eventually(t, func() bool {
		codes, err := h.repo.ListCodes(context.Background())
		return err == nil && len(codes) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
