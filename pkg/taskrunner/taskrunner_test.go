package taskrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerShutdownWaitsForTasks(t *testing.T) {
	runner := New()
	var finished atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	runner.Run(ctx, func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, ctx.Err())
		finished.Store(true)
	})
	cancel()

	require.NoError(t, runner.Shutdown(context.Background()))
	require.True(t, finished.Load())
}

func TestRunnerShutdownTimesOut(t *testing.T) {
	runner := New()
	release := make(chan struct{})
	runner.Run(context.Background(), func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, runner.Shutdown(ctx), ErrShutdownTimeout)
	close(release)
}
