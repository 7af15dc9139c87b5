package component

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalarwaves/oscquery/errors"
)

// LifecycleFactory returns a fresh, uninitialized component bound to ephemeral ports.
type LifecycleFactory func() Lifecycle

// StandardLifecycleTests checks the lifecycle contract every transport follows: Stop is
// safe in any state, a second Start fails with ErrAlreadyStarted, a stopped component
// can be started again, and Health tracks the running state.
func StandardLifecycleTests(t *testing.T, factory LifecycleFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, comp Lifecycle)
	}{
		{"StartStop", testStartStop},
		{"DoubleStart", testDoubleStart},
		{"DoubleStop", testDoubleStop},
		{"StopWithoutStart", testStopWithoutStart},
		{"Restart", testRestart},
		{"CancelledContext", testCancelledContext},
		{"ConcurrentStart", testConcurrentStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp := factory()
			require.NotNil(t, comp, "factory returned nil")
			require.NoError(t, comp.Initialize())
			t.Cleanup(func() { _ = comp.Stop(5 * time.Second) })
			tt.test(t, comp)
		})
	}
}

func startCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testStartStop(t *testing.T, comp Lifecycle) {
	require.NoError(t, comp.Start(startCtx(t)))
	assert.True(t, comp.Health().Healthy, "healthy while running")

	require.NoError(t, comp.Stop(5*time.Second))
	assert.False(t, comp.Health().Healthy, "unhealthy after Stop")
}

func testDoubleStart(t *testing.T, comp Lifecycle) {
	require.NoError(t, comp.Start(startCtx(t)))
	err := comp.Start(startCtx(t))
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	assert.True(t, errors.IsInvalid(err))
}

func testDoubleStop(t *testing.T, comp Lifecycle) {
	require.NoError(t, comp.Start(startCtx(t)))
	assert.NoError(t, comp.Stop(5*time.Second))
	assert.NoError(t, comp.Stop(5*time.Second))
}

func testStopWithoutStart(t *testing.T, comp Lifecycle) {
	assert.NoError(t, comp.Stop(5*time.Second))
}

func testRestart(t *testing.T, comp Lifecycle) {
	require.NoError(t, comp.Start(startCtx(t)))
	require.NoError(t, comp.Stop(5*time.Second))
	require.NoError(t, comp.Start(startCtx(t)), "a stopped component starts again")
	assert.True(t, comp.Health().Healthy)
}

func testCancelledContext(t *testing.T, comp Lifecycle) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := comp.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, comp.Health().Healthy)
}

func testConcurrentStart(t *testing.T, comp Lifecycle) {
	const goroutines = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	ctx := startCtx(t)
	for n := 0; n < goroutines; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if comp.Start(ctx) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins, "exactly one concurrent Start succeeds")
}
