package component

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestFlowCounter(t *testing.T) {
	var f FlowCounter
	assert.Equal(t, time.Duration(0), f.Uptime())
	assert.Equal(t, FlowMetrics{}, f.Flow())

	f.Reset()
	f.Record(100)
	f.Record(50)
	f.Error(errors.New("boom"))

	assert.Equal(t, int64(2), f.Messages())
	assert.Equal(t, int64(1), f.Errors())

	flow := f.Flow()
	assert.InDelta(t, 0.5, flow.ErrorRate, 1e-9)
	assert.False(t, flow.LastActivity.IsZero())
	assert.Greater(t, flow.BytesPerSecond, 0.0)

	h := f.Health(true)
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, h.ErrorCount)
	assert.Equal(t, "boom", h.LastError)

	f.Reset()
	assert.Equal(t, int64(0), f.Messages())
	assert.Empty(t, f.Health(false).LastError)
}
