// Package component defines the lifecycle and introspection contract shared by the
// server's transports and the NATS mirror.
package component

import (
	"context"
	"sync/atomic"
	"time"
)

// Component can describe itself and report health and traffic.
type Component interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// Lifecycle is a Component with managed startup and shutdown:
//   - Initialize() error                    validate and prepare, no I/O
//   - Start(ctx context.Context) error      bind sockets and start loops
//   - Stop(timeout time.Duration) error     close and wait up to timeout
type Lifecycle interface {
	Component
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "transport" or "mirror"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FlowCounter accumulates traffic counters for DataFlow and Health. The zero value is
// ready to use; call Reset when the component starts.
type FlowCounter struct {
	messages     atomic.Int64
	bytes        atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	lastError    atomic.Value // string
	start        atomic.Int64 // unix nanos
}

// Reset zeroes the counters and marks now as the start time.
func (f *FlowCounter) Reset() {
	f.messages.Store(0)
	f.bytes.Store(0)
	f.errors.Store(0)
	f.lastActivity.Store(0)
	f.lastError.Store("")
	f.start.Store(time.Now().UnixNano())
}

// Record counts one message of n bytes.
func (f *FlowCounter) Record(n int) {
	f.messages.Add(1)
	f.bytes.Add(int64(n))
	f.lastActivity.Store(time.Now().UnixNano())
}

// Error counts a failure and remembers its text.
func (f *FlowCounter) Error(err error) {
	f.errors.Add(1)
	if err != nil {
		f.lastError.Store(err.Error())
	}
}

// Messages returns the number of recorded messages.
func (f *FlowCounter) Messages() int64 { return f.messages.Load() }

// Errors returns the number of recorded errors.
func (f *FlowCounter) Errors() int64 { return f.errors.Load() }

// Uptime returns the time since Reset, or zero if never reset.
func (f *FlowCounter) Uptime() time.Duration {
	start := f.start.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// Health builds a HealthStatus from the counters.
func (f *FlowCounter) Health(healthy bool) HealthStatus {
	lastErr, _ := f.lastError.Load().(string)
	return HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(f.errors.Load()),
		LastError:  lastErr,
		Uptime:     f.Uptime(),
	}
}

// Flow builds FlowMetrics averaged over the uptime.
func (f *FlowCounter) Flow() FlowMetrics {
	messages := f.messages.Load()
	bytes := f.bytes.Load()
	errorCount := f.errors.Load()

	var fm FlowMetrics
	if uptime := f.Uptime().Seconds(); uptime > 0 {
		fm.MessagesPerSecond = float64(messages) / uptime
		fm.BytesPerSecond = float64(bytes) / uptime
	}
	if messages > 0 {
		fm.ErrorRate = float64(errorCount) / float64(messages)
	}
	if last := f.lastActivity.Load(); last != 0 {
		fm.LastActivity = time.Unix(0, last)
	}
	return fm
}
