// Package telemetry carries technical events (restarts, dropped changes, delivery
// latency) from the components that observe them to a single worker running the handlers.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"convo-lab/domain/event"
)

type Type string

const (
	WorkerRestartedType Type = "WORKER_RESTARTED"
	ChangeDroppedType   Type = "CHANGE_DROPPED"
	ChangeDeliveredType Type = "CHANGE_DELIVERED"
)

type Event struct {
	Type      Type
	CreatedAt time.Time
	Payload   any
}

type WorkerRestarted struct {
	WorkerName string
	Err        string
}

// ChangeDropped is reported when a subscriber buffer was full.
type ChangeDropped struct {
	Table      event.Table
	Op         event.Op
	BufferSize int
}

// ChangeDelivered is reported when a change leaves the server on a Watch stream.
type ChangeDelivered struct {
	Table event.Table
	Op    event.Op
	At    time.Time
}

// Emitter hands events to the telemetry worker without ever blocking the caller.
// A nil Emitter discards everything.
type Emitter struct {
	events  chan Event
	dropped atomic.Int64
}

func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Emitter{events: make(chan Event, bufferSize)}
}

func (e *Emitter) Emit(t Type, payload any) {
	if e == nil {
		return
	}
	select {
	case e.events <- Event{Type: t, CreatedAt: time.Now().UTC(), Payload: payload}:
	default:
		e.dropped.Add(1)
	}
}

func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Dropped counts events lost because the worker lagged behind.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

type Counter struct {
	mu     sync.Mutex
	counts map[Type]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[Type]int)}
}

func (c *Counter) Increment(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[t]++
	return c.counts[t]
}

func (c *Counter) Get(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}
