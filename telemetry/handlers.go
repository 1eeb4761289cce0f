package telemetry

import (
	"fmt"
	"log/slog"
	"time"
)

// Handler Each kind of event has his own handler
// Based on the Chain of responsibility pattern
type Handler interface {
	Handle(event Event)
}

// WorkerRestartedHandler counts supervised workers restarted after a panic or an error.
type WorkerRestartedHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewWorkerRestartedHandler(log *slog.Logger, counter *Counter) *WorkerRestartedHandler {
	return &WorkerRestartedHandler{log: log, counter: counter}
}

func (h *WorkerRestartedHandler) Handle(event Event) {
	if event.Type != WorkerRestartedType {
		return
	}
	payload, ok := event.Payload.(WorkerRestarted)
	if !ok {
		h.log.Error("invalid telemetry payload", "type", event.Type)
		return
	}
	total := h.counter.Increment(WorkerRestartedType)
	h.log.Debug(fmt.Sprintf("Worker %s restarted, total: %d", payload.WorkerName, total), "error", payload.Err)
}

// ChangeDroppedHandler warns on the first dropped change and then every warnEvery drops.
// Drops are harmless for correctness but a steady rate means subscribers are too slow.
type ChangeDroppedHandler struct {
	log       *slog.Logger
	counter   *Counter
	warnEvery int
}

func NewChangeDroppedHandler(log *slog.Logger, counter *Counter, warnEvery int) *ChangeDroppedHandler {
	if warnEvery <= 0 {
		warnEvery = 1
	}
	return &ChangeDroppedHandler{log: log, counter: counter, warnEvery: warnEvery}
}

func (h *ChangeDroppedHandler) Handle(event Event) {
	if event.Type != ChangeDroppedType {
		return
	}
	payload, ok := event.Payload.(ChangeDropped)
	if !ok {
		h.log.Error("invalid telemetry payload", "type", event.Type)
		return
	}
	total := h.counter.Increment(ChangeDroppedType)
	if total == 1 || total%h.warnEvery == 0 {
		h.log.Warn("Subscriber buffer full, changes dropped",
			"table", payload.Table, "op", payload.Op, "buffer_size", payload.BufferSize, "total", total)
	}
}

// LatencyHandler reports the time between a commit and its delivery on a Watch stream.
type LatencyHandler struct {
	log              *slog.Logger
	latencyThreshold time.Duration
}

func NewLatencyHandler(log *slog.Logger, latencyThreshold time.Duration) *LatencyHandler {
	return &LatencyHandler{log: log, latencyThreshold: latencyThreshold}
}

func (h *LatencyHandler) Handle(event Event) {
	payload, ok := event.Payload.(ChangeDelivered)
	if !ok {
		return
	}
	leadTime := event.CreatedAt.Sub(payload.At)
	h.log.Debug("telemetry: delivery latency",
		"table", payload.Table,
		"op", payload.Op,
		"lead_time_ms", leadTime.Milliseconds(),
	)
	if h.latencyThreshold > 0 && leadTime > h.latencyThreshold {
		h.log.Warn("high delivery latency detected", "table", payload.Table, "lead_time", leadTime)
	}
}
