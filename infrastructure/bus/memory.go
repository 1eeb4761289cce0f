// Package bus implements the change notification channel between the store and the
// observers of its tables.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"convo-lab/contract"
	"convo-lab/domain/event"
	"convo-lab/errors"
	"convo-lab/telemetry"
)

var (
	_ contract.IChangeBus = (*Memory)(nil)
	_ contract.IPublisher = (*Memory)(nil)
)

// Memory broadcasts changes to in-process subscribers.
//
// It provides best-effort fan-out with no guarantees regarding delivery,
// ordering, durability, or retries. Memory is not a message broker.
//
// Publish never blocks: when a subscriber buffer is full the change is dropped.
// The buffer then already holds a change of the same scope that will be handled
// after the dropped one, and every change is only an invalidation trigger.
//
// Memory is safe for concurrent use by multiple goroutines.
type Memory struct {
	mu         sync.RWMutex
	log        *slog.Logger
	bufferSize int
	subs       map[*subscription]struct{}
	dropped    atomic.Int64
	emitter    *telemetry.Emitter
}

func NewMemory(log *slog.Logger, bufferSize int) *Memory {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Memory{log: log, bufferSize: bufferSize, subs: make(map[*subscription]struct{})}
}

// WithEmitter reports every dropped change as a telemetry event.
func (b *Memory) WithEmitter(emitter *telemetry.Emitter) *Memory {
	b.emitter = emitter
	return b
}

type subscription struct {
	table  event.Table
	filter event.Filter
	events chan event.Change
}

func (s *subscription) Events() <-chan event.Change { return s.events }
func (s *subscription) Table() event.Table          { return s.table }
func (s *subscription) Filter() event.Filter        { return s.filter }

func (b *Memory) Subscribe(ctx context.Context, table event.Table, filter event.Filter) (contract.ISubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transient(err)
	}
	sub := &subscription{
		table:  table,
		filter: filter,
		events: make(chan event.Change, b.bufferSize),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	b.log.Debug("Subscribed", "table", table, "filter", filter.String())
	return sub, nil
}

// Unsubscribe closes the subscription's event channel. Unknown handles are ignored.
func (b *Memory) Unsubscribe(_ context.Context, handle contract.ISubscription) error {
	sub, ok := handle.(*subscription)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", errors.ErrSubscriptionGone, handle)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return nil
	}
	delete(b.subs, sub)
	close(sub.events)
	return nil
}

// Publish delivers change to every matching subscriber without waiting.
func (b *Memory) Publish(_ context.Context, change event.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.table != change.Table || !sub.filter.Matches(change) {
			continue
		}
		select {
		case sub.events <- change:
		default:
			b.dropped.Add(1)
			b.log.Debug("Change dropped, subscriber buffer full", "table", change.Table, "op", change.Op)
			b.emitter.Emit(telemetry.ChangeDroppedType, telemetry.ChangeDropped{Table: change.Table, Op: change.Op, BufferSize: b.bufferSize})
		}
	}
	return nil
}

// Resync tells every subscriber of table that it may have missed changes.
func (b *Memory) Resync(ctx context.Context, table event.Table) error {
	return b.Publish(ctx, event.Resync(table))
}

// Live returns the number of open subscriptions.
func (b *Memory) Live() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Memory) Dropped() int64 {
	return b.dropped.Load()
}

// Close drops every subscription.
func (b *Memory) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.events)
	}
}
