package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"convo-lab/contract"
	"convo-lab/domain/event"
	"convo-lab/errors"
	pb "convo-lab/proto/convo"
)

var _ contract.IChangeBus = (*RemoteBus)(nil)

const (
	minReconnectBackoff = 100 * time.Millisecond
	maxReconnectBackoff = 5 * time.Second
)

// RemoteBus exposes the server Watch stream as a change bus, so that a remote
// session reuses the same subscription manager as an in-process one.
// A broken stream is reopened with exponential backoff. The server starts every stream
// with a resync, which tells the subscriber to refetch what it missed during the gap.
type RemoteBus struct {
	client     pb.ChatServiceClient
	log        *slog.Logger
	bufferSize int
	minBackoff time.Duration
	maxBackoff time.Duration

	mu   sync.Mutex
	subs map[*remoteSubscription]struct{}
}

func NewRemoteBus(client pb.ChatServiceClient, log *slog.Logger, bufferSize int) *RemoteBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &RemoteBus{
		client:     client,
		log:        log,
		bufferSize: bufferSize,
		minBackoff: minReconnectBackoff,
		maxBackoff: maxReconnectBackoff,
		subs:       make(map[*remoteSubscription]struct{}),
	}
}

type remoteSubscription struct {
	table  event.Table
	filter event.Filter
	events chan event.Change
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *remoteSubscription) Events() <-chan event.Change { return s.events }
func (s *remoteSubscription) Table() event.Table          { return s.table }
func (s *remoteSubscription) Filter() event.Filter        { return s.filter }

// Subscribe returns once the server confirmed the stream with its first event.
// Authorization failures surface here and are never retried.
func (b *RemoteBus) Subscribe(ctx context.Context, table event.Table, filter event.Filter) (contract.ISubscription, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := b.open(runCtx, table, filter)
	if !stop() || err != nil {
		cancel()
		if err == nil {
			err = errors.Transient(ctx.Err())
		}
		return nil, err
	}

	sub := &remoteSubscription{
		table:  table,
		filter: filter,
		events: make(chan event.Change, b.bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.receive(runCtx, sub, stream)
	return sub, nil
}

type watchStream interface {
	Recv() (*pb.ChangeEvent, error)
}

func (b *RemoteBus) open(ctx context.Context, table event.Table, filter event.Filter) (watchStream, error) {
	stream, err := b.client.Watch(ctx, &pb.WatchRequest{Table: string(table), Any: toMatches(filter)})
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	first, err := stream.Recv()
	if err != nil {
		return nil, errors.FromGRPCError(err)
	}
	if event.Op(first.Op) != event.OpResync {
		return nil, fmt.Errorf("watch %s: unexpected first event %q", table, first.Op)
	}
	return stream, nil
}

func (b *RemoteBus) receive(ctx context.Context, sub *remoteSubscription, stream watchStream) {
	defer close(sub.done)
	defer close(sub.events)

	for {
		msg, err := stream.Recv()
		if err == nil {
			change := toChange(msg)
			if change.Table == sub.table && sub.filter.Matches(change) {
				b.deliver(sub, change)
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		b.log.Warn("Watch stream interrupted", "table", sub.table, "error", err)

		stream = b.reconnect(ctx, sub)
		if stream == nil {
			return
		}
		b.log.Info("Watch stream restored", "table", sub.table)
		b.deliver(sub, event.Resync(sub.table))
	}
}

// reconnect returns nil when the subscription was released or the server refused it.
func (b *RemoteBus) reconnect(ctx context.Context, sub *remoteSubscription) watchStream {
	backoff := b.minBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		stream, err := b.open(ctx, sub.table, sub.filter)
		if err == nil {
			return stream
		}
		if ctx.Err() != nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			b.log.Error("Watch refused, subscription dropped", "table", sub.table, "error", err)
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			return nil
		}
		backoff = min(backoff*2, b.maxBackoff)
	}
}

func (b *RemoteBus) deliver(sub *remoteSubscription, change event.Change) {
	select {
	case sub.events <- change:
	default:
		b.log.Debug("Change dropped, subscriber buffer full", "table", change.Table, "op", change.Op)
	}
}

// Unsubscribe closes the stream and waits for the events channel to close.
func (b *RemoteBus) Unsubscribe(_ context.Context, handle contract.ISubscription) error {
	sub, ok := handle.(*remoteSubscription)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", errors.ErrSubscriptionGone, handle)
	}
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.cancel()
	<-sub.done
	return nil
}

func (b *RemoteBus) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *RemoteBus) Close() {
	b.mu.Lock()
	subs := make([]*remoteSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = b.Unsubscribe(context.Background(), sub)
	}
}
