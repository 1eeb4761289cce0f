package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"convo-lab/contract"
	"convo-lab/domain/event"
	"convo-lab/errors"
	"convo-lab/telemetry"

	"github.com/redis/go-redis/v9"
)

var (
	_ contract.IChangeBus = (*Redis)(nil)
	_ contract.IPublisher = (*Redis)(nil)
)

const (
	defaultChannelPrefix = "convo:changes:"
	receiveBackoff       = 100 * time.Millisecond
)

// Redis carries changes over Redis pub/sub, one channel per table.
// Filtering happens on the subscriber side. Redis pub/sub forgets messages sent while a
// subscriber is disconnected, so every re-subscription after the first one is reported
// to the subscriber as an OpResync change.
type Redis struct {
	client     *redis.Client
	log        *slog.Logger
	prefix     string
	bufferSize int
	emitter    *telemetry.Emitter

	mu   sync.Mutex
	subs map[*redisSubscription]struct{}
}

// NewRedisFromURL parses url (redis://...) and checks the server answers.
func NewRedisFromURL(ctx context.Context, url string, log *slog.Logger, bufferSize int) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Transient(fmt.Errorf("redis: ping: %w", err))
	}
	return NewRedis(client, log, bufferSize), nil
}

func NewRedis(client *redis.Client, log *slog.Logger, bufferSize int) *Redis {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Redis{
		client:     client,
		log:        log,
		prefix:     defaultChannelPrefix,
		bufferSize: bufferSize,
		subs:       make(map[*redisSubscription]struct{}),
	}
}

// WithEmitter reports every dropped change as a telemetry event.
func (b *Redis) WithEmitter(emitter *telemetry.Emitter) *Redis {
	b.emitter = emitter
	return b
}

func (b *Redis) channel(table event.Table) string {
	return b.prefix + string(table)
}

func (b *Redis) Publish(ctx context.Context, change event.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("redis: encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(change.Table), payload).Err(); err != nil {
		return errors.Transient(fmt.Errorf("redis: publish: %w", err))
	}
	return nil
}

type redisSubscription struct {
	table  event.Table
	filter event.Filter
	events chan event.Change
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSubscription) Events() <-chan event.Change { return s.events }
func (s *redisSubscription) Table() event.Table          { return s.table }
func (s *redisSubscription) Filter() event.Filter        { return s.filter }

// Subscribe returns once Redis confirmed the subscription.
func (b *Redis) Subscribe(ctx context.Context, table event.Table, filter event.Filter) (contract.ISubscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(table))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Transient(fmt.Errorf("redis: subscribe %s: %w", table, err))
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		table:  table,
		filter: filter,
		events: make(chan event.Change, b.bufferSize),
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.receive(runCtx, sub)
	return sub, nil
}

func (b *Redis) receive(ctx context.Context, sub *redisSubscription) {
	defer close(sub.done)
	defer close(sub.events)

	gap := false
	for {
		msg, err := sub.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !gap {
				b.log.Warn("Redis subscription interrupted", "table", sub.table, "error", err)
			}
			gap = true
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" && gap {
				gap = false
				b.log.Info("Redis subscription restored", "table", sub.table)
				b.deliver(sub, event.Resync(sub.table))
			}
		case *redis.Message:
			var change event.Change
			if err := json.Unmarshal([]byte(m.Payload), &change); err != nil {
				b.log.Warn("Malformed change ignored", "channel", m.Channel, "error", err)
				continue
			}
			if change.Table == sub.table && sub.filter.Matches(change) {
				b.deliver(sub, change)
			}
		}
	}
}

func (b *Redis) deliver(sub *redisSubscription, change event.Change) {
	select {
	case sub.events <- change:
	default:
		b.log.Debug("Change dropped, subscriber buffer full", "table", change.Table, "op", change.Op)
		b.emitter.Emit(telemetry.ChangeDroppedType, telemetry.ChangeDropped{Table: change.Table, Op: change.Op, BufferSize: b.bufferSize})
	}
}

// Unsubscribe stops the receive loop and waits for the events channel to close.
func (b *Redis) Unsubscribe(_ context.Context, handle contract.ISubscription) error {
	sub, ok := handle.(*redisSubscription)
	if !ok {
		return fmt.Errorf("%w: foreign handle %T", errors.ErrSubscriptionGone, handle)
	}
	b.mu.Lock()
	_, live := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if !live {
		return nil
	}
	sub.cancel()
	err := sub.pubsub.Close()
	<-sub.done
	return err
}

func (b *Redis) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscription and the client.
func (b *Redis) Close() error {
	b.mu.Lock()
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = b.Unsubscribe(context.Background(), sub)
	}
	return b.client.Close()
}
