package bus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"convo-lab/domain/event"
	"convo-lab/telemetry"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func conversationChange(customer, provider string) event.Change {
	return event.Change{
		Table: event.TableConversations,
		Op:    event.OpUpdate,
		Row:   event.Row{event.ColumnCustomerID: customer, event.ColumnProviderID: provider},
	}
}

func TestMemory_Publish_Matching_Subscribers_Only(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewMemory(logs.GetLoggerFromLevel(slog.LevelDebug), 10)

	alice, err := bus.Subscribe(ctx, event.TableConversations, event.Eq(event.ColumnCustomerID, "alice").Or(event.ColumnProviderID, "alice"))
	req.NoError(err)
	carol, err := bus.Subscribe(ctx, event.TableConversations, event.Eq(event.ColumnCustomerID, "carol").Or(event.ColumnProviderID, "carol"))
	req.NoError(err)
	messages, err := bus.Subscribe(ctx, event.TableMessages, event.Filter{})
	req.NoError(err)

	// When a conversation of alice changes
	req.NoError(bus.Publish(ctx, conversationChange("alice", "bob")))

	// Then only alice's subscription is notified
	select {
	case change := <-alice.Events():
		req.Equal(event.OpUpdate, change.Op)
	case <-time.After(time.Second):
		req.Fail("alice was not notified")
	}
	req.Empty(carol.Events())
	req.Empty(messages.Events())
}

func TestMemory_Publish_Never_Blocks(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewMemory(slog.Default(), 1)
	sub, err := bus.Subscribe(ctx, event.TableMessages, event.Filter{})
	req.NoError(err)

	// Given a subscriber that never reads
	for i := 0; i < 5; i++ {
		req.NoError(bus.Publish(ctx, event.Change{Table: event.TableMessages, Op: event.OpInsert}))
	}

	// Then the extra changes are dropped, one is still pending
	req.Len(sub.Events(), 1)
	req.Equal(int64(4), bus.Dropped())
}

func TestMemory_Reports_Drops_To_Telemetry(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	emitter := telemetry.NewEmitter(10)
	bus := NewMemory(slog.Default(), 1).WithEmitter(emitter)
	_, err := bus.Subscribe(ctx, event.TableMessages, event.Filter{})
	req.NoError(err)

	for i := 0; i < 3; i++ {
		req.NoError(bus.Publish(ctx, event.Change{Table: event.TableMessages, Op: event.OpInsert}))
	}

	req.Len(emitter.Events(), 2)
	evt := <-emitter.Events()
	req.Equal(telemetry.ChangeDroppedType, evt.Type)
	req.Equal(telemetry.ChangeDropped{Table: event.TableMessages, Op: event.OpInsert, BufferSize: 1}, evt.Payload)
}

func TestMemory_Unsubscribe_Closes_Events(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewMemory(slog.Default(), 1)
	sub, err := bus.Subscribe(ctx, event.TableMessages, event.Filter{})
	req.NoError(err)
	req.Equal(1, bus.Live())

	req.NoError(bus.Unsubscribe(ctx, sub))
	req.Equal(0, bus.Live())
	_, open := <-sub.Events()
	req.False(open)

	// A second unsubscribe is a no-op
	req.NoError(bus.Unsubscribe(ctx, sub))
	// Publishing afterwards does not panic on the closed channel
	req.NoError(bus.Publish(ctx, event.Change{Table: event.TableMessages, Op: event.OpInsert}))
}

func TestMemory_Resync_Reaches_Every_Subscriber_Of_Table(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	bus := NewMemory(slog.Default(), 4)
	first, err := bus.Subscribe(ctx, event.TableMessages, event.Eq(event.ColumnConversationID, "c1"))
	req.NoError(err)
	second, err := bus.Subscribe(ctx, event.TableMessages, event.Eq(event.ColumnConversationID, "c2"))
	req.NoError(err)

	req.NoError(bus.Resync(ctx, event.TableMessages))

	req.Equal(event.OpResync, (<-first.Events()).Op)
	req.Equal(event.OpResync, (<-second.Events()).Op)

	bus.Close()
	req.Equal(0, bus.Live())
}
