package projection

import (
	"testing"
	"time"

	"convo-lab/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func message(content string, at time.Time) domain.Message {
	return domain.Message{ID: uuid.New(), ConversationID: "c1", SenderID: "alice", Content: content, Type: domain.MessageTypeText, CreatedAt: at}
}

func TestTimeline_Pending_Then_Committed(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	timeline := NewTimeline("c1")
	m1 := message("Are you free Friday?", now)

	// Given a message sent optimistically
	timeline.AddPending("corr-2", "Yes, 2pm works")
	entries := timeline.Merge([]domain.Message{m1})
	req.Len(entries, 2)
	req.Equal(StateCommitted, entries[0].State)
	req.Equal(StatePending, entries[1].State)
	req.Equal("Yes, 2pm works", entries[1].Content)

	// When the store acknowledges it
	m2 := message("Yes, 2pm works", now.Add(time.Second))
	req.True(timeline.Commit("corr-2", m2))

	// Then it shows as committed before the cache caught up
	entries = timeline.Merge([]domain.Message{m1})
	req.Len(entries, 2)
	req.Equal(StateCommitted, entries[1].State)
	req.Equal(m2.ID, entries[1].Message.ID)

	// And it is not duplicated once the read returns it
	entries = timeline.Merge([]domain.Message{m1, m2})
	req.Len(entries, 2)
	req.Equal(0, timeline.Len())
}

func TestTimeline_Fail_Returns_Draft(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("c1")
	timeline.AddPending("corr-1", "hello")

	draft, ok := timeline.Fail("corr-1")

	req.True(ok)
	req.Equal("hello", draft)
	req.Empty(timeline.Pending())
	req.Empty(timeline.Merge(nil))

	_, ok = timeline.Fail("corr-1")
	req.False(ok)
}

func TestTimeline_Same_Content_Is_Not_Deduplicated(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	timeline := NewTimeline("c1")
	confirmed := message("ok", now)

	// Given a pending message with the same content as a confirmed one
	timeline.AddPending("corr-1", "ok")

	// Then both are shown
	entries := timeline.Merge([]domain.Message{confirmed})
	req.Len(entries, 2)
}

func TestTimeline_Merge_Orders_By_CreatedAt(t *testing.T) {
	req := require.New(t)
	now := time.Now()
	timeline := NewTimeline("c1")
	first := message("first", now)
	second := message("second", now.Add(time.Millisecond))
	late := message("late", now.Add(2*time.Millisecond))

	timeline.AddPending("corr-late", "late")
	timeline.AddPending("corr-next", "next")
	timeline.Commit("corr-late", late)

	entries := timeline.Merge([]domain.Message{second, first, first})

	req.Len(entries, 4)
	req.Equal("first", entries[0].Content)
	req.Equal("second", entries[1].Content)
	req.Equal("late", entries[2].Content)
	req.Equal(StatePending, entries[3].State)
	req.False(timeline.Commit("unknown", late))
}

func TestTimeline_Echoed_Correlation_Replaces_Pending(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("c1")
	timeline.AddPending("corr-1", "hi")

	// Given a read that returns the message before the send answered
	stored := message("hi", time.Now())
	stored.CorrelationID = "corr-1"
	entries := timeline.Merge([]domain.Message{stored})

	// Then it is shown once, as committed
	req.Len(entries, 1)
	req.Equal(StateCommitted, entries[0].State)
	req.Equal(stored.ID, entries[0].Message.ID)
	req.Empty(timeline.Pending())

	// And the late answer has nothing left to commit
	req.False(timeline.Commit("corr-1", stored))
	req.Len(timeline.Merge([]domain.Message{stored}), 1)
}
