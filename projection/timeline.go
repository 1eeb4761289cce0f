// Package projection builds the local, optimistic view of a conversation.
// Confirmed messages come from the store, pending ones only live here until the
// store answers. Entries are reconciled by correlation id and message id, never by
// content.
package projection

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"convo-lab/domain"

	"github.com/google/uuid"
)

type State string

const (
	StatePending   State = "pending"
	StateCommitted State = "committed"
)

type Entry struct {
	CorrelationID string
	State         State
	Content       string
	// Message is set once committed.
	Message  *domain.Message
	QueuedAt time.Time
}

func (e Entry) messageID() (uuid.UUID, bool) {
	if e.Message == nil {
		return uuid.Nil, false
	}
	return e.Message.ID, true
}

// Timeline holds the optimistic entries of one conversation.
type Timeline struct {
	mu             sync.Mutex
	ConversationID domain.ConversationID
	entries        []Entry
	now            func() time.Time
}

func NewTimeline(conversationID domain.ConversationID) *Timeline {
	return &Timeline{ConversationID: conversationID, now: time.Now}
}

// AddPending records a message not yet acknowledged by the store.
func (t *Timeline) AddPending(correlationID, content string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := Entry{CorrelationID: correlationID, State: StatePending, Content: content, QueuedAt: t.now()}
	t.entries = append(t.entries, entry)
	return entry
}

// Commit replaces the pending entry with the persisted message.
func (t *Timeline) Commit(correlationID string, message domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(correlationID)
	if i < 0 {
		return false
	}
	t.entries[i].State = StateCommitted
	t.entries[i].Content = message.Content
	t.entries[i].Message = &message
	return true
}

// Fail removes the pending entry and hands back its content as a draft.
func (t *Timeline) Fail(correlationID string) (draft string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.index(correlationID)
	if i < 0 || t.entries[i].State != StatePending {
		return "", false
	}
	draft = t.entries[i].Content
	t.entries = slices.Delete(t.entries, i, i+1)
	return draft, true
}

func (t *Timeline) index(correlationID string) int {
	return slices.IndexFunc(t.entries, func(e Entry) bool { return e.CorrelationID == correlationID })
}

// Pending returns the entries still waiting for the store.
func (t *Timeline) Pending() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var pending []Entry
	for _, e := range t.entries {
		if e.State == StatePending {
			pending = append(pending, e)
		}
	}
	return pending
}

// Merge returns the confirmed messages in created_at order, then the pending entries
// in the order they were queued. Entries already present in confirmed, by message id
// or by the correlation id the store echoes, are dropped from the timeline; committed
// ones not yet read are shown among the confirmed messages.
func (t *Timeline) Merge(confirmed []domain.Message) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(confirmed))
	echoed := make(map[string]struct{})
	merged := make([]Entry, 0, len(confirmed)+len(t.entries))
	for _, m := range confirmed {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.CorrelationID != "" {
			echoed[m.CorrelationID] = struct{}{}
		}
		merged = append(merged, Entry{CorrelationID: m.CorrelationID, State: StateCommitted, Content: m.Content, Message: &m, QueuedAt: m.CreatedAt})
	}

	var pending []Entry
	kept := t.entries[:0]
	for _, e := range t.entries {
		if _, done := echoed[e.CorrelationID]; done {
			continue
		}
		id, committed := e.messageID()
		if committed {
			if _, known := seen[id]; known {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, e)
		} else {
			pending = append(pending, e)
		}
		kept = append(kept, e)
	}
	clear(t.entries[len(kept):])
	t.entries = kept

	slices.SortStableFunc(merged, func(a, b Entry) int {
		if c := a.Message.CreatedAt.Compare(b.Message.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Message.ID.String(), b.Message.ID.String())
	})
	return append(merged, pending...)
}

// Len counts the entries not yet seen in a confirmed read.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
