// Package event defines the row level change notifications carried by the change bus.
// A Change is an invalidation trigger, its Row is never treated as authoritative data.
package event

import "time"

type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	// OpResync is emitted locally by a bus after a gap (reconnect, dropped stream).
	// Consumers must refetch everything their scope covers.
	OpResync Op = "resync"
)

// Row carries the columns needed for filtering, keyed by column name.
type Row map[string]string

const (
	ColumnID             = "id"
	ColumnCustomerID     = "customer_id"
	ColumnProviderID     = "provider_id"
	ColumnConversationID = "conversation_id"
	ColumnSenderID       = "sender_id"
)

type Change struct {
	Table Table     `json:"table"`
	Op    Op        `json:"op"`
	Row   Row       `json:"row"`
	At    time.Time `json:"at"`
}

func Resync(table Table) Change {
	return Change{Table: table, Op: OpResync, At: time.Now().UTC()}
}
