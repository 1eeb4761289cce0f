package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/domain/event"
	"convo-lab/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

var _ contract.IMessageRepository = (*MessageRepository)(nil)

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	publisher     contract.IPublisher
	clock         *serverClock
	limitMessages *int
}

// NewMessageRepository builds the message log. publisher may be nil.
// limitMessages, when set, keeps only the newest messages in ListByConversation.
func NewMessageRepository(db *badger.DB, log *slog.Logger, publisher contract.IPublisher, limitMessages *int) *MessageRepository {
	return &MessageRepository{
		db:            db,
		log:           log,
		publisher:     publisher,
		clock:         newServerClock(nil),
		limitMessages: limitMessages,
	}
}

func messagePrefix(id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", id))
}

// messageKey is formatted as "msg:{conversation_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector.
func messageKey(id domain.ConversationID, at time.Time, messageID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", id, at.UnixNano(), messageID))
}

func messageIndexKey(id uuid.UUID) []byte {
	return []byte("msg_id:" + id.String())
}

// Insert appends a message to the log. ID and CreatedAt are assigned here, the
// caller's values are ignored: the store is the single linearization point.
func (m *MessageRepository) Insert(ctx context.Context, message domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, errors.Transient(err)
	}
	var floor time.Time
	if !m.clock.known(message.ConversationID) {
		last, err := m.Last(ctx, message.ConversationID)
		if err != nil {
			return domain.Message{}, err
		}
		if last != nil {
			floor = last.CreatedAt
		}
	}
	message.ID = uuid.New()
	message.ReadAt = nil
	message.CreatedAt = m.clock.next(message.ConversationID, floor)
	key := messageKey(message.ConversationID, message.CreatedAt, message.ID)

	err := m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, encodeMessage(message)); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(message.ID), key)
	})
	if err != nil {
		return domain.Message{}, storeError("store message", err)
	}
	publish(ctx, m.publisher, m.log, event.Change{
		Table: event.TableMessages,
		Op:    event.OpInsert,
		Row:   messageRow(message),
	})
	return message, nil
}

// ListByConversation retrieves messages using a reverse prefix scan, then restores
// ascending created_at order. It stops once limitMessages is reached.
func (m *MessageRepository) ListByConversation(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transient(err)
	}
	var raw [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(id)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		// Start after the newest possible key and walk backwards
		for it.Seek(append(prefix, []byte("9999999999999999999")...)); it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(raw) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			raw = append(raw, value)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("list messages", err)
	}

	messages := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		message, err := decodeMessage(raw[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// Last returns the newest message of a conversation, nil when the log is empty.
func (m *MessageRepository) Last(ctx context.Context, id domain.ConversationID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transient(err)
	}
	var value []byte
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(id)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		it.Seek(append(prefix, []byte("9999999999999999999")...))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var err error
		value, err = it.Item().ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, storeError("last message", err)
	}
	if value == nil {
		return nil, nil
	}
	message, err := decodeMessage(value)
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (m *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, errors.Transient(err)
	}
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, id)
		return err
	})
	if err != nil {
		return domain.Message{}, storeError("get message", err)
	}
	return message, nil
}

// MarkRead sets read_at once. Later calls keep the first timestamp.
func (m *MessageRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, errors.Transient(err)
	}
	var (
		message domain.Message
		changed bool
	)
	err := updateWithRetry(m.db, func(txn *badger.Txn) error {
		var err error
		changed = false
		message, err = getMessage(txn, id)
		if err != nil || message.ReadAt != nil {
			return err
		}
		readAt := at.UTC()
		message.ReadAt = &readAt
		changed = true
		return txn.Set(messageKey(message.ConversationID, message.CreatedAt, message.ID), encodeMessage(message))
	})
	if err != nil {
		return domain.Message{}, storeError("mark read", err)
	}
	if changed {
		publish(ctx, m.publisher, m.log, event.Change{
			Table: event.TableMessages,
			Op:    event.OpUpdate,
			Row:   messageRow(message),
		})
	}
	return message, nil
}

func getMessage(txn *badger.Txn, id uuid.UUID) (domain.Message, error) {
	item, err := txn.Get(messageIndexKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, err
	}
	item, err = txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, err
	}
	return decodeMessage(value)
}
