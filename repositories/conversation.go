package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"convo-lab/contract"
	"convo-lab/domain"
	"convo-lab/domain/event"
	"convo-lab/errors"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.IConversationRepository = (*ConversationRepository)(nil)

type ConversationRepository struct {
	db        *badger.DB
	log       *slog.Logger
	publisher contract.IPublisher
}

func NewConversationRepository(db *badger.DB, log *slog.Logger, publisher contract.IPublisher) *ConversationRepository {
	return &ConversationRepository{db: db, log: log, publisher: publisher}
}

func conversationKey(id domain.ConversationID) []byte {
	return []byte("conv:" + string(id))
}

// participantKey indexes a conversation under each participant: "conv_user:{user}:{conversation}".
func participantKey(userID domain.UserID, id domain.ConversationID) []byte {
	return []byte(fmt.Sprintf("conv_user:%s:%s", userID, id))
}

func participantPrefix(userID domain.UserID) []byte {
	return []byte(fmt.Sprintf("conv_user:%s:", userID))
}

func partiesKey(customerID, providerID domain.UserID, serviceRequestID *string) []byte {
	request := "-"
	if serviceRequestID != nil {
		request = *serviceRequestID
	}
	return []byte(fmt.Sprintf("conv_pair:%s:%s:%s", customerID, providerID, request))
}

// Create persists a conversation and its indexes. Creation is idempotent per
// (customer, provider, service request): a concurrent duplicate returns the stored one.
func (r *ConversationRepository) Create(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, errors.Transient(err)
	}
	if conversation.ID == "" {
		conversation.ID = domain.NewConversationID()
	}
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = time.Now().UTC()
	}
	if conversation.LastMessageAt.IsZero() {
		conversation.LastMessageAt = conversation.CreatedAt
	}

	var created bool
	stored := conversation
	err := updateWithRetry(r.db, func(txn *badger.Txn) error {
		created = false
		pair := partiesKey(conversation.CustomerID, conversation.ProviderID, conversation.ServiceRequestID)
		item, err := txn.Get(pair)
		switch {
		case err == nil:
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stored, err = getConversation(txn, domain.ConversationID(id))
			return err
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		stored = conversation
		created = true
		for _, kv := range []struct{ k, v []byte }{
			{conversationKey(conversation.ID), encodeConversation(conversation)},
			{pair, []byte(conversation.ID)},
			{participantKey(conversation.CustomerID, conversation.ID), nil},
			{participantKey(conversation.ProviderID, conversation.ID), nil},
		} {
			if err := txn.Set(kv.k, kv.v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Conversation{}, storeError("create conversation", err)
	}
	if created {
		publish(ctx, r.publisher, r.log, event.Change{
			Table: event.TableConversations,
			Op:    event.OpInsert,
			Row:   conversationRow(stored),
		})
	}
	return stored, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Conversation{}, errors.Transient(err)
	}
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		return err
	})
	if err != nil {
		return domain.Conversation{}, storeError("get conversation", err)
	}
	return conversation, nil
}

// FindByParties returns nil when the parties never talked about this request.
func (r *ConversationRepository) FindByParties(ctx context.Context, customerID, providerID domain.UserID, serviceRequestID *string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transient(err)
	}
	var conversation *domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(partiesKey(customerID, providerID, serviceRequestID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		found, err := getConversation(txn, domain.ConversationID(id))
		if err != nil {
			return err
		}
		conversation = &found
		return nil
	})
	if err != nil {
		return nil, storeError("find conversation", err)
	}
	return conversation, nil
}

// ListForParticipant scans the participant index, then orders by last_message_at
// descending. Ties are broken by id so the order is stable across reads.
func (r *ConversationRepository) ListForParticipant(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Transient(err)
	}
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := participantPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		var ids []domain.ConversationID
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, domain.ConversationID(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			conversation, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("list conversations", err)
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
	return conversations, nil
}

// UpdateLastMessage moves the projection forward only when at is newer than the stored
// last_message_at, so concurrent senders converge on the latest server timestamp.
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, id domain.ConversationID, content string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.Transient(err)
	}
	var (
		conversation domain.Conversation
		applied      bool
	)
	err := updateWithRetry(r.db, func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, id)
		if err != nil {
			return err
		}
		applied = conversation.ApplyLastMessage(content, at)
		if !applied {
			return nil
		}
		return txn.Set(conversationKey(id), encodeConversation(conversation))
	})
	if err != nil {
		return false, storeError("update last message", err)
	}
	if applied {
		publish(ctx, r.publisher, r.log, event.Change{
			Table: event.TableConversations,
			Op:    event.OpUpdate,
			Row:   conversationRow(conversation),
		})
	}
	return applied, nil
}

func getConversation(txn *badger.Txn, id domain.ConversationID) (domain.Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Conversation{}, err
	}
	return decodeConversation(value)
}
