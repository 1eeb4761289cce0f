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
)

const maxConflictRetries = 5

// publish notifies the bus once a write is committed. A lost notification only delays
// observers until their next refetch, so failures are logged and swallowed.
func publish(ctx context.Context, publisher contract.IPublisher, log *slog.Logger, change event.Change) {
	if publisher == nil {
		return
	}
	change.At = time.Now().UTC()
	if err := publisher.Publish(ctx, change); err != nil {
		log.Warn("Change notification lost", "table", change.Table, "op", change.Op, "error", err)
	}
}

func conversationRow(c domain.Conversation) event.Row {
	return event.Row{
		event.ColumnID:         string(c.ID),
		event.ColumnCustomerID: string(c.CustomerID),
		event.ColumnProviderID: string(c.ProviderID),
	}
}

func messageRow(m domain.Message) event.Row {
	return event.Row{
		event.ColumnID:             m.ID.String(),
		event.ColumnConversationID: string(m.ConversationID),
		event.ColumnSenderID:       string(m.SenderID),
	}
}

// updateWithRetry reruns fn when badger detects a read-write conflict with a
// concurrent transaction.
func updateWithRetry(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// storeError keeps domain errors as they are and marks everything else retryable.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrValidation) {
		return err
	}
	return errors.Transient(wrap(op, err))
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
