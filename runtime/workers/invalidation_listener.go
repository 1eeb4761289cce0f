package workers

import (
	"context"
	"log/slog"

	"convo-lab/contract"
	"convo-lab/domain/event"
)

// InvalidationListener drains one bus subscription and invalidates a single cache key
// for every change it receives, resync included.
// It returns nil once the subscription is closed.
type InvalidationListener struct {
	Log          *slog.Logger
	Scope        string
	Subscription contract.ISubscription
	Invalidate   func()
}

func NewInvalidationListener(log *slog.Logger, scope string, sub contract.ISubscription, invalidate func()) *InvalidationListener {
	return &InvalidationListener{Log: log, Scope: scope, Subscription: sub, Invalidate: invalidate}
}

func (w *InvalidationListener) Run(ctx context.Context) error {
	events := w.Subscription.Events()
	for {
		select {
		case change, ok := <-events:
			if !ok {
				w.Log.Debug("Subscription closed", "scope", w.Scope)
				return nil
			}
			if change.Op == event.OpResync {
				w.Log.Debug("Resync received, invalidating", "scope", w.Scope)
			}
			w.Invalidate()
		case <-ctx.Done():
			return nil
		}
	}
}
