package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"convo-lab/contract"
	"convo-lab/errors"
	"convo-lab/runtime/workers"
)

type watch struct {
	refs  int
	ready chan struct{}
	sub   contract.ISubscription
	err   error
}

// SubscriptionManager keeps exactly one bus subscription per active scope.
// Watches are ref-counted; the last release unsubscribes. Each subscription is drained
// by a supervised listener that invalidates the cache key of its scope only.
type SubscriptionManager struct {
	mu          sync.Mutex
	log         *slog.Logger
	bus         contract.IChangeBus
	invalidator contract.IInvalidator
	supervisor  *workers.Supervisor
	watches     map[Scope]*watch
	closed      bool
}

func NewSubscriptionManager(ctx context.Context, log *slog.Logger, bus contract.IChangeBus, invalidator contract.IInvalidator, restartInterval time.Duration) *SubscriptionManager {
	return &SubscriptionManager{
		log:         log,
		bus:         bus,
		invalidator: invalidator,
		supervisor:  workers.NewSupervisor(ctx, log, restartInterval),
		watches:     make(map[Scope]*watch),
	}
}

// Watch observes scope until the returned release is called. release is idempotent.
func (m *SubscriptionManager) Watch(ctx context.Context, scope Scope) (release func(), err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: subscription manager closed", errors.ErrSubscriptionGone)
	}
	w, ok := m.watches[scope]
	if ok {
		w.refs++
		m.mu.Unlock()
		<-w.ready
		if w.err != nil {
			return nil, w.err
		}
		return m.releaser(scope, w), nil
	}
	w = &watch{refs: 1, ready: make(chan struct{})}
	m.watches[scope] = w
	m.mu.Unlock()

	sub, err := m.bus.Subscribe(ctx, scope.Table(), scope.Filter())

	m.mu.Lock()
	if err != nil {
		w.err = fmt.Errorf("subscribe %s: %w", scope, err)
		delete(m.watches, scope)
		m.mu.Unlock()
		close(w.ready)
		return nil, w.err
	}
	w.sub = sub
	m.mu.Unlock()
	close(w.ready)

	// Anything written before the subscription existed was not observed.
	m.invalidate(scope)
	invalidate := func() { m.invalidate(scope) }
	m.supervisor.Start(context.WithoutCancel(ctx), workers.NewInvalidationListener(m.log, scope.String(), sub, invalidate))
	m.log.Debug("Scope watched", "scope", scope.String())
	return m.releaser(scope, w), nil
}

func (m *SubscriptionManager) invalidate(scope Scope) {
	switch scope.Kind {
	case ScopeConversationList:
		m.invalidator.InvalidateConversations(scope.UserID)
	case ScopeConversation:
		m.invalidator.InvalidateMessages(scope.ConversationID)
	}
}

func (m *SubscriptionManager) releaser(scope Scope, w *watch) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(scope, w) })
	}
}

func (m *SubscriptionManager) release(scope Scope, w *watch) {
	m.mu.Lock()
	w.refs--
	if w.refs > 0 {
		m.mu.Unlock()
		return
	}
	// The scope may already have been dropped by Close.
	if current, ok := m.watches[scope]; ok && current == w {
		delete(m.watches, scope)
	}
	m.mu.Unlock()
	m.unsubscribe(scope, w.sub)
}

func (m *SubscriptionManager) unsubscribe(scope Scope, sub contract.ISubscription) {
	if sub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.bus.Unsubscribe(ctx, sub); err != nil {
		m.log.Warn("Unsubscribe failed", "scope", scope.String(), "error", err)
		return
	}
	m.log.Debug("Scope released", "scope", scope.String())
}

// LiveCount returns the number of scopes holding a bus subscription.
func (m *SubscriptionManager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, w := range m.watches {
		if w.sub != nil {
			count++
		}
	}
	return count
}

// Refs returns how many watches share scope.
func (m *SubscriptionManager) Refs(scope Scope) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watches[scope]; ok {
		return w.refs
	}
	return 0
}

// Close releases every scope and waits for the listeners to stop.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	watches := m.watches
	m.watches = make(map[Scope]*watch)
	m.mu.Unlock()

	for scope, w := range watches {
		<-w.ready
		m.unsubscribe(scope, w.sub)
	}
	m.supervisor.Stop()
	m.supervisor.Wait()
}
