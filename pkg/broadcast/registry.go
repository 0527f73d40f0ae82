package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry tracks active subscribers in registration order.
// All mutation and snapshot reads are linearised through one lock, and no
// subscriber I/O ever happens while it is held.
type Registry struct {
	mu     sync.RWMutex
	subs   *orderedmap.OrderedMap[SubscriberID, *Subscriber]
	closed bool
	cfg    config
}

// NewRegistry creates an empty registry. Only the queue size, subscriber cap,
// clock, logger and observer options apply.
func NewRegistry(opts ...Option) *Registry {
	return newRegistry(newConfig(opts))
}

func newRegistry(cfg config) *Registry {
	return &Registry{
		subs: orderedmap.New[SubscriberID, *Subscriber](),
		cfg:  cfg,
	}
}

// Register creates a subscriber with a fresh bounded queue and adds it to the registry.
// Returns ErrRegistryFull when the configured cap is reached and ErrRegistryClosed after Close.
func (r *Registry) Register() (*Subscriber, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if r.cfg.maxSubscribers > 0 && r.subs.Len() >= r.cfg.maxSubscribers {
		r.mu.Unlock()
		return nil, ErrRegistryFull
	}

	id := uuid.New()
	for {
		if _, taken := r.subs.Get(id); !taken {
			break
		}
		id = uuid.New()
	}

	sub := newSubscriber(id, r.cfg.queueSize, r.cfg.clock.Now())
	r.subs.Set(id, sub)
	sub.transition(StateConnecting, StateActive)
	total := r.subs.Len()
	r.mu.Unlock()

	r.cfg.observer.SubscriberAdded(id)
	r.cfg.logger.Debug("subscriber registered",
		slog.String("subscriber_id", id.String()),
		slog.Int("subscribers", total))

	return sub, nil
}

// Unregister removes the subscriber. Safe to call repeatedly or after the
// subscriber is already gone.
func (r *Registry) Unregister(id SubscriberID) {
	r.remove(id)
}

// remove detaches the subscriber and releases its queue.
// It returns false if the subscriber was not registered.
func (r *Registry) remove(id SubscriberID) bool {
	r.mu.Lock()
	sub, ok := r.subs.Delete(id)
	total := r.subs.Len()
	r.mu.Unlock()

	if !ok {
		return false
	}

	from := sub.release()
	r.cfg.observer.SubscriberRemoved(id, from)
	r.cfg.logger.Debug("subscriber removed",
		slog.String("subscriber_id", id.String()),
		slog.String("from_state", from.String()),
		slog.Int("subscribers", total))

	return true
}

// Snapshot returns the registered subscribers in registration order.
// The slice is a point-in-time copy; later registry changes do not affect it.
func (r *Registry) Snapshot() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscriber, 0, r.subs.Len())
	for pair := r.subs.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Get returns a registered subscriber by id.
func (r *Registry) Get(id SubscriberID) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs.Get(id)
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs.Len()
}

// Close removes every subscriber and rejects further registrations.
// Returns the number of subscribers removed.
func (r *Registry) Close() int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	r.closed = true
	subs := make([]*Subscriber, 0, r.subs.Len())
	for pair := r.subs.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, pair.Value)
	}
	r.subs = orderedmap.New[SubscriberID, *Subscriber]()
	r.mu.Unlock()

	for _, sub := range subs {
		from := sub.release()
		r.cfg.observer.SubscriberRemoved(sub.id, from)
	}
	return len(subs)
}
