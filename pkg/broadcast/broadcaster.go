package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SendFunc pushes one message to a subscriber's transport.
type SendFunc func(ctx context.Context, msg Message) error

// Stats is a point-in-time view of broadcaster activity.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	LastSeq     uint64 `json:"last_seq"`
	Dropped     uint64 `json:"dropped"`
	Failed      uint64 `json:"failed"`
	Policy      string `json:"policy"`
	QueueSize   int    `json:"queue_size"`
}

// Broadcaster delivers published messages to all registered, healthy subscribers.
// It performs no transport I/O itself; each subscriber's drain loop does.
type Broadcaster struct {
	registry *Registry
	cfg      config

	// pubMu serialises publishers: sequence assignment, snapshot and enqueue
	// happen as one step so every queue sees messages in sequence order.
	pubMu  sync.Mutex
	seq    uint64
	closed atomic.Bool

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a broadcaster with its own registry.
func New(opts ...Option) *Broadcaster {
	cfg := newConfig(opts)
	return &Broadcaster{
		registry: newRegistry(cfg),
		cfg:      cfg,
	}
}

// Registry exposes the underlying subscriber registry.
func (b *Broadcaster) Registry() *Registry { return b.registry }

// Policy returns the configured overflow policy.
func (b *Broadcaster) Policy() Policy { return b.cfg.policy }

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() (*Subscriber, error) {
	if b.closed.Load() {
		return nil, ErrBroadcasterClosed
	}
	return b.registry.Register()
}

// Unsubscribe removes a subscriber. It never fails and is idempotent.
func (b *Broadcaster) Unsubscribe(id SubscriberID) {
	b.registry.Unregister(id)
}

// Publish encodes payload, assigns the next sequence number and offers the
// message to every subscriber registered at this instant.
//
// The only error for an open broadcaster is *PublishError for payloads that
// cannot be serialized; such payloads consume no sequence number. Subscriber
// problems never surface here: failing subscribers are removed before Publish returns.
func (b *Broadcaster) Publish(ctx context.Context, payload any) (uint64, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return 0, err
	}
	return b.publish(ctx, data)
}

func (b *Broadcaster) publish(ctx context.Context, data json.RawMessage) (uint64, error) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.closed.Load() {
		return 0, ErrBroadcasterClosed
	}

	b.seq++
	msg := Message{
		Seq:         b.seq,
		Payload:     data,
		PublishedAt: b.cfg.clock.Now(),
	}

	subs := b.registry.Snapshot()
	var failed []*Subscriber
	delivered := 0

	for _, sub := range subs {
		dropped, err := sub.offer(msg, b.cfg.policy)
		switch {
		case errors.Is(err, ErrSubscriberClosed):
			// Removed or closing since the snapshot; nothing to deliver.
		case err != nil:
			if sub.transition(StateActive, StateFailed) {
				failed = append(failed, sub)
			}
			b.cfg.observer.DeliveryFailed(sub.id, err)
			b.cfg.logger.WarnContext(ctx, "delivery failed, removing subscriber",
				slog.String("subscriber_id", sub.id.String()),
				slog.Uint64("seq", msg.Seq),
				slog.String("error", err.Error()))
		case dropped:
			b.dropped.Add(1)
			b.cfg.observer.MessageDropped(sub.id, b.cfg.policy)
			if b.cfg.policy == DropOldest {
				delivered++
			}
		default:
			delivered++
		}
	}

	// Deferred removal: never mutate the registry while iterating a snapshot,
	// but finish before the next publish sees it.
	for _, sub := range failed {
		if b.registry.remove(sub.id) {
			b.failed.Add(1)
		}
	}

	b.cfg.observer.MessagePublished(msg.Seq, delivered)
	return msg.Seq, nil
}

// Drain runs the delivery loop for sub, pulling queued messages and passing
// them to send in publish order. It blocks until ctx is cancelled, send
// fails, or the subscriber is removed elsewhere, and always leaves the
// subscriber removed.
//
// Cancellation is a graceful close and returns nil. A send error marks the
// subscriber failed and is returned wrapped. Drain runs at most once per
// subscriber; later calls return ErrAlreadyDrained.
func (b *Broadcaster) Drain(ctx context.Context, sub *Subscriber, send SendFunc) error {
	if sub == nil {
		return ErrNilSubscriber
	}
	if !sub.draining.CompareAndSwap(false, true) {
		return ErrAlreadyDrained
	}

	for {
		select {
		case <-ctx.Done():
			sub.transition(StateActive, StateDraining)
			b.registry.remove(sub.id)
			return nil
		case <-sub.done:
			return nil
		case msg := <-sub.queue:
			if err := send(ctx, msg); err != nil {
				if ctx.Err() != nil {
					sub.transition(StateActive, StateDraining)
					b.registry.remove(sub.id)
					return nil
				}
				if sub.transition(StateActive, StateFailed) {
					b.cfg.observer.DeliveryFailed(sub.id, err)
				}
				if b.registry.remove(sub.id) {
					b.failed.Add(1)
				}
				return fmt.Errorf("drain subscriber %s: %w", sub.id, err)
			}
		}
	}
}

// Messages returns a lazy sequence over sub's queue. The sequence ends when
// ctx is cancelled, the subscriber is removed, or the consumer stops ranging;
// in every case the subscriber is removed afterwards. Like Drain it can be
// consumed only once.
func (b *Broadcaster) Messages(ctx context.Context, sub *Subscriber) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		if sub == nil || !sub.draining.CompareAndSwap(false, true) {
			return
		}
		defer func() {
			sub.transition(StateActive, StateDraining)
			b.registry.remove(sub.id)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			case msg := <-sub.queue:
				if !yield(msg) {
					return
				}
			}
		}
	}
}

// Fail marks sub as failed and removes it. Transports that detect closure
// outside the drain loop (for example a reader goroutine) call this.
func (b *Broadcaster) Fail(sub *Subscriber, cause error) {
	if sub == nil {
		return
	}
	if sub.transition(StateActive, StateFailed) {
		b.cfg.observer.DeliveryFailed(sub.id, cause)
	}
	if b.registry.remove(sub.id) {
		b.failed.Add(1)
	}
}

// Stats returns current counters.
func (b *Broadcaster) Stats() Stats {
	b.pubMu.Lock()
	seq := b.seq
	b.pubMu.Unlock()

	return Stats{
		Subscribers: b.registry.Len(),
		LastSeq:     seq,
		Dropped:     b.dropped.Load(),
		Failed:      b.failed.Load(),
		Policy:      b.cfg.policy.String(),
		QueueSize:   b.cfg.queueSize,
	}
}

// Close stops accepting publishes and subscriptions and removes every subscriber.
// It is safe to call more than once.
func (b *Broadcaster) Close() error {
	b.pubMu.Lock()
	already := b.closed.Swap(true)
	b.pubMu.Unlock()

	if already {
		return nil
	}

	n := b.registry.Close()
	b.cfg.logger.Info("broadcaster closed", slog.Int("subscribers_removed", n))
	return nil
}
