package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SubscriberID is an opaque subscriber identity.
type SubscriberID = uuid.UUID

// Subscriber is a registered recipient with its own bounded outbound queue.
// The queue has a single producer (the serialised publisher) and a single
// consumer (the drain loop), so it needs no registry lock.
type Subscriber struct {
	id        SubscriberID
	createdAt time.Time
	queue     chan Message
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
	dropped   atomic.Uint64
	draining  atomic.Bool
}

func newSubscriber(id SubscriberID, capacity int, now time.Time) *Subscriber {
	s := &Subscriber{
		id:        id,
		createdAt: now,
		queue:     make(chan Message, capacity),
		done:      make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the subscriber identity.
func (s *Subscriber) ID() SubscriberID { return s.id }

// CreatedAt returns the registration time.
func (s *Subscriber) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Subscriber) State() State { return State(s.state.Load()) }

// Len returns the number of queued, undelivered messages.
func (s *Subscriber) Len() int { return len(s.queue) }

// Cap returns the queue capacity.
func (s *Subscriber) Cap() int { return cap(s.queue) }

// Dropped returns how many messages this subscriber lost to queue overflow.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the subscriber has been removed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// release moves the subscriber to Removed and releases its queue.
// It returns the state the subscriber was in before removal.
func (s *Subscriber) release() State {
	prev := State(s.state.Swap(int32(StateRemoved)))
	s.closeOnce.Do(func() {
		close(s.done)
		// Queued messages are unreachable after removal; let them go.
		for {
			select {
			case <-s.queue:
			default:
				return
			}
		}
	})
	return prev
}

// offer enqueues msg without blocking. It reports whether a message was lost
// to overflow; an error means the subscriber must be removed.
func (s *Subscriber) offer(msg Message, policy Policy) (dropped bool, err error) {
	if s.State() != StateActive {
		return false, ErrSubscriberClosed
	}

	select {
	case s.queue <- msg:
		return false, nil
	default:
	}

	switch policy {
	case DropOldest:
		evicted := false
		select {
		case <-s.queue:
			evicted = true
		default:
			// The drain loop made room in the meantime.
		}
		select {
		case s.queue <- msg:
		default:
			// Only the publisher writes, so this is unreachable while serialised.
		}
		if evicted {
			s.dropped.Add(1)
		}
		return evicted, nil
	case Disconnect:
		return false, ErrQueueFull
	default:
		s.dropped.Add(1)
		return true, nil
	}
}
