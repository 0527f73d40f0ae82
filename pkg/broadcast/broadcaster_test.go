package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

// recorder is an in-memory transport that captures delivered messages.
type recorder struct {
	mu     sync.Mutex
	msgs   []broadcast.Message
	broken bool
}

func (r *recorder) send(_ context.Context, msg broadcast.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken {
		return errors.New("transport closed")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) breakTransport() {
	r.mu.Lock()
	r.broken = true
	r.mu.Unlock()
}

func (r *recorder) messages() []broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func startDrain(t *testing.T, b *broadcast.Broadcaster, sub *broadcast.Subscriber, rec *recorder) <-chan error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Drain(ctx, sub, rec.send)
	}()
	t.Cleanup(cancel)
	return errCh
}

func snapshotIDs(r *broadcast.Registry) []broadcast.SubscriberID {
	subs := r.Snapshot()
	ids := make([]broadcast.SubscriberID, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID())
	}
	return ids
}

func TestBroadcaster_Publish(t *testing.T) {
	t.Parallel()

	t.Run("sequence_numbers_strictly_increase", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		var last uint64
		for i := 0; i < 100; i++ {
			seq, err := b.Publish(context.Background(), map[string]int{"i": i})
			require.NoError(t, err)
			assert.Greater(t, seq, last)
			last = seq
		}
		assert.Equal(t, uint64(100), b.Stats().LastSeq)
	})

	t.Run("unserializable_payload_returns_publish_error", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		_, err := b.Publish(context.Background(), map[string]any{"fn": func() {}})
		require.Error(t, err)

		var pubErr *broadcast.PublishError
		assert.ErrorAs(t, err, &pubErr)
		assert.ErrorIs(t, err, broadcast.ErrInvalidPayload)

		seq, err := b.Publish(context.Background(), map[string]int{"v": 1})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), seq, "failed publish must not consume a sequence number")
	})

	t.Run("malformed_raw_json_rejected", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		_, err := b.Publish(context.Background(), json.RawMessage(`{"broken":`))
		assert.ErrorIs(t, err, broadcast.ErrInvalidPayload)

		_, err = b.Publish(context.Background(), nil)
		assert.ErrorIs(t, err, broadcast.ErrInvalidPayload)
	})

	t.Run("raw_payload_is_copied", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		raw := []byte(`{"v":1}`)
		_, err = b.Publish(context.Background(), raw)
		require.NoError(t, err)
		raw[5] = '9'

		for msg := range b.Messages(context.Background(), sub) {
			assert.JSONEq(t, `{"v":1}`, string(msg.Payload))
			break
		}
	})

	t.Run("publish_after_close", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Publish(context.Background(), map[string]int{"v": 1})
		assert.ErrorIs(t, err, broadcast.ErrBroadcasterClosed)

		_, err = b.Subscribe()
		assert.ErrorIs(t, err, broadcast.ErrBroadcasterClosed)
	})

	t.Run("published_at_uses_clock", func(t *testing.T) {
		t.Parallel()

		clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
		b := broadcast.New(broadcast.WithClock(clock))
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)
		assert.Equal(t, clock.Now(), sub.CreatedAt())

		clock.Advance(time.Minute)
		_, err = b.Publish(context.Background(), map[string]int{"v": 1})
		require.NoError(t, err)

		for msg := range b.Messages(context.Background(), sub) {
			assert.Equal(t, clock.Now(), msg.PublishedAt)
			break
		}
	})
}

func TestBroadcaster_FanOut(t *testing.T) {
	t.Parallel()

	t.Run("every_subscriber_receives_every_message_in_order", func(t *testing.T) {
		t.Parallel()

		const (
			subscribers = 8
			messages    = 50
		)

		b := broadcast.New(broadcast.WithQueueSize(messages))
		defer b.Close()

		recs := make([]*recorder, subscribers)
		for i := range recs {
			sub, err := b.Subscribe()
			require.NoError(t, err)
			recs[i] = &recorder{}
			startDrain(t, b, sub, recs[i])
		}

		for i := 0; i < messages; i++ {
			_, err := b.Publish(context.Background(), map[string]int{"i": i})
			require.NoError(t, err)
		}

		for _, rec := range recs {
			require.Eventually(t, func() bool { return rec.count() == messages }, 2*time.Second, 5*time.Millisecond)

			seen := make(map[uint64]bool, messages)
			for i, msg := range rec.messages() {
				assert.Equal(t, uint64(i+1), msg.Seq)
				assert.False(t, seen[msg.Seq], "duplicate delivery of seq %d", msg.Seq)
				seen[msg.Seq] = true
			}
		}
	})

	t.Run("concurrent_publishers_keep_per_subscriber_order", func(t *testing.T) {
		t.Parallel()

		const (
			publishers = 4
			perWorker  = 25
		)

		b := broadcast.New(broadcast.WithQueueSize(publishers * perWorker))
		defer b.Close()

		rec := &recorder{}
		sub, err := b.Subscribe()
		require.NoError(t, err)
		startDrain(t, b, sub, rec)

		var wg sync.WaitGroup
		for p := 0; p < publishers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, err := b.Publish(context.Background(), map[string]int{"i": i})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		require.Eventually(t, func() bool { return rec.count() == publishers*perWorker }, 2*time.Second, 5*time.Millisecond)

		msgs := rec.messages()
		for i := 1; i < len(msgs); i++ {
			assert.Less(t, msgs[i-1].Seq, msgs[i].Seq)
		}
	})
}

func TestBroadcaster_Isolation(t *testing.T) {
	t.Parallel()

	t.Run("three_subscribers_then_one_disconnects", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		s1, err := b.Subscribe()
		require.NoError(t, err)
		s2, err := b.Subscribe()
		require.NoError(t, err)
		s3, err := b.Subscribe()
		require.NoError(t, err)

		r1, r2, r3 := &recorder{}, &recorder{}, &recorder{}
		startDrain(t, b, s1, r1)
		s2Done := startDrain(t, b, s2, r2)
		startDrain(t, b, s3, r3)

		seq, err := b.Publish(context.Background(), json.RawMessage(`{"sensor":"t1","v":21.5}`))
		require.NoError(t, err)
		require.Equal(t, uint64(1), seq)

		for _, rec := range []*recorder{r1, r2, r3} {
			require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
			msg := rec.messages()[0]
			assert.Equal(t, uint64(1), msg.Seq)
			assert.JSONEq(t, `{"sensor":"t1","v":21.5}`, string(msg.Payload))
		}

		r2.breakTransport()

		seq, err = b.Publish(context.Background(), json.RawMessage(`{"sensor":"t1","v":21.7}`))
		require.NoError(t, err)
		require.Equal(t, uint64(2), seq)

		for _, rec := range []*recorder{r1, r3} {
			require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
			msg := rec.messages()[1]
			assert.Equal(t, uint64(2), msg.Seq)
			assert.JSONEq(t, `{"sensor":"t1","v":21.7}`, string(msg.Payload))
		}

		select {
		case err := <-s2Done:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("drain loop of broken subscriber did not exit")
		}

		ids := snapshotIDs(b.Registry())
		assert.ElementsMatch(t, []broadcast.SubscriberID{s1.ID(), s3.ID()}, ids)
		assert.Equal(t, broadcast.StateRemoved, s2.State())
		assert.Equal(t, uint64(1), b.Stats().Failed)
	})

	t.Run("stalled_subscriber_does_not_block_publisher", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(broadcast.WithQueueSize(4))
		defer b.Close()

		stalled, err := b.Subscribe()
		require.NoError(t, err)

		block := make(chan struct{})
		defer close(block)
		go func() {
			_ = b.Drain(context.Background(), stalled, func(ctx context.Context, _ broadcast.Message) error {
				<-block
				return nil
			})
		}()

		healthy := &recorder{}
		sub, err := b.Subscribe()
		require.NoError(t, err)
		startDrain(t, b, sub, healthy)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 100; i++ {
				_, err := b.Publish(context.Background(), map[string]int{"i": i})
				assert.NoError(t, err)
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publisher blocked on a stalled subscriber")
		}

		assert.LessOrEqual(t, stalled.Len(), stalled.Cap())
	})

	t.Run("disconnect_policy_removes_full_subscriber", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New(broadcast.WithQueueSize(2), broadcast.WithPolicy(broadcast.Disconnect))
		defer b.Close()

		slow, err := b.Subscribe()
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err := b.Publish(context.Background(), map[string]int{"i": i})
			require.NoError(t, err)
		}

		assert.Equal(t, broadcast.StateRemoved, slow.State())
		assert.Equal(t, 0, b.Registry().Len())
		_, ok := b.Registry().Get(slow.ID())
		assert.False(t, ok)
	})
}

func TestBroadcaster_Backpressure(t *testing.T) {
	t.Parallel()

	collect := func(t *testing.T, b *broadcast.Broadcaster, sub *broadcast.Subscriber) []uint64 {
		t.Helper()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var seqs []uint64
		n := sub.Len()
		for msg := range b.Messages(ctx, sub) {
			seqs = append(seqs, msg.Seq)
			if len(seqs) == n {
				break
			}
		}
		return seqs
	}

	t.Run("drop_newest_keeps_first_messages", func(t *testing.T) {
		t.Parallel()

		const capacity = 10
		b := broadcast.New(broadcast.WithQueueSize(capacity))
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			_, err := b.Publish(context.Background(), map[string]int{"i": i})
			require.NoError(t, err)
			assert.LessOrEqual(t, sub.Len(), capacity)
		}

		assert.Equal(t, capacity, sub.Len())
		assert.Equal(t, uint64(40), sub.Dropped())
		assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, collect(t, b, sub))
	})

	t.Run("drop_oldest_keeps_most_recent_messages", func(t *testing.T) {
		t.Parallel()

		const capacity = 10
		b := broadcast.New(broadcast.WithQueueSize(capacity), broadcast.WithPolicy(broadcast.DropOldest))
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			_, err := b.Publish(context.Background(), map[string]int{"i": i})
			require.NoError(t, err)
			assert.LessOrEqual(t, sub.Len(), capacity)
		}

		assert.Equal(t, capacity, sub.Len())
		assert.Equal(t, []uint64{41, 42, 43, 44, 45, 46, 47, 48, 49, 50}, collect(t, b, sub))
	})

	t.Run("queue_never_exceeds_capacity", func(t *testing.T) {
		t.Parallel()

		const capacity = 5
		b := broadcast.New(broadcast.WithQueueSize(capacity))
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		for i := 0; i < capacity+5; i++ {
			_, err := b.Publish(context.Background(), map[string]int{"i": i})
			require.NoError(t, err)
		}

		assert.Equal(t, capacity, sub.Len())
		assert.Equal(t, uint64(5), b.Stats().Dropped)
		assert.Equal(t, broadcast.StateActive, sub.State())
	})
}

func TestBroadcaster_Drain(t *testing.T) {
	t.Parallel()

	t.Run("cancellation_removes_subscriber", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Drain(ctx, sub, (&recorder{}).send)
		}()

		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("drain did not stop on cancellation")
		}

		assert.Equal(t, broadcast.StateRemoved, sub.State())
		assert.Equal(t, 0, b.Registry().Len())

		_, err = b.Publish(context.Background(), map[string]int{"v": 1})
		assert.NoError(t, err, "publish to a cancelled subscriber is a no-op")
	})

	t.Run("not_restartable", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, b.Drain(ctx, sub, (&recorder{}).send))

		err = b.Drain(context.Background(), sub, (&recorder{}).send)
		assert.ErrorIs(t, err, broadcast.ErrAlreadyDrained)

		count := 0
		for range b.Messages(context.Background(), sub) {
			count++
		}
		assert.Zero(t, count)
	})

	t.Run("unsubscribe_stops_drain", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		errCh := startDrain(t, b, sub, &recorder{})
		b.Unsubscribe(sub.ID())

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("drain did not stop after unsubscribe")
		}
	})

	t.Run("close_stops_all_drains", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()

		var chans []<-chan error
		for i := 0; i < 3; i++ {
			sub, err := b.Subscribe()
			require.NoError(t, err)
			chans = append(chans, startDrain(t, b, sub, &recorder{}))
		}

		require.NoError(t, b.Close())
		for _, ch := range chans {
			select {
			case err := <-ch:
				assert.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("drain did not stop after close")
			}
		}
	})

	t.Run("fail_removes_subscriber", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		sub, err := b.Subscribe()
		require.NoError(t, err)

		b.Fail(sub, errors.New("read: connection reset"))
		b.Fail(sub, errors.New("read: connection reset"))
		b.Fail(nil, nil)

		assert.Equal(t, broadcast.StateRemoved, sub.State())
		assert.Equal(t, uint64(1), b.Stats().Failed)
	})

	t.Run("unsubscribe_after_fail_is_noop", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		failed, err := b.Subscribe()
		require.NoError(t, err)
		other, err := b.Subscribe()
		require.NoError(t, err)

		b.Fail(failed, errors.New("write: broken pipe"))
		require.Equal(t, 1, b.Registry().Len())

		b.Unsubscribe(failed.ID())
		b.Unsubscribe(failed.ID())

		assert.Equal(t, 1, b.Registry().Len())
		assert.Equal(t, 1, b.Stats().Subscribers)
		assert.Equal(t, uint64(1), b.Stats().Failed)
		assert.Equal(t, broadcast.StateRemoved, failed.State())
		assert.Equal(t, broadcast.StateActive, other.State())
	})

	t.Run("nil_subscriber", func(t *testing.T) {
		t.Parallel()

		b := broadcast.New()
		defer b.Close()

		assert.ErrorIs(t, b.Drain(context.Background(), nil, (&recorder{}).send), broadcast.ErrNilSubscriber)
	})
}

type countingObserver struct {
	mu        sync.Mutex
	added     int
	removed   map[broadcast.State]int
	published int
	dropped   int
	failures  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{removed: make(map[broadcast.State]int)}
}

func (o *countingObserver) SubscriberAdded(broadcast.SubscriberID) {
	o.mu.Lock()
	o.added++
	o.mu.Unlock()
}

func (o *countingObserver) SubscriberRemoved(_ broadcast.SubscriberID, from broadcast.State) {
	o.mu.Lock()
	o.removed[from]++
	o.mu.Unlock()
}

func (o *countingObserver) MessagePublished(uint64, int) {
	o.mu.Lock()
	o.published++
	o.mu.Unlock()
}

func (o *countingObserver) MessageDropped(broadcast.SubscriberID, broadcast.Policy) {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *countingObserver) DeliveryFailed(broadcast.SubscriberID, error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func TestBroadcaster_Observer(t *testing.T) {
	t.Parallel()

	obs := newCountingObserver()
	b := broadcast.New(
		broadcast.WithQueueSize(1),
		broadcast.WithPolicy(broadcast.Disconnect),
		broadcast.WithObserver(obs),
	)

	keep, err := b.Subscribe()
	require.NoError(t, err)
	_, err = b.Subscribe()
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), map[string]int{"v": 1})
	require.NoError(t, err)

	// Drain one subscriber so only the other overflows.
	for range b.Messages(context.Background(), keep) {
		break
	}

	_, err = b.Publish(context.Background(), map[string]int{"v": 2})
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.added)
	assert.Equal(t, 2, obs.published)
	assert.Equal(t, 1, obs.failures)
	assert.Equal(t, 1, obs.removed[broadcast.StateFailed])
	assert.Equal(t, 1, obs.removed[broadcast.StateDraining])
}
