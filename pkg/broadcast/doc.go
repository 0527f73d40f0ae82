// Package broadcast provides a bounded, concurrency-safe publish/subscribe core
// for fanning JSON messages out to many connected subscribers.
//
// The package is split into two parts:
//   - Registry: tracks active subscribers in registration order and hands out
//     point-in-time snapshots for iteration.
//   - Broadcaster: assigns sequence numbers, encodes payloads once, and offers
//     every message to every subscriber registered at the instant of publish.
//
// # Usage
//
//	b := broadcast.New(
//		broadcast.WithQueueSize(64),
//		broadcast.WithPolicy(broadcast.DropNewest),
//	)
//	defer b.Close()
//
//	sub, err := b.Subscribe()
//	if err != nil {
//		return err // broadcast.ErrRegistryFull when a cap is configured
//	}
//
//	go func() {
//		// Runs until ctx is cancelled, the transport fails or the subscriber is removed.
//		_ = b.Drain(ctx, sub, func(ctx context.Context, msg broadcast.Message) error {
//			return conn.WriteJSON(msg)
//		})
//	}()
//
//	seq, err := b.Publish(ctx, map[string]any{"sensor": "t1", "v": 21.5})
//
// # Backpressure
//
// Each subscriber owns a bounded queue. Publish never blocks on a subscriber:
// when a queue is full the configured Policy decides what happens.
//
//   - DropNewest (default): the new message is skipped for that subscriber only.
//   - DropOldest: the oldest queued message is evicted to make room.
//   - Disconnect: the subscriber is treated as failed and removed.
//
// # Lifecycle
//
// A subscriber moves through Connecting, Active and then one of Draining
// (graceful close), Failed (transport or delivery error) before ending in
// Removed. Removed is terminal. A drain loop can run only once per subscriber;
// a new subscription requires a new Subscribe call.
//
// # Thread Safety
//
// Registry mutation and snapshots are linearised through a single lock.
// Publishers are serialised so that sequence numbers and per-subscriber
// delivery order agree. No lock is ever held during transport I/O.
package broadcast
