// Package queue provides a small persistent task queue with priority
// ordering, delayed execution, linear retry backoff and a dead letter queue.
//
// An Enqueuer stores tasks; a Worker claims them, decodes the JSON payload
// and runs the matching Handler. Task names default to the payload's type
// name, so a handler built with NewTaskHandler pairs with Enqueue calls for
// the same type without further configuration:
//
//	storage := queue.NewMemoryStorage()
//
//	enqueuer, _ := queue.NewEnqueuer(storage)
//	worker, _ := queue.NewWorker(storage, queue.WithMaxConcurrentTasks(4))
//
//	worker.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p InsertDocument) error {
//		return store.Insert(ctx, p.Document)
//	}))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(storage.Run(ctx))
//	g.Go(worker.Run(ctx))
//
//	task, err := enqueuer.Enqueue(ctx, InsertDocument{Document: doc})
//
// A failed task returns to pending after RetryBackoff(n). Once it has failed
// MaxRetries times, or when no handler is registered for its name, it is
// moved to the dead letter queue. Handler panics count as failures.
//
// MemoryStorage keeps everything in process memory and is suitable for tests
// and single-process deployments. A Redis backend lives in
// integration/queue/redisqueue.
package queue
