// Package redisqueue stores queue tasks in Redis so enqueuers and workers
// can run in separate processes.
//
// Layout under the configured prefix:
//
//	{prefix}:task:{id}        hash with the task fields
//	{prefix}:pending:{queue}  sorted set of pending task ids scored by scheduled time (ms)
//	{prefix}:processing       sorted set of locked task ids scored by lock expiry (ms)
//	{prefix}:dlq              list of JSON dead letters, newest first
//	{prefix}:completed        counter of completed tasks
//
// Claims are Lua scripts that also return expired locks to their pending
// set. Scripts derive task keys from the prefix, so the storage targets a
// single Redis node or a cluster with every key in one hash slot (wrap the
// prefix in braces, for example "{docrelay}:queue").
//
//	store, err := redisqueue.New(client, redisqueue.WithPrefix(cfg.Prefix))
//	enq, _ := queue.NewEnqueuer(store)
//	worker, _ := queue.NewWorker(store)
package redisqueue
