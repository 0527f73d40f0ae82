package relay

import "errors"

var (
	ErrUnknownStoreDriver = errors.New("relay: unknown store driver")
	ErrUnknownQueueDriver = errors.New("relay: unknown queue driver")
	ErrUnknownPolicy      = errors.New("relay: unknown broadcast policy")
	ErrQueueDisabled      = errors.New("relay: task queue is not configured")
	ErrWorkerNeedsRedis   = errors.New("relay: a standalone worker requires QUEUE_DRIVER=redis")
	ErrInvalidBody        = errors.New("relay: request body must be a JSON object")
	ErrInvalidFrame       = errors.New("relay: broadcast payload is not a JSON object")
)
