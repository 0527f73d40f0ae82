package queue

import "context"

// Storage combines the repositories needed by Enqueuer and Worker so one
// backend (memory or Redis) serves both sides.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
}

// DeadLetterLister is implemented by storages that can list dead letters.
type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}
