package queue

import "errors"

var (
	ErrRepositoryNil        = errors.New("queue: repository is nil")
	ErrPayloadNil           = errors.New("queue: payload is nil")
	ErrInvalidPriority      = errors.New("queue: priority must be between 0 and 100")
	ErrNoTaskToClaim        = errors.New("queue: no task to claim")
	ErrTaskNotFound         = errors.New("queue: task not found")
	ErrTaskExists           = errors.New("queue: task already exists")
	ErrTaskNotProcessing    = errors.New("queue: task is not in processing state")
	ErrHandlerNotFound      = errors.New("queue: no handler registered for task")
	ErrNoHandlers           = errors.New("queue: no handlers registered")
	ErrWorkerAlreadyStarted = errors.New("queue: worker already started")
	ErrWorkerNotStarted     = errors.New("queue: worker not started")
	ErrStorageNotStarted    = errors.New("queue: storage not started")
	ErrShutdownTimeout      = errors.New("queue: shutdown timeout exceeded")

	ErrHealthcheckFailed = errors.New("queue: healthcheck failed")
	ErrWorkerNotRunning  = errors.New("queue: worker is not running")
	ErrWorkerOverloaded  = errors.New("queue: worker is overloaded")
)
