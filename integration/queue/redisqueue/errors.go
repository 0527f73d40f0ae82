package redisqueue

import "errors"

var (
	ErrClientNil   = errors.New("redisqueue: client is nil")
	ErrTxConflict  = errors.New("redisqueue: too many concurrent updates")
	ErrCorruptTask = errors.New("redisqueue: corrupt task record")
)
