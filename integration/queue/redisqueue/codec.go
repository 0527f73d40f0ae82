package redisqueue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/docrelay/core/queue"
)

const (
	fieldID          = "id"
	fieldQueue       = "queue"
	fieldTaskName    = "task_name"
	fieldPayload     = "payload"
	fieldStatus      = "status"
	fieldPriority    = "priority"
	fieldRetryCount  = "retry_count"
	fieldMaxRetries  = "max_retries"
	fieldScheduledAt = "scheduled_at"
	fieldLockedUntil = "locked_until"
	fieldLockedBy    = "locked_by"
	fieldProcessedAt = "processed_at"
	fieldError       = "error"
	fieldCreatedAt   = "created_at"
)

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// encodeTask flattens task into HSET field/value pairs.
func encodeTask(task *queue.Task) []any {
	args := []any{
		fieldID, task.ID.String(),
		fieldQueue, task.Queue,
		fieldTaskName, task.TaskName,
		fieldPayload, string(task.Payload),
		fieldStatus, string(task.Status),
		fieldPriority, strconv.Itoa(int(task.Priority)),
		fieldRetryCount, strconv.Itoa(int(task.RetryCount)),
		fieldMaxRetries, strconv.Itoa(int(task.MaxRetries)),
		fieldScheduledAt, millis(task.ScheduledAt),
		fieldCreatedAt, millis(task.CreatedAt),
	}
	if task.LockedUntil != nil {
		args = append(args, fieldLockedUntil, millis(*task.LockedUntil))
	}
	if task.LockedBy != nil {
		args = append(args, fieldLockedBy, task.LockedBy.String())
	}
	if task.ProcessedAt != nil {
		args = append(args, fieldProcessedAt, millis(*task.ProcessedAt))
	}
	if task.Error != nil {
		args = append(args, fieldError, *task.Error)
	}
	return args
}

func decodeTask(h map[string]string) (*queue.Task, error) {
	id, err := uuid.Parse(h[fieldID])
	if err != nil {
		return nil, fmt.Errorf("%w: id: %w", ErrCorruptTask, err)
	}

	task := &queue.Task{
		ID:       id,
		Queue:    h[fieldQueue],
		TaskName: h[fieldTaskName],
		Status:   queue.TaskStatus(h[fieldStatus]),
	}
	if p := h[fieldPayload]; p != "" {
		task.Payload = []byte(p)
	}

	ints := []struct {
		field string
		dst   *int8
	}{
		{fieldRetryCount, &task.RetryCount},
		{fieldMaxRetries, &task.MaxRetries},
	}
	for _, f := range ints {
		n, err := strconv.ParseInt(h[f.field], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, f.field, err)
		}
		*f.dst = int8(n)
	}
	prio, err := strconv.ParseInt(h[fieldPriority], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, fieldPriority, err)
	}
	task.Priority = queue.Priority(prio)

	if task.ScheduledAt, err = parseMillis(h[fieldScheduledAt]); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, fieldScheduledAt, err)
	}
	if task.CreatedAt, err = parseMillis(h[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, fieldCreatedAt, err)
	}

	if v, ok := h[fieldLockedUntil]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, fieldLockedUntil, err)
		}
		task.LockedUntil = &t
	}
	if v, ok := h[fieldLockedBy]; ok {
		by, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, fieldLockedBy, err)
		}
		task.LockedBy = &by
	}
	if v, ok := h[fieldProcessedAt]; ok {
		t, err := parseMillis(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptTask, fieldProcessedAt, err)
		}
		task.ProcessedAt = &t
	}
	if v, ok := h[fieldError]; ok {
		msg := v
		task.Error = &msg
	}
	return task, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
