package queue

import (
	"context"
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
)

type (
	// Handler processes tasks of one name.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// TaskHandlerFunc processes a decoded payload of type T.
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewTaskHandler registers fn under the type name of T, matching the name
// Enqueue derives for payloads of that type.
func NewTaskHandler[T any](fn TaskHandlerFunc[T]) Handler {
	var payload T
	return &taskHandler[T]{
		name:    qualifiedStructName(payload),
		handler: fn,
	}
}

type taskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *taskHandler[T]) Name() string { return h.name }

func (h *taskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := gojson.Unmarshal(payload, &t); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.handler(ctx, t)
}
