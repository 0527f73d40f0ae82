package document

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MemoryStore is an in-process Store for development and tests.
// Documents are copied on the way in and out.
type MemoryStore struct {
	mu   sync.RWMutex
	docs *orderedmap.OrderedMap[string, Document]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: orderedmap.New[string, Document]()}
}

func (s *MemoryStore) Insert(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := doc.Clone()
	if len(stored) == 0 {
		return "", ErrEmptyDocument
	}

	id := uuid.NewString()
	stored[IDField] = id

	s.mu.Lock()
	s.docs.Set(id, stored)
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	s.mu.RLock()
	doc, ok := s.docs.Get(id)
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return withID(doc), nil
}

func (s *MemoryStore) Find(ctx context.Context, filter Filter) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, s.docs.Len())
	for pair := s.docs.Oldest(); pair != nil; pair = pair.Next() {
		if matches(pair.Value, filter) {
			out = append(out, withID(pair.Value))
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	s.mu.Lock()
	_, ok := s.docs.Delete(id)
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	n := s.docs.Len()
	s.docs = orderedmap.New[string, Document]()
	s.mu.Unlock()
	return int64(n), nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs.Len()
}

func withID(doc Document) Document {
	out := doc.Clone()
	out[IDField] = doc[IDField]
	return out
}

func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// equalValue compares decoded JSON values. Query strings arrive as text, so
// a string filter also matches the formatted form of a stored scalar.
func equalValue(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	if s, ok := want.(string); ok {
		switch got.(type) {
		case float64, int, int64, bool:
			return fmt.Sprint(got) == s
		}
	}
	return false
}
