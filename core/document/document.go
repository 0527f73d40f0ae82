// Package document defines the stored document model and the Store contract
// shared by the in-memory and Mongo-backed implementations.
package document

import (
	"context"
	"errors"
	"maps"
)

// IDField is the key carrying the store-assigned identity.
const IDField = "id"

var (
	ErrNotFound      = errors.New("document: not found")
	ErrInvalidID     = errors.New("document: invalid id")
	ErrEmptyDocument = errors.New("document: empty document")
)

// Document is a schemaless JSON object.
type Document map[string]any

// ID returns the store identity, or "" for documents not yet stored.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a shallow copy without the identity field.
func (d Document) Clone() Document {
	out := maps.Clone(d)
	if out == nil {
		out = Document{}
	}
	delete(out, IDField)
	return out
}

// Filter matches documents whose top-level fields equal the given values.
// The IDField key matches the store identity.
type Filter map[string]any

// Store persists documents.
type Store interface {
	// Insert stores doc and returns its identity. Any client-supplied identity field is ignored.
	Insert(ctx context.Context, doc Document) (string, error)
	Get(ctx context.Context, id string) (Document, error)
	// Find returns matching documents in insertion order; a nil filter matches everything.
	Find(ctx context.Context, filter Filter) ([]Document, error)
	Delete(ctx context.Context, id string) error
	// DeleteAll removes every document and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)
}
