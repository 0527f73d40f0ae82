// Package mongostore implements document.Store on a MongoDB collection.
//
// Mongo's _id is exposed as the hex string field "id"; BSON-specific values
// (ObjectID, DateTime, nested documents and arrays) are converted to plain
// Go values so documents encode as ordinary JSON.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/docrelay/core/document"
)

const mongoIDField = "_id"

// Store is a document.Store backed by a collection.
type Store struct {
	coll *mongo.Collection
}

var _ document.Store = (*Store)(nil)

// New wraps coll.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Insert stores doc and returns the generated ObjectID in hex. A client
// supplied "id" or "_id" is discarded so Mongo always assigns the identity.
func (s *Store) Insert(ctx context.Context, doc document.Document) (string, error) {
	stored := doc.Clone()
	delete(stored, mongoIDField)
	if len(stored) == 0 {
		return "", document.ErrEmptyDocument
	}

	oid := bson.NewObjectID()
	stored[mongoIDField] = oid
	if _, err := s.coll.InsertOne(ctx, bson.M(stored)); err != nil {
		return "", fmt.Errorf("mongostore: insert: %w", err)
	}
	return oid.Hex(), nil
}

func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var raw bson.M
	err = s.coll.FindOne(ctx, bson.D{{Key: mongoIDField, Value: oid}}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: get %s: %w", id, err)
	}
	return Normalize(raw), nil
}

// Find returns matching documents in natural (insertion) order.
func (s *Store) Find(ctx context.Context, filter document.Filter) ([]document.Document, error) {
	query, err := BuildFilter(filter)
	if err != nil {
		return nil, err
	}

	cur, err := s.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: find: %w", err)
	}

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("mongostore: decode: %w", err)
	}

	out := make([]document.Document, 0, len(raw))
	for _, m := range raw {
		out = append(out, Normalize(m))
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: mongoIDField, Value: oid}})
	if err != nil {
		return fmt.Errorf("mongostore: delete %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("mongostore: delete all: %w", err)
	}
	return res.DeletedCount, nil
}

func parseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("%w: %q", document.ErrInvalidID, id)
	}
	return oid, nil
}
