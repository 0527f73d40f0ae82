package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dmitrymomot/docrelay/core/document"
	"github.com/dmitrymomot/docrelay/core/logger"
	"github.com/dmitrymomot/docrelay/core/queue"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

// Publisher hands events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, payload any) (uint64, error)
}

// Enqueuer defers work to the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (*queue.Task, error)
}

// InsertDocument is the queued form of a create request.
type InsertDocument struct {
	Document document.Document `json:"document"`
}

// Created describes a stored document and the sequence number of its
// announcement. Seq is zero when nothing was published.
type Created struct {
	ID       string            `json:"id"`
	Seq      uint64            `json:"seq"`
	Document document.Document `json:"document"`
}

// Service is the ingestion gateway: every write goes to the store first and
// is then announced to subscribers.
type Service struct {
	store     document.Store
	publisher Publisher
	enqueuer  Enqueuer
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher announces writes through p. Without one, writes are only persisted.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithEnqueuer enables asynchronous inserts.
func WithEnqueuer(e Enqueuer) ServiceOption {
	return func(s *Service) { s.enqueuer = e }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store document.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("relay"))
	return s
}

// Create stores doc, reads it back and publishes it.
func (s *Service) Create(ctx context.Context, doc document.Document) (Created, error) {
	id, err := s.store.Insert(ctx, doc)
	if err != nil {
		return Created{}, err
	}

	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return Created{}, err
	}

	seq := s.publish(ctx, newDataEvent(stored))
	s.logger.DebugContext(ctx, "document stored", logger.DocumentID(id), logger.Sequence(seq))
	return Created{ID: id, Seq: seq, Document: stored}, nil
}

// List returns documents matching filter; an empty filter returns all.
func (s *Service) List(ctx context.Context, filter document.Filter) ([]document.Document, error) {
	docs, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

// DeleteAll removes every document and publishes a cleared notice.
func (s *Service) DeleteAll(ctx context.Context) (int64, uint64, error) {
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, 0, err
	}
	seq := s.publish(ctx, newClearedEvent(n))
	s.logger.InfoContext(ctx, "documents cleared", slog.Int64("deleted", n), logger.Sequence(seq))
	return n, seq, nil
}

// Delete removes one document and publishes a deleted notice.
func (s *Service) Delete(ctx context.Context, id string) (uint64, error) {
	if err := s.store.Delete(ctx, id); err != nil {
		return 0, err
	}
	return s.publish(ctx, newDeletedEvent(id)), nil
}

// EnqueueCreate validates doc and queues an InsertDocument task for it.
func (s *Service) EnqueueCreate(ctx context.Context, doc document.Document) (*queue.Task, error) {
	if s.enqueuer == nil {
		return nil, ErrQueueDisabled
	}
	if len(doc.Clone()) == 0 {
		return nil, document.ErrEmptyDocument
	}

	task, err := s.enqueuer.Enqueue(ctx, InsertDocument{Document: doc})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "insert queued", logger.TaskID(task.ID.String()))
	return task, nil
}

// HandleInsertDocument is the queue handler for InsertDocument tasks.
// Empty documents can never succeed, so they are reported without retry.
func (s *Service) HandleInsertDocument(ctx context.Context, task InsertDocument) error {
	_, err := s.Create(ctx, task.Document)
	if errors.Is(err, document.ErrEmptyDocument) {
		s.logger.WarnContext(ctx, "dropping queued empty document")
		return nil
	}
	return err
}

// TaskHandler registers HandleInsertDocument with a queue worker.
func (s *Service) TaskHandler() queue.Handler {
	return queue.NewTaskHandler(s.HandleInsertDocument)
}

// publish announces ev and returns its sequence number. The write has
// already succeeded, so publish problems are logged rather than returned.
func (s *Service) publish(ctx context.Context, ev any) uint64 {
	if s.publisher == nil {
		return 0
	}
	seq, err := s.publisher.Publish(ctx, ev)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, broadcast.ErrBroadcasterClosed) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "publish failed", logger.Error(err))
		return 0
	}
	return seq
}
