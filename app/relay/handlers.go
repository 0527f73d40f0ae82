package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	gojson "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"

	"github.com/dmitrymomot/docrelay/core/document"
	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/response"
	"github.com/dmitrymomot/docrelay/core/router"
	"github.com/dmitrymomot/docrelay/middleware"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

// API serves the relay's HTTP surface under /api.
type API struct {
	svc         *Service
	broadcaster *broadcast.Broadcaster
	stream      StreamConfig
	clock       clockwork.Clock
	logger      *slog.Logger
}

// APIOption configures an API.
type APIOption func(*API)

// WithAPIClock sets the clock behind stream pings and deadlines.
func WithAPIClock(clock clockwork.Clock) APIOption {
	return func(a *API) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAPI creates the HTTP handlers. broadcaster backs /api/ws and /api/stats.
func NewAPI(svc *Service, broadcaster *broadcast.Broadcaster, stream StreamConfig, log *slog.Logger, opts ...APIOption) *API {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	defaults := DefaultStreamConfig()
	if stream.WriteTimeout <= 0 {
		stream.WriteTimeout = defaults.WriteTimeout
	}
	if stream.PingInterval <= 0 {
		stream.PingInterval = defaults.PingInterval
	}
	if stream.PongTimeout <= 0 {
		stream.PongTimeout = defaults.PongTimeout
	}
	a := &API{
		svc:         svc,
		broadcaster: broadcaster,
		stream:      stream,
		clock:       clockwork.NewRealClock(),
		logger:      log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts the routes. ingest wraps the write endpoints only.
func (a *API) Register(r router.Router[*router.Context], ingest ...handler.Middleware[*router.Context]) {
	r.Route("/api", func(api router.Router[*router.Context]) {
		api.Get("/", a.root)
		api.Get("/stats", a.stats)
		api.Get("/ws", a.subscribe)
		api.Get("/data", a.list)
		api.Delete("/data", a.deleteAll)
		api.Delete("/data/{id}", a.deleteOne)

		writes := api.With(ingest...)
		writes.Post("/tasks", a.create)
		writes.Post("/data", a.create)
		writes.Post("/tasks/async", a.enqueue)
	})
}

func (a *API) root(*router.Context) handler.Response {
	return response.JSON(map[string]string{"message": "API is running"})
}

func (a *API) stats(*router.Context) handler.Response {
	return response.JSON(a.broadcaster.Stats())
}

func (a *API) create(ctx *router.Context) handler.Response {
	doc, err := decodeDocument(ctx.Request())
	if err != nil {
		return response.Error(err)
	}

	created, err := a.svc.Create(ctx, doc)
	if err != nil {
		return response.Error(httpError(err))
	}

	return response.JSONWithStatus(map[string]any{
		"message": "Document saved",
		"id":      created.ID,
		"seq":     created.Seq,
	}, http.StatusCreated)
}

func (a *API) enqueue(ctx *router.Context) handler.Response {
	doc, err := decodeDocument(ctx.Request())
	if err != nil {
		return response.Error(err)
	}

	task, err := a.svc.EnqueueCreate(ctx, doc)
	if err != nil {
		return response.Error(httpError(err))
	}

	return response.JSONWithStatus(map[string]any{
		"message": "Document queued",
		"task_id": task.ID.String(),
	}, http.StatusAccepted)
}

func (a *API) list(ctx *router.Context) handler.Response {
	filter := document.Filter{}
	for key, values := range ctx.Request().URL.Query() {
		if len(values) > 0 {
			filter[key] = values[0]
		}
	}

	docs, err := a.svc.List(ctx, filter)
	if err != nil {
		return response.Error(httpError(err))
	}
	return response.JSON(map[string]any{"data": docs})
}

func (a *API) deleteAll(ctx *router.Context) handler.Response {
	n, seq, err := a.svc.DeleteAll(ctx)
	if err != nil {
		return response.Error(httpError(err))
	}
	return response.JSON(map[string]any{
		"message": deletedMessage(n),
		"deleted": n,
		"seq":     seq,
	})
}

func (a *API) deleteOne(ctx *router.Context) handler.Response {
	id := ctx.Param("id")
	seq, err := a.svc.Delete(ctx, id)
	if err != nil {
		return response.Error(httpError(err))
	}
	return response.JSON(map[string]any{
		"message": "Document deleted",
		"id":      id,
		"seq":     seq,
	})
}

func deletedMessage(n int64) string {
	if n == 1 {
		return "1 document deleted."
	}
	return strconv.FormatInt(n, 10) + " documents deleted."
}

func decodeDocument(r *http.Request) (document.Document, error) {
	if r.Body == nil {
		return nil, response.ErrBadRequest.WithMessage("request body is empty")
	}
	body, err := io.ReadAll(r.Body)
	if errors.Is(err, middleware.ErrBodyTooLarge) {
		return nil, response.ErrRequestEntityTooLarge
	}
	if err != nil {
		return nil, response.ErrBadRequest.WithError(err)
	}
	if len(body) == 0 {
		return nil, response.ErrBadRequest.WithMessage("request body is empty")
	}

	var doc document.Document
	if err := gojson.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, response.ErrBadRequest.WithMessage(ErrInvalidBody.Error())
	}
	return doc, nil
}

// httpError maps domain errors to HTTP errors; anything else is a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, document.ErrNotFound):
		return response.ErrNotFound.WithMessage("document not found")
	case errors.Is(err, document.ErrInvalidID):
		return response.ErrBadRequest.WithMessage("invalid document id")
	case errors.Is(err, document.ErrEmptyDocument):
		return response.ErrUnprocessableEntity.WithMessage("document is empty")
	case errors.Is(err, ErrQueueDisabled):
		return response.ErrServiceUnavailable.WithMessage("task queue is not configured")
	default:
		return err
	}
}
