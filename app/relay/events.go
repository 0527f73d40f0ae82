package relay

import (
	"bytes"
	"strconv"

	"github.com/dmitrymomot/docrelay/core/document"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

// EventType tags every frame sent to subscribers.
type EventType string

const (
	EventData    EventType = "data"
	EventCleared EventType = "cleared"
	EventDeleted EventType = "deleted"
)

// DataEvent announces a newly stored document.
type DataEvent struct {
	Type     EventType         `json:"type"`
	Document document.Document `json:"document"`
}

// ClearedEvent announces that every document was deleted.
type ClearedEvent struct {
	Type  EventType `json:"type"`
	Count int64     `json:"count"`
}

// DeletedEvent announces the removal of one document.
type DeletedEvent struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
}

func newDataEvent(doc document.Document) DataEvent {
	return DataEvent{Type: EventData, Document: doc}
}

func newClearedEvent(n int64) ClearedEvent {
	return ClearedEvent{Type: EventCleared, Count: n}
}

func newDeletedEvent(id string) DeletedEvent {
	return DeletedEvent{Type: EventDeleted, ID: id}
}

// EncodeFrame renders msg as the object written to subscribers: the event
// fields plus "seq". The payload is shared across subscribers and is copied,
// never modified.
func EncodeFrame(msg broadcast.Message) ([]byte, error) {
	p := bytes.TrimSpace(msg.Payload)
	if len(p) < 2 || p[0] != '{' || p[len(p)-1] != '}' {
		return nil, ErrInvalidFrame
	}

	body := bytes.TrimSpace(p[1 : len(p)-1])
	frame := make([]byte, 0, len(p)+28)
	frame = append(frame, `{"seq":`...)
	frame = strconv.AppendUint(frame, msg.Seq, 10)
	if len(body) > 0 {
		frame = append(frame, ',')
		frame = append(frame, body...)
	}
	frame = append(frame, '}')
	return frame, nil
}
