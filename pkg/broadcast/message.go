package broadcast

import (
	"encoding/json"
	"time"

	gojson "github.com/goccy/go-json"
)

// Message is a published payload stamped with its sequence number.
// Messages are shared by value across subscriber queues; Payload must never be mutated.
type Message struct {
	Seq         uint64          `json:"seq"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// Policy decides what happens when a subscriber's queue is full.
type Policy int

const (
	// DropNewest skips the new message for the full subscriber only.
	DropNewest Policy = iota
	// DropOldest evicts the oldest queued message to make room for the new one.
	DropOldest
	// Disconnect treats a full queue as a delivery failure and removes the subscriber.
	Disconnect
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string into a Policy.
// Unknown values fall back to DropNewest and ok is false.
func ParsePolicy(s string) (p Policy, ok bool) {
	switch s {
	case "drop_newest", "newest", "b", "":
		return DropNewest, true
	case "drop_oldest", "oldest", "a":
		return DropOldest, true
	case "disconnect":
		return Disconnect, true
	default:
		return DropNewest, false
	}
}

// encodePayload turns an arbitrary value into an owned JSON byte slice.
// Pre-encoded JSON is validated and copied so callers cannot mutate it later.
func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, &PublishError{Err: errNilPayload}
	case json.RawMessage:
		return copyValidJSON(p)
	case []byte:
		return copyValidJSON(p)
	}

	data, err := gojson.Marshal(v)
	if err != nil {
		return nil, &PublishError{Err: err}
	}
	return data, nil
}

func copyValidJSON(b []byte) (json.RawMessage, error) {
	if !gojson.Valid(b) {
		return nil, &PublishError{Err: errMalformedJSON}
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out, nil
}
