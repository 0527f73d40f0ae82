package broadcast

import "errors"

var (
	ErrRegistryFull      = errors.New("broadcast: subscriber registry is at capacity")
	ErrRegistryClosed    = errors.New("broadcast: subscriber registry is closed")
	ErrBroadcasterClosed = errors.New("broadcast: broadcaster is closed")
	ErrInvalidPayload    = errors.New("broadcast: payload cannot be serialized")
	ErrQueueFull         = errors.New("broadcast: subscriber queue is full")
	ErrSubscriberClosed  = errors.New("broadcast: subscriber is closed")
	ErrAlreadyDrained    = errors.New("broadcast: subscriber is already being drained")
	ErrNilSubscriber     = errors.New("broadcast: nil subscriber")
)

// PublishError reports a payload that could not be turned into a message.
// It is the only error Publish returns for a live broadcaster.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return ErrInvalidPayload.Error() + ": " + e.Err.Error()
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrInvalidPayload, e.Err}
}

var (
	errNilPayload    = errors.New("nil payload")
	errMalformedJSON = errors.New("malformed JSON")
)
