package broadcast

// Observer receives lifecycle and delivery notifications, typically for metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	SubscriberAdded(id SubscriberID)
	SubscriberRemoved(id SubscriberID, from State)
	MessagePublished(seq uint64, recipients int)
	MessageDropped(id SubscriberID, policy Policy)
	DeliveryFailed(id SubscriberID, err error)
}

type noopObserver struct{}

func (noopObserver) SubscriberAdded(SubscriberID)          {}
func (noopObserver) SubscriberRemoved(SubscriberID, State) {}
func (noopObserver) MessagePublished(uint64, int)          {}
func (noopObserver) MessageDropped(SubscriberID, Policy)   {}
func (noopObserver) DeliveryFailed(SubscriberID, error)    {}
