package syncengine

import "sync"

// EventType enumerates the coordinator's subscribable lifecycle events.
type EventType string

const (
	EventOperationStarted  EventType = "operationStarted"
	EventOperationProgress EventType = "progress"
	EventOperationComplete EventType = "operationCompleted"
	EventOperationFailed   EventType = "operationFailed"
	EventConflictDetected  EventType = "conflictDetected"
	EventCheckpointCreated EventType = "checkpointCreated"
	EventRollbackExecuted  EventType = "rollbackExecuted"
)

// criticalEvents block the publisher rather than dropping, so a slow
// subscriber never silently misses a failure or a conflict.
var criticalEvents = map[EventType]bool{
	EventOperationFailed:  true,
	EventConflictDetected: true,
}

// Event is published to every subscriber of its Type.
type Event struct {
	Type        EventType
	OperationID string
	Payload     any
}

const subscriberBuffer = 64

type subscriberBus struct {
	mu   sync.Mutex
	subs map[EventType][]chan Event
}

func newSubscriberBus() *subscriberBus {
	return &subscriberBus{subs: make(map[EventType][]chan Event)}
}

// Subscribe returns a channel receiving every Event of the given type. The
// channel is never closed by the bus; callers should stop reading when they
// no longer care (the bus only holds a reference, not a lifecycle).
func (b *subscriberBus) Subscribe(event EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	b.subs[event] = append(b.subs[event], ch)
	return ch
}

// publish fans out ev to every subscriber of ev.Type. Non-critical events
// drop the oldest buffered event on a full channel rather than block the
// publisher; operationFailed and conflictDetected block instead, since
// losing those silently would hide a failure from an observer.
func (b *subscriberBus) publish(ev Event) {
	b.mu.Lock()
	subs := append([]chan Event(nil), b.subs[ev.Type]...)
	b.mu.Unlock()

	for _, ch := range subs {
		if criticalEvents[ev.Type] {
			ch <- ev
			continue
		}
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
