package orchestrator

import (
	"time"

	"go.uber.org/zap"
)

// EventType names a state-machine transition.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventRetrying  EventType = "retrying"
)

// Event is delivered to registered observers on every transition.
type Event struct {
	Type       EventType
	TaskID     string
	Status     string
	RetryCount int
	CacheHit   bool
	Err        string
	At         time.Time
}

// Observer receives task lifecycle events. Callbacks run synchronously on
// orchestrator goroutines and must not block for long.
type Observer interface {
	OnTaskEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnTaskEvent(ev Event) { f(ev) }

// emit delivers an event to every observer. A panicking observer is logged
// and isolated; it never propagates into the state machine.
func (o *Orchestrator) emit(ev Event) {
	o.obsMu.RLock()
	observers := o.observers
	o.obsMu.RUnlock()
	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("task observer panicked",
						zap.String("task_id", ev.TaskID),
						zap.String("event", string(ev.Type)),
						zap.Any("panic", r))
				}
			}()
			obs.OnTaskEvent(ev)
		}()
	}
}

// RegisterObserver adds an observer for all subsequent transitions.
func (o *Orchestrator) RegisterObserver(obs Observer) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, obs)
}
