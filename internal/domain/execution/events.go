package execution

import (
	"time"

	"github.com/felixgeelhaar/provision/internal/domain/compiler"
)

// Event is a progress notification for one step state transition.
type Event struct {
	RunID  string
	StepID compiler.StepID
	State  State
	At     time.Time
	Err    error
}

// Observer receives progress events. Implementations must be safe for
// concurrent use when the scheduler runs with parallelism above one.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Observers fans an event out to several observers in order.
type Observers []Observer

// Observe forwards the event to every non-nil observer.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
