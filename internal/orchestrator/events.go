package orchestrator

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/result"
	"github.com/liemle3893/e2e-runner-sub000/internal/testdef"
)

// EventType names a lifecycle point.
type EventType string

const (
	EventSuiteStart EventType = "suite:start"
	EventSuiteEnd   EventType = "suite:end"
	EventTestStart  EventType = "test:start"
	EventTestEnd    EventType = "test:end"
	EventPhaseStart EventType = "phase:start"
	EventPhaseEnd   EventType = "phase:end"
	EventStepStart  EventType = "step:start"
	EventStepEnd    EventType = "step:end"
)

// Event is passed to listeners. Only the fields relevant to Type are set.
type Event struct {
	Type EventType
	Time time.Time

	// suite:start
	Total int
	// suite:end
	Suite *result.Suite

	Test       string
	Definition *testdef.Definition
	// test:end
	TestResult *result.Test

	Phase string
	// phase:end
	PhaseResult *result.Phase

	Step testdef.Step
	// step:end
	StepResult *result.Step
}

// Listener receives events synchronously. Events from parallel tests are
// delivered one at a time.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// bus is the orchestrator's observer list.
type bus struct {
	mu        sync.RWMutex
	listeners []listenerEntry
	nextID    int

	// emitMu serializes delivery; it is never held while mu is taken for
	// writing, so a listener may call On or Off.
	emitMu sync.Mutex
}

func (b *bus) on(fn Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners = append(b.listeners, listenerEntry{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *bus) off(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (b *bus) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	listeners := make([]listenerEntry, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	for _, l := range listeners {
		deliver(l, ev)
	}
}

func deliver(l listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(ev.Type)).Int("listener", l.id).Msg("event listener panicked")
		}
	}()
	l.fn(ev)
}
