package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// subscriberBufferSize is how many run events a watcher may lag behind.
const subscriberBufferSize = 64

var eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "outletwatch_run_events_dropped_total",
	Help: "Run events not delivered because a watcher's buffer was full.",
})

func init() {
	prometheus.MustRegister(eventsDropped)
}

// Event types published while a run executes.
const (
	EventRunStarted    = "run_started"
	EventTaskStarted   = "task_started"
	EventAttempt       = "attempt"
	EventTaskResolved  = "task_resolved"
	EventTaskAbandoned = "task_abandoned"
	EventRunFinished   = "run_finished"
)

// Event is one progress notification for a run.
type Event struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	OutletID string    `json:"outlet_id,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Status   string    `json:"status,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}

// Broker delivers the progress events of each run to the API clients
// watching it. Publishing never waits on a watcher.
//
// A finished run keeps an empty closed topic, so a client that starts
// watching after run_finished sees its stream end at once.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe starts watching runID. The channel closes when the run finishes;
// it is already closed for a finished run. The returned func stops watching.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[runID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish stamps ev and hands it to every watcher of ev.RunID. A watcher
// whose buffer is full misses the event.
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.RunID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

// Close ends runID's event stream for current and future watchers.
func (b *Broker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		b.topics[runID] = &topic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
