// sim/eventstream.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/taxi"
)

// EventStream provides a basic pub/sub event interface: the coordinator
// posts what it decides to the stream and any number of subscribers
// (the HTTP adapter, logging, tests) consume events at their own pace.
type EventStream struct {
	mu            sync.Mutex
	events        []Event
	subscriptions map[*EventsSubscription]any
	lastPost      time.Time
	warnedLong    bool
	done          chan struct{}
	lg            *log.Logger
}

type EventsSubscription struct {
	stream *EventStream
	// offset is offset in the EventStream stream array up to which the
	// subscriber has consumed events so far.
	offset      int
	source      string
	lastGet     time.Time
	warnedNoGet bool
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Time("last_get", e.lastGet))
}

func NewEventStream(lg *log.Logger) *EventStream {
	es := &EventStream{
		subscriptions: make(map[*EventsSubscription]any),
		lastPost:      time.Now(),
		done:          make(chan struct{}),
		lg:            lg,
	}
	go es.monitor()
	return es
}

// Subscribe registers a new subscriber; it receives the events posted
// from now on.
func (e *EventStream) Subscribe() *EventsSubscription {
	// Record the subscriber's callsite, so that we can more easily debug
	// subscribers that aren't consuming events.
	_, fn, line, _ := runtime.Caller(1)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  fmt.Sprintf("%s:%d", fn, line),
		lastGet: time.Now(),
	}
	e.subscriptions[sub] = nil
	return sub
}

func (e *EventStream) monitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		e.mu.Lock()

		e.compact()

		if len(e.events) > 1000 && !e.warnedLong {
			// It's likely that one of the subscribers is out to lunch if
			// the stream has grown this long.
			e.lg.Warn("Long EventStream", slog.Int("length", len(e.events)))
			e.warnedLong = true
		}

		// Only complain about idle subscribers while events are being
		// posted.
		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscriptions {
				if d := time.Since(sub.lastGet); d > 10*time.Second && !sub.warnedNoGet {
					e.lg.Warn("Subscriber has not called Get() recently",
						slog.Duration("duration", d), slog.Any("subscriber", sub))
					sub.warnedNoGet = true
				}
			}
		}

		e.mu.Unlock()
	}
}

// Unsubscribe removes a subscriber from the subscriber list
func (e *EventsSubscription) Unsubscribe() {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Attempted to unsubscribe invalid subscription: %+v", e)
	}
	delete(e.stream.subscriptions, e)
}

// Post adds an event to the event stream.
func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	// Ignore the event if no one's paying attention.
	if len(e.subscriptions) > 0 {
		e.lastPost = time.Now()
		e.events = append(e.events, event)
	}
}

// Get returns all of the events from the stream since the last time Get
// was called for the subscription.
func (e *EventsSubscription) Get() []Event {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Attempted to get with unregistered subscription: %+v", e)
		return nil
	}

	events := slices.Clone(e.stream.events[e.offset:])
	e.offset = len(e.stream.events)
	e.lastGet = time.Now()
	e.warnedNoGet = false

	return events
}

func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.done:
	default:
		close(e.done)
	}
	clear(e.subscriptions)
}

// compact reclaims storage for events that all subscribers have seen; it
// is called periodically so that EventStream memory usage doesn't grow
// without bound.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		minOffset = min(minOffset, sub.offset)
	}

	if minOffset > cap(e.events)/2 {
		n := len(e.events) - minOffset

		copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]

		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}

		e.warnedLong = false
	}
}

// implements slog.LogValuer
func (e *EventStream) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := []slog.Attr{slog.Int("len", len(e.events)), slog.Int("cap", cap(e.events)),
		slog.Int("subscriptions", len(e.subscriptions))}
	if len(e.events) > 0 {
		items = append(items, slog.Any("last_element", e.events[len(e.events)-1]))
	}
	return slog.GroupValue(items...)
}

///////////////////////////////////////////////////////////////////////////

type EventType int

const (
	ClearanceTransitionEvent EventType = iota
	ClearanceRejectedEvent
	ClearanceGrantedEvent
	SequencedEvent
	RunwayAssignedEvent
	RouteAssignedEvent
	RequestFailedEvent
	HoldAssignedEvent
	ConflictAlertEvent
	ManeuverAssignedEvent
	GoAroundEscalatedEvent
	StaleTelemetryEvent
	AircraftEvictedEvent
	TickOverrunEvent
	LoadShedEvent
	NumEventTypes
)

var eventTypeNames = [...]string{"ClearanceTransition", "ClearanceRejected", "ClearanceGranted",
	"Sequenced", "RunwayAssigned", "RouteAssigned", "RequestFailed", "HoldAssigned", "ConflictAlert",
	"ManeuverAssigned", "GoAroundEscalated", "StaleTelemetry", "AircraftEvicted", "TickOverrun",
	"LoadShed"}

func (t EventType) String() string {
	if t < 0 || t >= NumEventTypes {
		return fmt.Sprintf("EventType(%d)", int(t))
	}
	return eventTypeNames[t]
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	if i := slices.Index(eventTypeNames[:], string(b)); i != -1 {
		*t = EventType(i)
		return nil
	}
	return fmt.Errorf("%q: unknown event type", string(b))
}

// Event is a tagged union: Type determines which of the optional fields
// are set.
type Event struct {
	Type     EventType     `json:"type"`
	Time     time.Time     `json:"time"`
	Aircraft av.AircraftID `json:"aircraft,omitempty"`
	Message  string        `json:"message,omitempty"`

	Reason     FailureReason         `json:"reason,omitempty"`
	Reject     atc.RejectReason      `json:"reject,omitempty"`
	Transition *atc.Transition       `json:"transition,omitempty"`
	Position   *atc.QueuePosition    `json:"position,omitempty"`
	Runway     *atc.RunwayAssignment `json:"runway,omitempty"`
	Route      *taxi.Route           `json:"route,omitempty"`
	Hold       *[4]av.HoldWaypoint   `json:"hold,omitempty"`
	Alert      *conflict.Alert       `json:"alert,omitempty"`
	Maneuver   *conflict.Maneuver    `json:"maneuver,omitempty"`
	Duration   time.Duration         `json:"duration,omitempty"`
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s", e.Time.Format(time.RFC3339), e.Type)
	if e.Aircraft != "" {
		s += " " + string(e.Aircraft)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Reason != FailureNone {
		s += " (" + e.Reason.String() + ")"
	}
	return s
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String())}
	if e.Aircraft != "" {
		attrs = append(attrs, slog.String("aircraft", string(e.Aircraft)))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	if e.Reason != FailureNone {
		attrs = append(attrs, slog.String("reason", e.Reason.String()))
	}
	if e.Reject != atc.RejectNone {
		attrs = append(attrs, slog.String("reject", e.Reject.String()))
	}
	if e.Duration != 0 {
		attrs = append(attrs, slog.Duration("duration", e.Duration))
	}
	return slog.GroupValue(attrs...)
}
