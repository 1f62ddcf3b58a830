// atc/sequencer.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package atc

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/util"
)

type Operation int

const (
	Departure Operation = iota
	Arrival
)

func (op Operation) String() string {
	switch op {
	case Departure:
		return "departure"
	case Arrival:
		return "arrival"
	default:
		return fmt.Sprintf("Operation(%d)", int(op))
	}
}

func (op Operation) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *Operation) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "departure":
		*op = Departure
	case "arrival":
		*op = Arrival
	default:
		return fmt.Errorf("%q: %w", string(b), ErrInvalidOperation)
	}
	return nil
}

type SequencerConfig struct {
	DepartureInterval util.Duration `json:"departure_interval"`
	ArrivalInterval   util.Duration `json:"arrival_interval"`
}

func DefaultSequencerConfig() SequencerConfig {
	return SequencerConfig{
		DepartureInterval: util.Duration(90 * time.Second),
		ArrivalInterval:   util.Duration(120 * time.Second),
	}
}

func (c SequencerConfig) Validate(e *util.ErrorLogger) {
	e.Push("Sequencer")
	defer e.Pop()

	if c.DepartureInterval < 0 {
		e.ErrorString("\"departure_interval\" cannot be negative")
	}
	if c.ArrivalInterval < 0 {
		e.ErrorString("\"arrival_interval\" cannot be negative")
	}
}

func (c SequencerConfig) Interval(op Operation) time.Duration {
	if op == Arrival {
		return c.ArrivalInterval.D()
	}
	return c.DepartureInterval.D()
}

type QueueEntry struct {
	Aircraft  av.AircraftID `json:"aircraft"`
	Operation Operation     `json:"operation"`
	Enqueued  time.Time     `json:"enqueued"`
}

type QueuePosition struct {
	Operation Operation `json:"operation"`
	Runway    string    `json:"runway"`
	Index     int       `json:"index"` // 0 is the head of the queue
}

// QueueState is an exported copy of a single runway queue.
type QueueState struct {
	Runway        string       `json:"runway"`
	Entries       []QueueEntry `json:"entries"`
	LastGranted   time.Time    `json:"last_granted,omitzero"`
	LastOperation Operation    `json:"last_operation"` // only meaningful if LastGranted is set
}

type runwayQueue struct {
	entries     []QueueEntry
	lastGranted time.Time
	lastOp      Operation
	granted     bool
}

// Sequencer holds a single FIFO queue of departures and arrivals for each
// runway and releases aircraft from it no more often than the spacing
// interval. Queues are strictly first-come first-served regardless of
// operation. It is safe for concurrent use.
type Sequencer struct {
	mu     util.LoggingMutex
	config SequencerConfig
	queues map[string]*runwayQueue
	lg     *log.Logger
}

func NewSequencer(config SequencerConfig, lg *log.Logger) *Sequencer {
	return &Sequencer{
		config: config,
		queues: make(map[string]*runwayQueue),
		lg:     lg,
	}
}

func (s *Sequencer) queue(runway string) *runwayQueue {
	q, ok := s.queues[runway]
	if !ok {
		q = &runwayQueue{}
		s.queues[runway] = q
	}
	return q
}

// find must be called with s.mu held.
func (s *Sequencer) find(id av.AircraftID) (string, int, bool) {
	for rwy, q := range s.queues {
		if idx := slices.IndexFunc(q.entries, func(e QueueEntry) bool { return e.Aircraft == id }); idx != -1 {
			return rwy, idx, true
		}
	}
	return "", -1, false
}

// spacing returns the interval required between a release for prev and
// the next release for op: the longer of the two operations' intervals.
func (s *Sequencer) spacing(prev, op Operation) time.Duration {
	return max(s.config.Interval(prev), s.config.Interval(op))
}

// Enqueue adds the aircraft to the end of the runway's queue. An aircraft
// may only be in one queue at a time.
func (s *Sequencer) Enqueue(op Operation, runway string, id av.AircraftID, now time.Time) error {
	if op != Departure && op != Arrival {
		return ErrInvalidOperation
	}

	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	if rwy, idx, ok := s.find(id); ok {
		return fmt.Errorf("%s: %s %s: %w", id, rwy, s.queues[rwy].entries[idx].Operation, ErrAlreadyQueued)
	}
	q := s.queue(runway)
	q.entries = append(q.entries, QueueEntry{Aircraft: id, Operation: op, Enqueued: now})

	s.lg.Debug("enqueued", slog.String("aircraft", string(id)), slog.String("runway", runway),
		slog.String("operation", op.String()), slog.Int("position", len(q.entries)-1))
	return nil
}

// Remove takes the aircraft out of whichever queue it's in, returning
// false if it wasn't queued.
func (s *Sequencer) Remove(id av.AircraftID) bool {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	rwy, idx, ok := s.find(id)
	if ok {
		q := s.queues[rwy]
		q.entries = slices.Delete(q.entries, idx, idx+1)
	}
	return ok
}

// QueueLength returns the number of aircraft waiting for the runway.
func (s *Sequencer) QueueLength(runway string) int {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	if q, ok := s.queues[runway]; ok {
		return len(q.entries)
	}
	return 0
}

// QueueLengths returns QueueLength for every runway that has had a
// queue.
func (s *Sequencer) QueueLengths() map[string]int {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	m := make(map[string]int)
	for rwy, q := range s.queues {
		m[rwy] = len(q.entries)
	}
	return m
}

func (s *Sequencer) Position(id av.AircraftID) (QueuePosition, bool) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	rwy, idx, ok := s.find(id)
	if !ok {
		return QueuePosition{}, false
	}
	return QueuePosition{Operation: s.queues[rwy].entries[idx].Operation, Runway: rwy, Index: idx}, true
}

// Queue returns a copy of the runway's queue.
func (s *Sequencer) Queue(runway string) []QueueEntry {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	if q, ok := s.queues[runway]; ok {
		return slices.Clone(q.entries)
	}
	return nil
}

// Head returns the entry at the front of the runway's queue, if any.
func (s *Sequencer) Head(runway string) (QueueEntry, bool) {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	if q, ok := s.queues[runway]; ok && len(q.entries) > 0 {
		return q.entries[0], true
	}
	return QueueEntry{}, false
}

// NextGrant returns the earliest time an aircraft for op may next be
// released from the runway.
func (s *Sequencer) NextGrant(op Operation, runway string) time.Time {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	if q, ok := s.queues[runway]; ok && q.granted {
		return q.lastGranted.Add(s.spacing(q.lastOp, op))
	}
	return time.Time{}
}

// RequestDeparture asks for the aircraft to be released for takeoff from
// the runway at time now. It is granted only if the aircraft is first in
// the runway's queue as a departure and enough time has passed since the
// runway's previous release; on success the aircraft leaves the queue.
func (s *Sequencer) RequestDeparture(id av.AircraftID, runway string, now time.Time) bool {
	return s.request(Departure, id, runway, now)
}

// RequestArrival is the arrival counterpart of RequestDeparture.
func (s *Sequencer) RequestArrival(id av.AircraftID, runway string, now time.Time) bool {
	return s.request(Arrival, id, runway, now)
}

func (s *Sequencer) request(op Operation, id av.AircraftID, runway string, now time.Time) bool {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	q, ok := s.queues[runway]
	if !ok || len(q.entries) == 0 {
		return false
	}
	if head := q.entries[0]; head.Aircraft != id || head.Operation != op {
		return false
	}
	if q.granted && now.Sub(q.lastGranted) < s.spacing(q.lastOp, op) {
		return false
	}

	s.lg.Info("released", slog.String("aircraft", string(id)), slog.String("runway", runway),
		slog.String("operation", op.String()), slog.Duration("waited", now.Sub(q.entries[0].Enqueued)))

	q.entries = q.entries[1:]
	q.lastGranted = now
	q.lastOp = op
	q.granted = true
	return true
}

// State returns a copy of all queues, ordered by runway.
func (s *Sequencer) State() []QueueState {
	s.mu.Lock(s.lg)
	defer s.mu.Unlock(s.lg)

	var st []QueueState
	for rwy, q := range s.queues {
		st = append(st, QueueState{
			Runway:        rwy,
			Entries:       slices.Clone(q.entries),
			LastGranted:   q.lastGranted,
			LastOperation: q.lastOp,
		})
	}
	slices.SortFunc(st, func(a, b QueueState) int { return strings.Compare(a.Runway, b.Runway) })
	return st
}
