// atc/sequencer_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package atc

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/rand"
	"github.com/mmp/groundctl/util"
)

func testSequencer() *Sequencer {
	return NewSequencer(SequencerConfig{
		DepartureInterval: util.Duration(60 * time.Second),
		ArrivalInterval:   util.Duration(90 * time.Second),
	}, nil)
}

func TestSequencerBasics(t *testing.T) {
	s := testSequencer()

	for i, id := range []av.AircraftID{"A", "B", "C"} {
		if err := s.Enqueue(Departure, "27", id, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Enqueue(Arrival, "27", "D", t0); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(Arrival, "09", "B", t0); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("duplicate enqueue got %v, expected ErrAlreadyQueued", err)
	}
	if err := s.Enqueue(Operation(7), "09", "E", t0); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("got %v, expected ErrInvalidOperation", err)
	}

	if n := s.QueueLength("27"); n != 4 {
		t.Errorf("QueueLength(27) got %d, expected 4", n)
	}
	if n := s.QueueLength("09"); n != 0 {
		t.Errorf("QueueLength(09) got %d, expected 0", n)
	}
	if pos, ok := s.Position("C"); !ok || pos != (QueuePosition{Departure, "27", 2}) {
		t.Errorf("Position(C) got %+v, expected departure 27 #2", pos)
	}

	// Only the head may be released.
	if s.RequestDeparture("B", "27", t0) {
		t.Errorf("B released ahead of A")
	}
	if !s.RequestDeparture("A", "27", t0) {
		t.Errorf("A not released")
	}
	// Now B is at the head but the interval hasn't passed.
	if s.RequestDeparture("B", "27", t0.Add(59*time.Second)) {
		t.Errorf("B released before the departure interval")
	}
	if next := s.NextGrant(Departure, "27"); !next.Equal(t0.Add(time.Minute)) {
		t.Errorf("NextGrant got %v, expected %v", next, t0.Add(time.Minute))
	}
	// An arrival after a departure waits for the longer arrival interval.
	if next := s.NextGrant(Arrival, "27"); !next.Equal(t0.Add(90 * time.Second)) {
		t.Errorf("NextGrant(Arrival) got %v, expected %v", next, t0.Add(90*time.Second))
	}
	if !s.RequestDeparture("B", "27", t0.Add(60*time.Second)) {
		t.Errorf("B not released after the interval")
	}

	if !s.Remove("C") || s.Remove("C") {
		t.Errorf("Remove should succeed exactly once")
	}

	// D is now at the head, but only as an arrival.
	if s.RequestDeparture("D", "27", t0.Add(200*time.Second)) {
		t.Errorf("D released as a departure")
	}
	if s.RequestArrival("D", "27", t0.Add(149*time.Second)) {
		t.Errorf("D released before the arrival interval")
	}
	if !s.RequestArrival("D", "27", t0.Add(150*time.Second)) {
		t.Errorf("D not released after the arrival interval")
	}
	if lens := s.QueueLengths(); lens["27"] != 0 {
		t.Errorf("QueueLengths got %v, expected empty 27", lens)
	}
	if s.RequestDeparture("Z", "18", t0) {
		t.Errorf("released aircraft from a runway with no queue")
	}
}

func TestSequencerState(t *testing.T) {
	s := testSequencer()
	s.Enqueue(Arrival, "27", "X", t0)
	s.Enqueue(Departure, "27", "Y", t0)
	s.Enqueue(Departure, "09", "Z", t0)

	st := s.State()
	var got []string
	for _, q := range st {
		for _, e := range q.Entries {
			got = append(got, fmt.Sprintf("%s/%s/%s", q.Runway, e.Aircraft, e.Operation))
		}
	}
	expect := []string{"09/Z/departure", "27/X/arrival", "27/Y/departure"}
	if !slices.Equal(got, expect) {
		t.Errorf("State got %v, expected %v", got, expect)
	}

	// The copy is independent of the sequencer.
	st[0].Entries[0].Aircraft = "Q"
	if h, _ := s.Head("09"); h.Aircraft != "Z" {
		t.Errorf("modifying State() changed the queue")
	}
}

// Random enqueues and release requests: grants must come out in enqueue
// order and no closer together than the interval.
func TestSequencerFairness(t *testing.T) {
	r := rand.MakeSeeded(7)
	for iter := range 20 {
		s := testSequencer()
		now := t0
		var enqueued, granted []av.AircraftID
		var grantTimes []time.Time
		n := 0

		for range 400 {
			now = now.Add(time.Duration(r.Intn(30)) * time.Second)
			if r.Float32() < 0.3 {
				id := av.AircraftID(fmt.Sprintf("AC%d", n))
				n++
				if err := s.Enqueue(Departure, "27", id, now); err != nil {
					t.Fatal(err)
				}
				enqueued = append(enqueued, id)
			}

			// Request for a random queued aircraft, not necessarily the head.
			q := s.Queue("27")
			if len(q) == 0 {
				continue
			}
			id := q[r.Intn(len(q))].Aircraft
			if s.RequestDeparture(id, "27", now) {
				granted = append(granted, id)
				grantTimes = append(grantTimes, now)
			}
		}

		if len(granted) == 0 {
			t.Fatalf("iteration %d: nothing granted", iter)
		}
		if !slices.Equal(granted, enqueued[:len(granted)]) {
			t.Errorf("iteration %d: grant order %v doesn't match enqueue order", iter, granted)
		}
		for i := 1; i < len(grantTimes); i++ {
			if d := grantTimes[i].Sub(grantTimes[i-1]); d < time.Minute {
				t.Errorf("iteration %d: grants %d and %d only %s apart", iter, i-1, i, d)
			}
		}
	}
}

func TestSequencerMixedOperations(t *testing.T) {
	s := testSequencer()
	if err := s.Enqueue(Departure, "27", "DEP1", t0); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(Arrival, "27", "ARR1", t0.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	now := t0.Add(2 * time.Second)
	if s.RequestArrival("ARR1", "27", now) {
		t.Errorf("arrival released ahead of the earlier departure")
	}
	if !s.RequestDeparture("DEP1", "27", now) {
		t.Errorf("departure at the head not released")
	}
	if s.RequestArrival("ARR1", "27", now) {
		t.Errorf("arrival released at the same instant as the departure")
	}
	if !s.RequestArrival("ARR1", "27", now.Add(90*time.Second)) {
		t.Errorf("arrival not released after the interval")
	}

	st := s.State()
	if len(st) != 1 || st[0].LastOperation != Arrival || !st[0].LastGranted.Equal(now.Add(90*time.Second)) {
		t.Errorf("State got %+v, expected a single 27 queue last granted to an arrival", st)
	}
}

// Departures and arrivals share each runway's queue: grants must follow
// enqueue order across both operations and be spaced by the longer of
// the two operations' intervals.
func TestSequencerMixedFairness(t *testing.T) {
	r := rand.MakeSeeded(11)
	s := testSequencer()
	type grant struct {
		id   av.AircraftID
		op   Operation
		time time.Time
	}
	now := t0
	var enqueued []av.AircraftID
	var granted []grant

	for i := range 600 {
		now = now.Add(time.Duration(r.Intn(40)) * time.Second)
		if r.Float32() < 0.25 {
			id := av.AircraftID(fmt.Sprintf("AC%d", i))
			op := util.Select(r.Float32() < 0.5, Departure, Arrival)
			if err := s.Enqueue(op, "27", id, now); err != nil {
				t.Fatal(err)
			}
			enqueued = append(enqueued, id)
		}

		q := s.Queue("27")
		if len(q) == 0 {
			continue
		}
		// Sometimes ask with the wrong operation.
		e := q[r.Intn(len(q))]
		op := util.Select(r.Float32() < 0.8, e.Operation, 1-e.Operation)
		ok := util.Select(op == Departure, s.RequestDeparture, s.RequestArrival)(e.Aircraft, "27", now)
		if ok {
			if op != e.Operation {
				t.Fatalf("%s released as %s but queued as %s", e.Aircraft, op, e.Operation)
			}
			granted = append(granted, grant{id: e.Aircraft, op: op, time: now})
		}
	}

	if len(granted) < 10 {
		t.Fatalf("only %d grants", len(granted))
	}
	ids := util.MapSlice(granted, func(g grant) av.AircraftID { return g.id })
	if !slices.Equal(ids, enqueued[:len(ids)]) {
		t.Errorf("grant order %v doesn't match enqueue order", ids)
	}
	c := s.config
	for i := 1; i < len(granted); i++ {
		prev, cur := granted[i-1], granted[i]
		need := max(c.Interval(prev.op), c.Interval(cur.op))
		if d := cur.time.Sub(prev.time); d < need {
			t.Errorf("%s %s and %s %s only %s apart, expected %s", prev.op, prev.id, cur.op, cur.id, d, need)
		}
	}
}

func TestSequencerConcurrent(t *testing.T) {
	s := NewSequencer(SequencerConfig{}, nil)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				s.Enqueue(Departure, "27", av.AircraftID(fmt.Sprintf("%d-%d", i, j)), t0)
			}
		}()
	}
	wg.Wait()

	if n := s.QueueLength("27"); n != 400 {
		t.Fatalf("got %d queued, expected 400", n)
	}
	released := 0
	for {
		h, ok := s.Head("27")
		if !ok {
			break
		}
		if !s.RequestDeparture(h.Aircraft, "27", t0) {
			t.Fatalf("zero interval should always release the head")
		}
		released++
	}
	if released != 400 {
		t.Errorf("released %d, expected 400", released)
	}
}
