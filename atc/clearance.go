// atc/clearance.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package atc implements the controller-side rules for ground and runway
// operations: the per-aircraft clearance state machine, wind-aware
// runway assignment and the runway sequencer.
package atc

import (
	"fmt"
	"strings"
	"time"

	av "github.com/mmp/groundctl/aviation"
)

///////////////////////////////////////////////////////////////////////////
// ClearanceState

type ClearanceState int

const (
	Idle ClearanceState = iota
	PushbackRequested
	PushbackInProgress
	TaxiToRunway
	TaxiingToRunway
	HoldingAtRunway
	TakeoffCleared
	ExecutingTakeoff
	Airborne
	ApproachCleared
	Landing
	TaxiToParking
	TaxiingToParking
	ParkingArrived

	NumClearanceStates
)

var clearanceStateNames = [...]string{
	"Idle", "PushbackRequested", "PushbackInProgress", "TaxiToRunway", "TaxiingToRunway",
	"HoldingAtRunway", "TakeoffCleared", "ExecutingTakeoff", "Airborne", "ApproachCleared",
	"Landing", "TaxiToParking", "TaxiingToParking", "ParkingArrived",
}

func (s ClearanceState) Valid() bool {
	return s >= Idle && s < NumClearanceStates
}

func (s ClearanceState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ClearanceState(%d)", int(s))
	}
	return clearanceStateNames[s]
}

func (s ClearanceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ClearanceState) UnmarshalText(b []byte) error {
	for i, n := range clearanceStateNames {
		if strings.EqualFold(n, string(b)) {
			*s = ClearanceState(i)
			return nil
		}
	}
	return fmt.Errorf("%q: unknown clearance state", string(b))
}

// Terminal reports whether no further transitions are possible.
func (s ClearanceState) Terminal() bool {
	return s == ParkingArrived
}

// OnGround reports whether aircraft in the state are expected to be on
// the airport surface.
func (s ClearanceState) OnGround() bool {
	switch s {
	case ExecutingTakeoff, Airborne, ApproachCleared:
		return false
	default:
		return true
	}
}

///////////////////////////////////////////////////////////////////////////
// ClearanceEvent

type ClearanceEvent int

const (
	RequestPushback ClearanceEvent = iota
	ApprovePushback
	CompletePushback
	BeginTaxi
	ReachRunwayHold
	ClearTakeoff
	BeginTakeoffRoll
	LiftOff
	ClearApproach
	Touchdown
	VacateRunway
	ReachParking

	NumClearanceEvents
)

var clearanceEventNames = [...]string{
	"RequestPushback", "ApprovePushback", "CompletePushback", "BeginTaxi", "ReachRunwayHold",
	"ClearTakeoff", "BeginTakeoffRoll", "LiftOff", "ClearApproach", "Touchdown",
	"VacateRunway", "ReachParking",
}

func (e ClearanceEvent) Valid() bool {
	return e >= RequestPushback && e < NumClearanceEvents
}

func (e ClearanceEvent) String() string {
	if !e.Valid() {
		return fmt.Sprintf("ClearanceEvent(%d)", int(e))
	}
	return clearanceEventNames[e]
}

func (e ClearanceEvent) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ClearanceEvent) UnmarshalText(b []byte) error {
	ev, err := ParseClearanceEvent(string(b))
	if err == nil {
		*e = ev
	}
	return err
}

// ParseClearanceEvent accepts event names case-insensitively, with or
// without separating dashes or underscores ("begin-taxi", "BeginTaxi").
func ParseClearanceEvent(s string) (ClearanceEvent, error) {
	norm := strings.NewReplacer("-", "", "_", "").Replace(s)
	for i, n := range clearanceEventNames {
		if strings.EqualFold(n, norm) {
			return ClearanceEvent(i), nil
		}
	}
	return ClearanceEvent(-1), fmt.Errorf("%q: %w", s, ErrUnknownEvent)
}

// SequencerControlled reports whether the event is only issued by the
// runway sequencer, never directly by an external request.
func (e ClearanceEvent) SequencerControlled() bool {
	return e == ClearTakeoff || e == ClearApproach
}

type transitionKey struct {
	from  ClearanceState
	event ClearanceEvent
}

// transitions holds the single legal outgoing edge of each non-terminal
// state. BeginTaxi appears twice since it leads out of both the
// departure and arrival taxi clearances.
var transitions = map[transitionKey]ClearanceState{
	{Idle, RequestPushback}:                PushbackRequested,
	{PushbackRequested, ApprovePushback}:   PushbackInProgress,
	{PushbackInProgress, CompletePushback}: TaxiToRunway,
	{TaxiToRunway, BeginTaxi}:              TaxiingToRunway,
	{TaxiingToRunway, ReachRunwayHold}:     HoldingAtRunway,
	{HoldingAtRunway, ClearTakeoff}:        TakeoffCleared,
	{TakeoffCleared, BeginTakeoffRoll}:     ExecutingTakeoff,
	{ExecutingTakeoff, LiftOff}:            Airborne,
	{Airborne, ClearApproach}:              ApproachCleared,
	{ApproachCleared, Touchdown}:           Landing,
	{Landing, VacateRunway}:                TaxiToParking,
	{TaxiToParking, BeginTaxi}:             TaxiingToParking,
	{TaxiingToParking, ReachParking}:       ParkingArrived,
}

var nextEvent = func() map[ClearanceState]ClearanceEvent {
	m := make(map[ClearanceState]ClearanceEvent)
	for k := range transitions {
		m[k.from] = k.event
	}
	return m
}()

// NextEvent returns the event that advances an aircraft out of s; ok is
// false for the terminal state.
func NextEvent(s ClearanceState) (ev ClearanceEvent, ok bool) {
	ev, ok = nextEvent[s]
	return
}

///////////////////////////////////////////////////////////////////////////
// RejectReason

type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectIllegalTransition
	RejectTerminal
	RejectUnknownEvent
	RejectSequencerControlled
	RejectUnknownAircraft
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectIllegalTransition:
		return "illegal_transition"
	case RejectTerminal:
		return "terminal_state"
	case RejectUnknownEvent:
		return "unknown_event"
	case RejectSequencerControlled:
		return "sequencer_controlled"
	case RejectUnknownAircraft:
		return "unknown_aircraft"
	default:
		return fmt.Sprintf("RejectReason(%d)", int(r))
	}
}

func (r RejectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RejectReason) UnmarshalText(b []byte) error {
	for v := RejectNone; v <= RejectUnknownAircraft; v++ {
		if v.String() == string(b) {
			*r = v
			return nil
		}
	}
	return fmt.Errorf("%q: unknown reject reason", string(b))
}

///////////////////////////////////////////////////////////////////////////
// ClearanceRecord

type Transition struct {
	From  ClearanceState `json:"from"`
	To    ClearanceState `json:"to"`
	Event ClearanceEvent `json:"event"`
	Time  time.Time      `json:"time"`
}

type TransitionResult struct {
	Accepted bool           `json:"accepted"`
	State    ClearanceState `json:"state"` // state after the request, whether or not it was accepted
	Reason   RejectReason   `json:"reason,omitempty"`
}

func (r TransitionResult) String() string {
	if r.Accepted {
		return "accepted: " + r.State.String()
	}
	return fmt.Sprintf("rejected (%s) in %s", r.Reason, r.State)
}

type ClearanceRecord struct {
	Aircraft        av.AircraftID  `json:"aircraft"`
	State           ClearanceState `json:"state"`
	RequestedRunway string         `json:"requested_runway,omitempty"`
	AssignedRunway  string         `json:"assigned_runway,omitempty"`
	Created         time.Time      `json:"created"`
	Transitions     []Transition   `json:"transitions,omitempty"`
}

// NewClearanceRecord returns the record for an aircraft first seen at
// time now: departures start out Idle at the gate while aircraft that
// appear in the air start in Airborne, ready for an approach clearance.
func NewClearanceRecord(id av.AircraftID, airborne bool, now time.Time) ClearanceRecord {
	cr := ClearanceRecord{Aircraft: id, State: Idle, Created: now}
	if airborne {
		cr.State = Airborne
	}
	return cr
}

// RequestTransition applies ev if it is the legal event for the current
// state. Rejected requests leave the record unchanged.
func (cr *ClearanceRecord) RequestTransition(ev ClearanceEvent, now time.Time) TransitionResult {
	if !ev.Valid() {
		return TransitionResult{State: cr.State, Reason: RejectUnknownEvent}
	}
	if cr.State.Terminal() {
		return TransitionResult{State: cr.State, Reason: RejectTerminal}
	}

	to, ok := transitions[transitionKey{cr.State, ev}]
	if !ok {
		return TransitionResult{State: cr.State, Reason: RejectIllegalTransition}
	}

	cr.Transitions = append(cr.Transitions, Transition{From: cr.State, To: to, Event: ev, Time: now})
	cr.State = to
	return TransitionResult{Accepted: true, State: to}
}

// EnteredAt returns the time the record most recently entered state s.
func (cr *ClearanceRecord) EnteredAt(s ClearanceState) (time.Time, bool) {
	for i := len(cr.Transitions) - 1; i >= 0; i-- {
		if cr.Transitions[i].To == s {
			return cr.Transitions[i].Time, true
		}
	}
	if s == cr.initialState() {
		return cr.Created, true
	}
	return time.Time{}, false
}

func (cr *ClearanceRecord) initialState() ClearanceState {
	if len(cr.Transitions) > 0 {
		return cr.Transitions[0].From
	}
	return cr.State
}
