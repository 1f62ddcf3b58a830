// sim/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
)

var (
	ErrAircraftAirborne   = errors.New("Aircraft is airborne")
	ErrAircraftOnGround   = errors.New("Aircraft is on the ground")
	ErrInvalidClearance   = errors.New("Aircraft clearance does not allow the request")
	ErrInvalidTelemetry   = errors.New("Invalid telemetry")
	ErrNoRoute            = errors.New("No taxi route")
	ErrStaleTelemetry     = errors.New("Telemetry is stale")
	ErrTelemetryQueueFull = errors.New("Telemetry queue full")
	ErrUnknownAircraft    = errors.New("Unknown aircraft")
)

// FailureReason is the reason code attached to failures reported to
// operators through the event stream.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureNoPath
	FailureNoRunway
	FailureNoParking
	FailureIllegalTransition
	FailureStaleTelemetry
	FailureResolutionExhausted
	FailureUnknownAircraft
	FailureInvalidRequest
)

var failureReasonNames = []string{"none", "no_path", "no_runway", "no_parking", "illegal_transition",
	"stale_telemetry", "resolution_exhausted", "unknown_aircraft", "invalid_request"}

func (r FailureReason) String() string {
	if int(r) < 0 || int(r) >= len(failureReasonNames) {
		return fmt.Sprintf("FailureReason(%d)", int(r))
	}
	return failureReasonNames[r]
}

func (r FailureReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *FailureReason) UnmarshalText(b []byte) error {
	if i := slices.Index(failureReasonNames, string(b)); i != -1 {
		*r = FailureReason(i)
		return nil
	}
	return fmt.Errorf("%q: unknown failure reason", string(b))
}

// FailureFor maps an error returned by one of the Coordinator request
// methods to its reason code.
func FailureFor(err error) FailureReason {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNoRoute):
		return FailureNoPath
	case errors.Is(err, atc.ErrNoAcceptableRunway), errors.Is(err, atc.ErrNoCandidateRunways):
		return FailureNoRunway
	case errors.Is(err, av.ErrNoParking):
		return FailureNoParking
	case errors.Is(err, ErrUnknownAircraft):
		return FailureUnknownAircraft
	case errors.Is(err, ErrStaleTelemetry):
		return FailureStaleTelemetry
	default:
		return FailureInvalidRequest
	}
}
