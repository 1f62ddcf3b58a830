// atc/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package atc

import "errors"

var (
	ErrAlreadyQueued      = errors.New("Aircraft is already queued")
	ErrInvalidOperation   = errors.New("Invalid runway operation")
	ErrNoAcceptableRunway = errors.New("No runway is acceptable for the current wind")
	ErrNoCandidateRunways = errors.New("No candidate runways")
	ErrUnknownEvent       = errors.New("Unknown clearance event")
)
