// sim/snapshot.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mmp/groundctl/atc"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/util"

	"github.com/brunoga/deep"
)

// Stats collects counters about the coordinator's operation.
type Stats struct {
	Start         time.Time `json:"start"`
	Aircraft      int       `json:"aircraft"`
	StaleAircraft int       `json:"stale_aircraft"`

	FastTicks       int           `json:"fast_ticks"`
	SlowTicks       int           `json:"slow_ticks"`
	FastOverruns    int           `json:"fast_overruns"`
	SlowOverruns    int           `json:"slow_overruns"`
	MissedFastTicks int           `json:"missed_fast_ticks"`
	MissedSlowTicks int           `json:"missed_slow_ticks"`
	LastFastTick    time.Duration `json:"last_fast_tick"`
	MeanFastTick    time.Duration `json:"mean_fast_tick"` // over the last 100 fast ticks
	MaxFastTick     time.Duration `json:"max_fast_tick"`
	LoadShedTicks   int           `json:"load_shed_ticks"`

	LastAlerts int `json:"last_alerts"`
	Maneuvers  int `json:"maneuvers"`
	GoArounds  int `json:"go_arounds"`
	Grants     int `json:"grants"`
	Evictions  int `json:"evictions"`

	TelemetryApplied int   `json:"telemetry_applied"`
	TelemetryDropped int64 `json:"telemetry_dropped"`
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("start", s.Start),
		slog.Int("aircraft", s.Aircraft),
		slog.Int("fast_ticks", s.FastTicks),
		slog.Int("slow_ticks", s.SlowTicks),
		slog.Int("fast_overruns", s.FastOverruns),
		slog.Int("slow_overruns", s.SlowOverruns),
		slog.Duration("mean_fast_tick", s.MeanFastTick),
		slog.Duration("max_fast_tick", s.MaxFastTick),
		slog.Int("grants", s.Grants),
		slog.Int64("telemetry_dropped", s.TelemetryDropped))
}

// Stats returns the current counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	return c.statsLocked()
}

func (c *Coordinator) statsLocked() Stats {
	s := c.stats
	s.Aircraft = len(c.aircraft)
	s.StaleAircraft = 0
	for _, ac := range c.aircraft {
		if ac.Stale {
			s.StaleAircraft++
		}
	}
	s.TelemetryDropped = c.telemetryDropped.Load()
	if n := c.fastTickTimes.Size(); n > 0 {
		var sum time.Duration
		for i := range n {
			sum += c.fastTickTimes.Get(i)
		}
		s.MeanFastTick = sum / time.Duration(n)
	}
	return s
}

// State is a consistent copy of everything the coordinator knows.
type State struct {
	Time     time.Time        `json:"time"`
	Airport  string           `json:"airport"`
	Wind     Wind             `json:"wind"`
	Aircraft []AircraftState  `json:"aircraft"` // sorted by ID
	Queues   []atc.QueueState `json:"queues"`
	Alerts   []conflict.Alert `json:"alerts"` // from the most recent fast tick
	Stats    Stats            `json:"stats"`
}

// Snapshot returns a deep copy of the coordinator's state; the caller
// may do as it wishes with it.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock(c.lg)
	defer c.mu.Unlock(c.lg)

	st := State{
		Time:    c.clock(),
		Airport: c.ap.ICAO,
		Wind:    c.wind,
		Queues:  c.sequencer.State(),
		Alerts:  deep.MustCopy(c.lastAlerts),
		Stats:   c.statsLocked(),
	}
	for _, id := range util.SortedMapKeys(c.aircraft) {
		st.Aircraft = append(st.Aircraft, deep.MustCopy(*c.aircraft[id]))
	}
	return st
}

// WriteSnapshot writes a compressed snapshot of the coordinator's state
// to w.
func (c *Coordinator) WriteSnapshot(w io.Writer) error {
	return util.EncodeCompressed(w, c.Snapshot())
}

// ReadSnapshot reads a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (State, error) {
	var st State
	err := util.DecodeCompressed(r, &st)
	return st, err
}

// Checkpoint writes a snapshot to a timestamped file in dir, keeping at
// most keep of them, and returns the file's path.
func (c *Coordinator) Checkpoint(dir string, keep int) (string, error) {
	st := c.Snapshot()
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.msgpack.zst", st.Airport, st.Time.UTC().Format("20060102T150405.000")))

	if err := util.StoreObject(path, st); err != nil {
		return "", err
	}
	if keep > 0 {
		if err := util.CullObjects(dir, keep); err != nil {
			c.lg.Warn("checkpoint cull", slog.String("dir", dir), slog.Any("error", err))
		}
	}

	c.lg.Info("checkpoint written", slog.String("path", path), slog.Int("aircraft", len(st.Aircraft)))
	return path, nil
}

// LoadCheckpoint reads a checkpoint written by Checkpoint.
func LoadCheckpoint(path string) (State, time.Time, error) {
	var st State
	t, err := util.RetrieveObject(path, &st)
	return st, t, err
}
