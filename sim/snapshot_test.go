// sim/snapshot_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/mmp/groundctl/atc"
)

func TestSnapshot(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	if err := c.SetWind(270, 8); err != nil {
		t.Fatal(err)
	}

	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))
	apply(t, c, airborne("UAL1", [2]float32{8000, 0}, 270, 80, 3000, *now))
	if _, err := c.RequestDeparture("DAL1", ""); err != nil {
		t.Fatal(err)
	}
	c.SlowTick(*now)

	st := c.Snapshot()
	if st.Airport != "KDEMO" {
		t.Errorf("airport: got %q, expected KDEMO", st.Airport)
	}
	if len(st.Aircraft) != 2 || st.Aircraft[0].ID != "DAL1" || st.Aircraft[1].ID != "UAL1" {
		t.Fatalf("aircraft: got %d, expected DAL1 and UAL1", len(st.Aircraft))
	}
	if len(st.Queues) != 1 || st.Queues[0].Runway != "27" || len(st.Queues[0].Entries) != 1 ||
		st.Queues[0].Entries[0].Operation != atc.Departure {
		t.Errorf("queues: got %+v, expected a departure queue for 27", st.Queues)
	}
	if st.Wind.Direction != 270 || st.Wind.Speed != 8 {
		t.Errorf("wind: got %+v", st.Wind)
	}

	// The snapshot is independent of the coordinator's state.
	st.Aircraft[0].Route.Nodes[0] = -1
	st.Aircraft[0].Clearance.State = atc.ParkingArrived
	ac, _ := c.Aircraft("DAL1")
	if ac.Route.Nodes[0] == -1 || ac.Clearance.State != atc.Idle {
		t.Errorf("modifying the snapshot changed the coordinator's aircraft")
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))
	if _, err := c.RequestDeparture("DAL1", "09"); err != nil {
		t.Fatal(err)
	}
	transition(t, c, "DAL1", atc.RequestPushback)

	var b bytes.Buffer
	if err := c.WriteSnapshot(&b); err != nil {
		t.Fatal(err)
	}
	st, err := ReadSnapshot(&b)
	if err != nil {
		t.Fatal(err)
	}

	if len(st.Aircraft) != 1 {
		t.Fatalf("aircraft: got %d, expected 1", len(st.Aircraft))
	}
	ac := st.Aircraft[0]
	if ac.ID != "DAL1" || ac.Clearance.State != atc.PushbackRequested || ac.Runway != "09" {
		t.Errorf("got %s %s %s, expected DAL1 PushbackRequested 09", ac.ID, ac.Clearance.State, ac.Runway)
	}
	orig, _ := c.Aircraft("DAL1")
	if ac.Route == nil || len(ac.Route.Nodes) != len(orig.Route.Nodes) {
		t.Errorf("route not preserved")
	}
}

func TestCheckpoint(t *testing.T) {
	c, now := makeTestCoordinator(t, DefaultConfig())
	apply(t, c, ground("DAL1", [2]float32{-150, 600}, 180, 0, *now))

	dir := t.TempDir()
	var last string
	for range 3 {
		path, err := c.Checkpoint(dir, 2)
		if err != nil {
			t.Fatal(err)
		}
		last = path
		*now = now.Add(time.Second)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("checkpoints: got %d, expected 2", len(entries))
	}

	st, _, err := LoadCheckpoint(last)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Aircraft) != 1 || st.Aircraft[0].ID != "DAL1" {
		t.Errorf("checkpoint aircraft: got %d", len(st.Aircraft))
	}
}
