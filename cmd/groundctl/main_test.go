// cmd/groundctl/main_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"testing"

	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/sim"
)

func TestParseWind(t *testing.T) {
	for _, c := range []struct {
		s          string
		dir, speed float32
		ok         bool
	}{
		{s: "270/10", dir: 270, speed: 10, ok: true},
		{s: "90/0", dir: 90, speed: 0, ok: true},
		{s: "045/12.5", dir: 45, speed: 12.5, ok: true},
		{s: "270", ok: false},
		{s: "abc/10", ok: false},
		{s: "270/fast", ok: false},
	} {
		dir, speed, err := parseWind(c.s)
		if (err == nil) != c.ok {
			t.Errorf("%q: got error %v, expected ok %v", c.s, err, c.ok)
		} else if c.ok && (dir != c.dir || speed != c.speed) {
			t.Errorf("%q: got %v/%v, expected %v/%v", c.s, dir, speed, c.dir, c.speed)
		}
	}
}

func TestDemoSpawn(t *testing.T) {
	ap, err := loadAirport("../../resources/airports/kdemo.json")
	if err != nil {
		t.Fatal(err)
	}
	c, err := sim.NewCoordinator(ap, sim.DefaultConfig(), log.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	d := newDemoTraffic(c, 1, 10, log.NewDiscard())

	// Departures only start from unoccupied parking positions that
	// accept their size.
	for range 20 {
		d.spawnDeparture()
	}
	if len(d.aircraft) == 0 || len(d.aircraft) > len(ap.Parking) {
		t.Errorf("departures: got %d, expected 1-%d", len(d.aircraft), len(ap.Parking))
	}
	positions := make(map[[2]float32]bool)
	for _, ac := range d.aircraft {
		if !ac.departure || !ac.onGround {
			t.Errorf("%s: expected an on-ground departure", ac.id)
		}
		if positions[ac.pos] {
			t.Errorf("%s: two departures at %v", ac.id, ac.pos)
		}
		positions[ac.pos] = true
	}

	d.spawnArrival()
	for _, ac := range d.aircraft {
		if ac.departure {
			continue
		}
		if dist := math.Distance2f(ac.pos, ap.Reference); math.Abs(dist-demoSpawnRadius) > 1 {
			t.Errorf("arrival distance: got %v, expected %v", dist, demoSpawnRadius)
		}
		if ac.onGround || ac.alt == 0 {
			t.Errorf("arrival should be airborne")
		}
	}
}
