// aviation/hold_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"testing"
	"time"

	"github.com/mmp/groundctl/math"
)

func TestGenerateHoldingPattern(t *testing.T) {
	const speed = 100 // m/s
	radius := speed * 60 / math.Pi()
	legLength := float32(speed * 60)

	for _, c := range []struct {
		name    string
		inbound float32
		turn    TurnDirection
		// Expected offsets from the fix.
		wps [4][2]float32
	}{
		{"north inbound right", 0, TurnRight, [4][2]float32{
			{0, 0}, {2 * radius, 0}, {2 * radius, -legLength}, {0, -legLength}}},
		{"north inbound left", 0, TurnLeft, [4][2]float32{
			{0, 0}, {-2 * radius, 0}, {-2 * radius, -legLength}, {0, -legLength}}},
		{"east inbound right", 90, TurnRight, [4][2]float32{
			{0, 0}, {0, -2 * radius}, {-legLength, -2 * radius}, {-legLength, 0}}},
		{"closest is right", 0, TurnClosest, [4][2]float32{
			{0, 0}, {2 * radius, 0}, {2 * radius, -legLength}, {0, -legLength}}},
	} {
		t.Run(c.name, func(t *testing.T) {
			fix := [2]float32{1000, 2000}
			wps := GenerateHoldingPattern(fix, c.inbound, time.Minute, c.turn, speed)
			for i, wp := range wps {
				expected := math.Add2f(fix, c.wps[i])
				if math.Distance2f(wp.Position, expected) > 0.1 {
					t.Errorf("waypoint %d (%s) got %v, expected %v", i, wp.Name, wp.Position, expected)
				}
			}
			if wps[0].Heading != math.NormalizeHeading(c.inbound) || wps[3].Heading != wps[0].Heading {
				t.Errorf("inbound headings got %f/%f, expected %f", wps[0].Heading, wps[3].Heading, c.inbound)
			}
			if wps[1].Heading != math.OppositeHeading(c.inbound) || wps[2].Heading != wps[1].Heading {
				t.Errorf("outbound headings got %f/%f, expected %f", wps[1].Heading, wps[2].Heading,
					math.OppositeHeading(c.inbound))
			}
		})
	}
}

func TestGenerateHoldingPatternDefaults(t *testing.T) {
	wps := GenerateHoldingPattern([2]float32{}, 270, 30*time.Second, TurnRight, 0)
	expectedLeg := DefaultHoldSpeed * 30
	if d := math.Distance2f(wps[1].Position, wps[2].Position); math.Abs(d-expectedLeg) > 0.1 {
		t.Errorf("outbound leg length got %f, expected %f", d, expectedLeg)
	}
	// The pattern is a rectangle: the inbound leg is parallel and equal
	// to the outbound leg.
	if d := math.Distance2f(wps[3].Position, wps[0].Position); math.Abs(d-expectedLeg) > 0.1 {
		t.Errorf("inbound leg length got %f, expected %f", d, expectedLeg)
	}
	if d0, d1 := math.Distance2f(wps[0].Position, wps[1].Position), math.Distance2f(wps[2].Position, wps[3].Position); math.Abs(d0-d1) > 0.1 {
		t.Errorf("turn diameters differ: %f vs %f", d0, d1)
	}
}

func TestHoldPattern(t *testing.T) {
	h := Hold{Fix: "HOLDW", FixPosition: [2]float32{-12000, 3000}, InboundCourse: 90,
		TurnDirection: TurnRight, LegMinutes: 1}
	wps := h.Pattern(5000)
	// 200 knots for a minute.
	expected := KnotsToMetersPerSecond(200) * 60
	if d := math.Distance2f(wps[0].Position, wps[3].Position); math.Abs(d-expected) > 0.5 {
		t.Errorf("leg length got %f, expected %f", d, expected)
	}
	if h.Speed(10000) != 230 || h.Speed(20000) != 265 {
		t.Errorf("unexpected standard holding speeds")
	}
	h.HoldingSpeed = 180
	if h.Speed(20000) != 180 {
		t.Errorf("published holding speed not used")
	}
}

func TestHoldEntry(t *testing.T) {
	right := Hold{InboundCourse: 360, TurnDirection: TurnRight}
	left := Hold{InboundCourse: 41, TurnDirection: TurnLeft}

	for _, c := range []struct {
		h       Hold
		heading float32
		expect  HoldEntry
	}{
		{right, 0, HoldEntryDirect},
		{right, 200, HoldEntryParallel},
		{right, 150, HoldEntryTeardrop},
		{left, 41, HoldEntryDirect},
		{left, 180, HoldEntryParallel},
		{left, 250, HoldEntryTeardrop},
	} {
		if e := c.h.Entry(c.heading); e != c.expect {
			t.Errorf("%s hold inbound %.0f from heading %.0f: got %s, expected %s",
				c.h.TurnDirection, c.h.InboundCourse, c.heading, e, c.expect)
		}
	}
}
