// sim/config.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"os"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/conflict"
	"github.com/mmp/groundctl/util"
)

// SizePerformance collects the limits that apply to all aircraft of a
// size class.
type SizePerformance struct {
	Ground    conflict.Performance `json:"ground"`
	Airborne  conflict.Performance `json:"airborne"`
	TaxiSpeed float32              `json:"taxi_speed"` // m/s, used for route planning
	Radius    float32              `json:"radius"`     // meters, if telemetry doesn't provide one
}

type Config struct {
	Conflict  conflict.Config     `json:"conflict"`
	Runway    atc.RunwayCriteria  `json:"runway"`
	Sequencer atc.SequencerConfig `json:"sequencer"`

	FastTickPeriod util.Duration `json:"fast_tick_period"`
	SlowTickPeriod util.Duration `json:"slow_tick_period"`
	// A fast tick that takes longer than this is an overrun.
	FastTickBudget util.Duration `json:"fast_tick_budget"`

	// Aircraft are excluded from conflict prediction once their last
	// telemetry is older than StaleAfter and are removed entirely after
	// EvictAfter.
	StaleAfter util.Duration `json:"stale_after"`
	EvictAfter util.Duration `json:"evict_after"`

	TelemetryQueueSize int `json:"telemetry_queue_size"`

	Performance map[av.SizeClass]SizePerformance `json:"performance"`

	// Aircraft within this many meters of the next node of their taxi
	// route are taken to have reached it.
	NodeCaptureRadius float32       `json:"node_capture_radius"`
	RouteCacheSize    int           `json:"route_cache_size"`
	RouteCacheTTL     util.Duration `json:"route_cache_ttl"`
}

func DefaultConfig() Config {
	ground := conflict.DefaultGroundPerformance()
	air := conflict.DefaultAirbornePerformance()

	heavyGround := ground
	heavyGround.MaxAcceleration = 0.5
	heavyGround.MaxSpeed = 12
	heavyAir := air
	heavyAir.MaxClimbRate = 2500. / 60
	heavyAir.MaxDescentRate = 2500. / 60
	heavyAir.MaxAcceleration = 0.7

	lightAir := air
	lightAir.MaxSpeed = av.KnotsToMetersPerSecond(160)

	return Config{
		Conflict:           conflict.DefaultConfig(),
		Runway:             atc.DefaultRunwayCriteria(),
		Sequencer:          atc.DefaultSequencerConfig(),
		FastTickPeriod:     util.Duration(250 * time.Millisecond),
		SlowTickPeriod:     util.Duration(2 * time.Second),
		FastTickBudget:     util.Duration(100 * time.Millisecond),
		StaleAfter:         util.Duration(5 * time.Second),
		EvictAfter:         util.Duration(2 * time.Minute),
		TelemetryQueueSize: 1024,
		Performance: map[av.SizeClass]SizePerformance{
			av.SizeLight:  {Ground: ground, Airborne: lightAir, TaxiSpeed: 8, Radius: 8},
			av.SizeMedium: {Ground: ground, Airborne: air, TaxiSpeed: 10, Radius: 20},
			av.SizeHeavy:  {Ground: heavyGround, Airborne: heavyAir, TaxiSpeed: 10, Radius: 35},
			av.SizeSuper:  {Ground: heavyGround, Airborne: heavyAir, TaxiSpeed: 8, Radius: 40},
		},
		NodeCaptureRadius: 30,
		RouteCacheSize:    256,
		RouteCacheTTL:     util.Duration(10 * time.Minute),
	}
}

// LoadConfig reads a JSON configuration file; settings in the file
// override the defaults. Entries in "performance" replace the defaults
// for their size class.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	var e util.ErrorLogger
	e.Push(path)
	util.CheckJSON[Config](contents, &e)
	if e.HaveErrors() {
		return cfg, e.Err()
	}
	if err := util.UnmarshalJSONBytes(contents, &cfg); err != nil {
		e.Error(err)
		return cfg, e.Err()
	}
	cfg.Validate(&e)
	e.Pop()

	return cfg, e.Err()
}

func (c Config) Validate(e *util.ErrorLogger) {
	c.Conflict.Validate(e)
	c.Runway.Validate(e)
	c.Sequencer.Validate(e)

	e.Push("Coordinator")
	defer e.Pop()

	for _, p := range []struct {
		name string
		d    util.Duration
	}{{"fast_tick_period", c.FastTickPeriod}, {"slow_tick_period", c.SlowTickPeriod},
		{"fast_tick_budget", c.FastTickBudget}, {"stale_after", c.StaleAfter}, {"evict_after", c.EvictAfter}} {
		if p.d <= 0 {
			e.ErrorString("%q must be positive", p.name)
		}
	}
	if c.FastTickBudget > c.FastTickPeriod {
		e.ErrorString("\"fast_tick_budget\" %s exceeds \"fast_tick_period\" %s", c.FastTickBudget.D(),
			c.FastTickPeriod.D())
	}
	if c.EvictAfter < c.StaleAfter {
		e.ErrorString("\"evict_after\" must be at least \"stale_after\"")
	}
	if c.TelemetryQueueSize <= 0 {
		e.ErrorString("\"telemetry_queue_size\" must be positive")
	}
	if c.NodeCaptureRadius <= 0 {
		e.ErrorString("\"node_capture_radius\" must be positive")
	}
	if c.RouteCacheSize < 0 {
		e.ErrorString("\"route_cache_size\" cannot be negative")
	}

	for size := av.SizeLight; size <= av.SizeSuper; size++ {
		p, ok := c.Performance[size]
		if !ok {
			e.ErrorString("no performance limits for %q aircraft", size)
			continue
		}
		e.Push(size.String())
		if p.TaxiSpeed <= 0 {
			e.ErrorString("\"taxi_speed\" must be positive")
		}
		if p.Radius <= 0 {
			e.ErrorString("\"radius\" must be positive")
		}
		if p.Ground.MaxSpeed <= 0 || p.Airborne.MaxSpeed <= 0 {
			e.ErrorString("\"max_speed\" must be positive")
		}
		e.Pop()
	}
}

// performance returns the limits for the given size class, falling back
// to medium for sizes not in the configuration.
func (c Config) performance(size av.SizeClass) SizePerformance {
	if p, ok := c.Performance[size]; ok {
		return p
	}
	return c.Performance[av.SizeMedium]
}
