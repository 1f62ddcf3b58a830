// cmd/groundctl/main.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// groundctl runs the ground movement coordinator for a single airport and
// serves its HTTP interface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/server"
	"github.com/mmp/groundctl/sim"
	"github.com/mmp/groundctl/util"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	airportFile     = flag.String("airport", "resources/airports/kdemo.json", "airport definition JSON file")
	configFile      = flag.String("config", "", "coordinator configuration JSON file")
	listenAddr      = flag.String("listen", ":8080", "address for the HTTP server")
	logLevel        = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir          = flag.String("logdir", "", "log file directory")
	wind            = flag.String("wind", "", "initial wind as direction/speed in knots, e.g. 270/10")
	checkpointDir   = flag.String("checkpoint", "", "directory for periodic state checkpoints")
	checkpointInt   = flag.Duration("checkpoint-interval", time.Minute, "time between checkpoints")
	checkpointMax   = flag.Int("checkpoint-keep", 10, "number of checkpoints to keep")
	demo            = flag.Bool("demo", false, "generate simulated traffic")
	demoMaxAircraft = flag.Int("demo-aircraft", 8, "maximum number of simulated aircraft")
	seed            = flag.Int64("seed", 0, "random seed for simulated traffic; 0 uses the current time")
	lint            = flag.Bool("lint", false, "check the airport and configuration files and exit")
)

// Environment variables (possibly from a .env file) that provide flag
// defaults; flags given on the command line take precedence.
var envFlags = map[string]string{
	"GROUNDCTL_AIRPORT":        "airport",
	"GROUNDCTL_CONFIG":         "config",
	"GROUNDCTL_LISTEN":         "listen",
	"GROUNDCTL_LOGLEVEL":       "loglevel",
	"GROUNDCTL_LOGDIR":         "logdir",
	"GROUNDCTL_WIND":           "wind",
	"GROUNDCTL_CHECKPOINT_DIR": "checkpoint",
}

func applyEnvDefaults() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf(".env: %w", err)
	}
	for _, key := range util.SortedMapKeys(envFlags) {
		if v, ok := os.LookupEnv(key); ok {
			if err := flag.Set(envFlags[key], v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

func main() {
	if err := applyEnvDefaults(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	flag.Parse()

	lg := log.New(*logLevel, *logDir)

	ap, err := loadAirport(*airportFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *airportFile, err)
		os.Exit(1)
	}

	cfg := sim.DefaultConfig()
	if *configFile != "" {
		if cfg, err = sim.LoadConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *configFile, err)
			os.Exit(1)
		}
	}

	if *lint {
		fmt.Printf("%s (%s): %d nodes, %d edges, runways %s, %d parking positions, %d procedures\n",
			ap.ICAO, ap.Name, len(ap.Nodes), len(ap.Edges), strings.Join(ap.RunwayIDs(), " "),
			len(ap.Parking), len(ap.Procedures))
		os.Exit(0)
	}

	c, err := sim.NewCoordinator(ap, cfg, lg)
	if err != nil {
		lg.Errorf("%v", err)
		os.Exit(1)
	}
	defer c.Close()

	if *wind != "" {
		dir, speed, err := parseWind(*wind)
		if err == nil {
			err = c.SetWind(dir, speed)
		}
		if err != nil {
			lg.Errorf("-wind: %v", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(c, lg)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.Run(ctx) })
	eg.Go(func() error { return srv.ListenAndServe(ctx, *listenAddr) })
	if *demo {
		s := *seed
		if s == 0 {
			s = time.Now().UnixNano()
		}
		lg.Info("generating demo traffic", slog.Int64("seed", s), slog.Int("max_aircraft", *demoMaxAircraft))
		d := newDemoTraffic(c, s, *demoMaxAircraft, lg)
		eg.Go(func() error { return d.Run(ctx) })
	}
	if *checkpointDir != "" {
		eg.Go(func() error { return checkpointLoop(ctx, c, lg) })
	}

	if err := eg.Wait(); err != nil {
		lg.Errorf("%v", err)
	}

	if *checkpointDir != "" {
		if path, err := c.Checkpoint(*checkpointDir, *checkpointMax); err != nil {
			lg.Errorf("final checkpoint: %v", err)
		} else {
			lg.Info("wrote final checkpoint", slog.String("path", path))
		}
	}
	lg.Info("exiting", slog.Any("stats", c.Stats()))
}

func loadAirport(fn string) (*av.Airport, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var e util.ErrorLogger
	ap := av.LoadAirport(f, &e)
	if e.HaveErrors() {
		return nil, e.Err()
	}
	return ap, nil
}

func parseWind(s string) (dir, speed float32, err error) {
	d, sp, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%q: expected direction/speed", s)
	}
	dv, err := strconv.ParseFloat(d, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	sv, err := strconv.ParseFloat(sp, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: %w", s, err)
	}
	return float32(dv), float32(sv), nil
}

func checkpointLoop(ctx context.Context, c *sim.Coordinator, lg *log.Logger) error {
	if err := os.MkdirAll(*checkpointDir, 0o755); err != nil {
		return err
	}

	ticker := time.NewTicker(*checkpointInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if path, err := c.Checkpoint(*checkpointDir, *checkpointMax); err != nil {
				lg.Warn("checkpoint failed", slog.Any("error", err))
			} else {
				lg.Debug("checkpoint", slog.String("path", path))
			}
		}
	}
}
