// server/http.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"text/template"
	"time"

	"github.com/mmp/groundctl/sim"

	"github.com/gorilla/mux"
	"github.com/labstack/gommon/bytes"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type serverStats struct {
	Airport          string
	Uptime           time.Duration
	AllocMemory      int64
	TotalAllocMemory int64
	SysMemory        int64
	HostMemoryUsed   float64
	HostMemoryTotal  int64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int

	Coordinator sim.Stats
	Wind        sim.Wind
	Queues      int
}

func addProfilingHandlers(r *mux.Router) {
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
}

// ListenAndServe serves HTTP requests on addr until ctx is cancelled, at
// which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errch := make(chan error, 1)
	go func() {
		s.lg.Info("HTTP server listening", slog.String("addr", listener.Addr().String()))
		errch <- srv.Serve(listener)
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if serr := <-errch; !errors.Is(serr, http.ErrServerClosed) && err == nil {
			err = serr
		}
		s.Close()
		s.lg.Info("HTTP server stopped", slog.Any("error", err))
		return err
	}
}

var templateFuncs = template.FuncMap{"bytes": func(v int64) string { return bytes.Format(v) }}

var statsTemplate = template.Must(template.New("").Funcs(templateFuncs).Parse(`
<!DOCTYPE html>
<html>
<head>
<title>groundctl {{.Airport}}</title>
</head>
<style>
table {
  border-collapse: collapse;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Allocated memory: {{bytes .AllocMemory}}</li>
  <li>Total allocated memory: {{bytes .TotalAllocMemory}}</li>
  <li>System memory: {{bytes .SysMemory}}</li>
  <li>Host memory: {{printf "%.1f" .HostMemoryUsed}}% of {{bytes .HostMemoryTotal}}</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Coordinator: {{.Airport}}</h1>
<ul>
  <li>Wind: {{printf "%03.0f" .Wind.Direction}} at {{printf "%.0f" .Wind.Speed}} kt</li>
  <li>Runway queues: {{.Queues}}</li>
</ul>
{{with .Coordinator}}
<table>
  <tr><th>Aircraft</th><td>{{.Aircraft}} ({{.StaleAircraft}} stale)</td></tr>
  <tr><th>Fast ticks</th><td>{{.FastTicks}} ({{.FastOverruns}} overruns, {{.MissedFastTicks}} missed)</td></tr>
  <tr><th>Slow ticks</th><td>{{.SlowTicks}} ({{.SlowOverruns}} overruns, {{.MissedSlowTicks}} missed)</td></tr>
  <tr><th>Fast tick time</th><td>{{.LastFastTick}} (mean {{.MeanFastTick}}, max {{.MaxFastTick}})</td></tr>
  <tr><th>Load shed ticks</th><td>{{.LoadShedTicks}}</td></tr>
  <tr><th>Current alerts</th><td>{{.LastAlerts}}</td></tr>
  <tr><th>Maneuvers</th><td>{{.Maneuvers}} ({{.GoArounds}} go-arounds)</td></tr>
  <tr><th>Runway grants</th><td>{{.Grants}}</td></tr>
  <tr><th>Evictions</th><td>{{.Evictions}}</td></tr>
  <tr><th>Telemetry</th><td>{{.TelemetryApplied}} applied, {{.TelemetryDropped}} dropped</td></tr>
</table>
{{end}}
</body>
</html>
`))

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := s.c.Snapshot()
	stats := serverStats{
		Airport:          st.Airport,
		Uptime:           time.Since(s.start).Round(time.Second),
		AllocMemory:      int64(m.Alloc),
		TotalAllocMemory: int64(m.TotalAlloc),
		SysMemory:        int64(m.Sys),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		Coordinator:      st.Stats,
		Wind:             st.Wind,
		Queues:           len(st.Queues),
	}

	// CPU usage over a short sample.
	if usage, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(usage) > 0 {
		stats.CPUUsage = int(usage[0] + 0.5)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostMemoryUsed = vm.UsedPercent
		stats.HostMemoryTotal = int64(vm.Total)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statsTemplate.Execute(w, stats); err != nil {
		s.lg.Errorf("unable to execute stats template: %v", err)
	}
	s.lg.Info("served stats request", slog.String("url", r.URL.String()))
}
