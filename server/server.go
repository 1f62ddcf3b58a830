// server/server.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package server provides the HTTP interface to a sim.Coordinator:
// telemetry ingestion, clearance and planning requests, and event
// subscriptions.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mmp/groundctl/atc"
	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/sim"
	"github.com/mmp/groundctl/util"

	"github.com/gorilla/mux"
)

// Maximum size of a request body.
const maxRequestBytes = 4 << 20

type Server struct {
	c      *sim.Coordinator
	router *mux.Router
	lg     *log.Logger
	start  time.Time

	mu            sync.Mutex
	subscriptions map[string]*sim.EventsSubscription
	nextSub       int
}

func NewServer(c *sim.Coordinator, lg *log.Logger) *Server {
	s := &Server{
		c:             c,
		lg:            lg,
		start:         time.Now(),
		subscriptions: make(map[string]*sim.EventsSubscription),
	}

	r := mux.NewRouter()
	r.HandleFunc("/sup", s.statusHandler).Methods("GET")
	addProfilingHandlers(r)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)

	api.HandleFunc("/telemetry", s.postTelemetry).Methods("POST")
	api.HandleFunc("/wind", s.putWind).Methods("PUT")
	api.HandleFunc("/route", s.getRoute).Methods("GET")
	api.HandleFunc("/state", s.getState).Methods("GET")
	api.HandleFunc("/stats", s.getStats).Methods("GET")
	api.HandleFunc("/snapshot", s.getSnapshot).Methods("GET")

	api.HandleFunc("/aircraft", s.listAircraft).Methods("GET")
	api.HandleFunc("/aircraft/{id}", s.getAircraft).Methods("GET")
	api.HandleFunc("/aircraft/{id}", s.deleteAircraft).Methods("DELETE")
	api.HandleFunc("/aircraft/{id}/dump", s.dumpAircraft).Methods("GET")
	api.HandleFunc("/aircraft/{id}/events/{event}", s.postClearanceEvent).Methods("POST")
	api.HandleFunc("/aircraft/{id}/departure", s.postDeparture).Methods("POST")
	api.HandleFunc("/aircraft/{id}/arrival", s.postArrival).Methods("POST")
	api.HandleFunc("/aircraft/{id}/parking", s.postParking).Methods("POST")
	api.HandleFunc("/aircraft/{id}/hold", s.postHold).Methods("POST")

	api.HandleFunc("/subscriptions", s.postSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}/events", s.getSubscriptionEvents).Methods("GET")
	api.HandleFunc("/subscriptions/{id}", s.deleteSubscription).Methods("DELETE")

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases all event subscriptions.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.subscriptions {
		sub.Unsubscribe()
		delete(s.subscriptions, id)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.lg.Debug("request", slog.String("method", r.Method), slog.String("url", r.URL.String()),
			slog.String("remote", r.RemoteAddr), slog.Duration("elapsed", time.Since(start)))
	})
}

///////////////////////////////////////////////////////////////////////////
// Responses

type errorResponse struct {
	Error  string            `json:"error"`
	Reason sim.FailureReason `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Reason: sim.FailureFor(err)})
}

// writeFailure reports an error from one of the coordinator's request
// methods with a status code that matches its reason.
func writeFailure(w http.ResponseWriter, err error) {
	switch sim.FailureFor(err) {
	case sim.FailureUnknownAircraft:
		writeError(w, http.StatusNotFound, err)
	case sim.FailureNoPath, sim.FailureNoRunway, sim.FailureNoParking, sim.FailureStaleTelemetry:
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, out *T) bool {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return false
	}
	if err := util.UnmarshalJSONBytes(b, out); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func aircraftID(r *http.Request) av.AircraftID {
	return av.AircraftID(mux.Vars(r)["id"])
}

///////////////////////////////////////////////////////////////////////////
// Telemetry and wind

type telemetryResponse struct {
	Accepted int      `json:"accepted"`
	Errors   []string `json:"errors,omitempty"`
}

// postTelemetry accepts a single telemetry record or an array of them.
// Records are queued for the coordinator's ingestion task unless the
// "sync" query parameter is set, in which case they are applied before
// the response is sent.
func (s *Server) postTelemetry(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}

	var records []sim.Telemetry
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &records); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		var t sim.Telemetry
		if err := json.Unmarshal(raw, &t); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		records = []sim.Telemetry{t}
	}

	applySync, _ := strconv.ParseBool(r.URL.Query().Get("sync"))
	var resp telemetryResponse
	full := false
	for _, t := range records {
		var err error
		if applySync {
			err = s.c.ApplyTelemetry(t)
		} else {
			err = s.c.Ingest(t)
		}
		if err != nil {
			full = full || errors.Is(err, sim.ErrTelemetryQueueFull)
			resp.Errors = append(resp.Errors, err.Error())
		} else {
			resp.Accepted++
		}
	}

	switch {
	case full:
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case resp.Accepted == 0 && len(records) > 0:
		writeJSON(w, http.StatusBadRequest, resp)
	case applySync:
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func (s *Server) putWind(w http.ResponseWriter, r *http.Request) {
	var wind sim.Wind
	if !decodeBody(w, r, &wind) {
		return
	}
	if err := s.c.SetWind(wind.Direction, wind.Speed); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.c.Wind())
}

///////////////////////////////////////////////////////////////////////////
// Queries

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var maxSpeed float64
	if ms := q.Get("max_speed"); ms != "" {
		var err error
		if maxSpeed, err = strconv.ParseFloat(ms, 32); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("max_speed: %w", err))
			return
		}
	}

	rt, err := s.c.FindRoute(q.Get("from"), q.Get("to"), float32(maxSpeed))
	if err != nil {
		if errors.Is(err, av.ErrUnknownNode) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeFailure(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Route     any          `json:"route"`
		Nodes     []string     `json:"nodes"`
		Waypoints [][2]float32 `json:"waypoints"`
	}{rt, rt.NodeNames(s.c.Airport()), rt.Waypoints(s.c.Airport())})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.c.Snapshot())
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.c.Stats())
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	var b bytes.Buffer
	if err := s.c.WriteSnapshot(&b); err != nil {
		s.lg.Errorf("snapshot: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="snapshot.msgpack.zst"`)
	w.Write(b.Bytes())
}

func (s *Server) listAircraft(w http.ResponseWriter, r *http.Request) {
	st := s.c.Snapshot()
	writeJSON(w, http.StatusOK, st.Aircraft)
}

func (s *Server) getAircraft(w http.ResponseWriter, r *http.Request) {
	id := aircraftID(r)
	ac, ok := s.c.Aircraft(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", id, sim.ErrUnknownAircraft))
		return
	}
	writeJSON(w, http.StatusOK, ac)
}

func (s *Server) deleteAircraft(w http.ResponseWriter, r *http.Request) {
	id := aircraftID(r)
	if !s.c.Disconnect(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", id, sim.ErrUnknownAircraft))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dumpAircraft(w http.ResponseWriter, r *http.Request) {
	dump, err := s.c.Dump(aircraftID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, dump)
}

///////////////////////////////////////////////////////////////////////////
// Clearances and planning

func (s *Server) postClearanceEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := atc.ParseClearanceEvent(mux.Vars(r)["event"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result := s.c.RequestTransition(aircraftID(r), ev)
	switch {
	case result.Accepted:
		writeJSON(w, http.StatusOK, result)
	case result.Reason == atc.RejectUnknownAircraft:
		writeJSON(w, http.StatusNotFound, result)
	default:
		writeJSON(w, http.StatusConflict, result)
	}
}

func (s *Server) postDeparture(w http.ResponseWriter, r *http.Request) {
	plan, err := s.c.RequestDeparture(aircraftID(r), r.URL.Query().Get("runway"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) postArrival(w http.ResponseWriter, r *http.Request) {
	plan, err := s.c.RequestArrival(aircraftID(r), r.URL.Query().Get("runway"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) postParking(w http.ResponseWriter, r *http.Request) {
	plan, err := s.c.PlanTaxiToParking(aircraftID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type holdRequest struct {
	Fix           [2]float32       `json:"fix"`
	InboundCourse float32          `json:"inbound_course"`
	LegTime       util.Duration    `json:"leg_time"`
	Turn          av.TurnDirection `json:"turn"`
}

func (s *Server) postHold(w http.ResponseWriter, r *http.Request) {
	req := holdRequest{LegTime: util.Duration(time.Minute)}
	if !decodeBody(w, r, &req) {
		return
	}

	pattern, err := s.c.HoldAircraft(aircraftID(r), req.Fix, req.InboundCourse, req.LegTime.D(), req.Turn)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

///////////////////////////////////////////////////////////////////////////
// Event subscriptions

func (s *Server) postSubscription(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.nextSub++
	id := strconv.Itoa(s.nextSub)
	s.subscriptions[id] = s.c.Subscribe()
	s.mu.Unlock()

	s.lg.Info("event subscription", slog.String("id", id), slog.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) subscription(w http.ResponseWriter, r *http.Request) (string, *sim.EventsSubscription, bool) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: no such subscription", id))
	}
	return id, sub, ok
}

func (s *Server) getSubscriptionEvents(w http.ResponseWriter, r *http.Request) {
	if _, sub, ok := s.subscription(w, r); ok {
		events := sub.Get()
		if events == nil {
			events = []sim.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func (s *Server) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if id, sub, ok := s.subscription(w, r); ok {
		sub.Unsubscribe()

		s.mu.Lock()
		delete(s.subscriptions, id)
		s.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}
}
