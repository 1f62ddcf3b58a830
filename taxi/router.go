// taxi/router.go
// Copyright(c) 2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package taxi finds minimum-time routes through an airport's taxi graph.
package taxi

import (
	"container/heap"
	"log/slog"
	"slices"
	"time"

	av "github.com/mmp/groundctl/aviation"
	"github.com/mmp/groundctl/log"
	"github.com/mmp/groundctl/math"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Route is the result of a routing query. If Success is false, no path
// exists and the remaining fields are empty.
type Route struct {
	Success  bool        `json:"success"`
	Nodes    []av.NodeID `json:"nodes"`
	Edges    []av.EdgeID `json:"edges"`
	Distance float32     `json:"distance"` // meters
	Time     float32     `json:"time"`     // seconds
}

// Waypoints returns the positions of the route's nodes.
func (r Route) Waypoints(ap *av.Airport) [][2]float32 {
	wps := make([][2]float32, len(r.Nodes))
	for i, n := range r.Nodes {
		wps[i] = ap.Node(n).Position
	}
	return wps
}

// NodeNames returns the names of the route's nodes, mostly for logging.
func (r Route) NodeNames(ap *av.Airport) []string {
	names := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		names[i] = ap.Node(n).Name
	}
	return names
}

type routeKey struct {
	start, end av.NodeID
	maxSpeed   float32
}

// Router answers routing queries for a single airport. It is safe for
// concurrent use: the airport is immutable and the route cache is
// internally synchronized.
type Router struct {
	ap    *av.Airport
	cache *expirable.LRU[routeKey, Route]
	lg    *log.Logger

	// For the A* heuristic: the fastest speed allowed anywhere and the
	// smallest ratio of edge length to straight-line distance.
	maxEdgeSpeed float32
	lengthRatio  float32
}

// NewRouter returns a Router for ap; up to cacheSize routes are cached
// for ttl. A cacheSize of 0 disables caching.
func NewRouter(ap *av.Airport, cacheSize int, ttl time.Duration, lg *log.Logger) *Router {
	r := &Router{ap: ap, lg: lg, lengthRatio: 1}
	if cacheSize > 0 {
		r.cache = expirable.NewLRU[routeKey, Route](cacheSize, nil, ttl)
	}

	for i := range ap.Edges {
		e := &ap.Edges[i]
		r.maxEdgeSpeed = max(r.maxEdgeSpeed, e.MaxSpeed, e.ReverseMaxSpeed)
		if d := math.Distance2f(ap.Node(e.From).Position, ap.Node(e.To).Position); d > 0 {
			r.lengthRatio = min(r.lengthRatio, e.Length/d)
		}
	}
	return r
}

func (r *Router) Airport() *av.Airport { return r.ap }

// FindPath returns the minimum-time route from start to end for an
// aircraft that taxis no faster than maxSpeed (m/s; no limit if not
// positive) using A* search.
func (r *Router) FindPath(start, end av.NodeID, maxSpeed float32) Route {
	if !r.ap.ValidNode(start) || !r.ap.ValidNode(end) {
		r.lg.Info("route request for invalid node", slog.Int("start", int(start)), slog.Int("end", int(end)))
		return Route{}
	}

	key := routeKey{start: start, end: end, maxSpeed: max(maxSpeed, 0)}
	if r.cache != nil {
		if rt, ok := r.cache.Get(key); ok {
			return rt.clone()
		}
	}

	vmax := r.maxEdgeSpeed
	if maxSpeed > 0 {
		vmax = min(vmax, maxSpeed)
	}
	goal := r.ap.Node(end).Position
	h := func(n av.NodeID) float32 {
		if vmax <= 0 {
			return 0
		}
		return r.lengthRatio * math.Distance2f(r.ap.Node(n).Position, goal) / vmax
	}

	t := r.search(start, maxSpeed, h, func(n av.NodeID) bool { return n == end })
	rt := t.Route(end)

	if r.cache != nil {
		r.cache.Add(key, rt.clone())
	}
	if !rt.Success {
		r.lg.Info("no taxi route", slog.String("start", r.ap.Node(start).Name),
			slog.String("end", r.ap.Node(end).Name))
	}
	return rt
}

// FindPathToAny returns the minimum-time route from start to whichever
// of ends can be reached soonest.
func (r *Router) FindPathToAny(start av.NodeID, ends []av.NodeID, maxSpeed float32) Route {
	if !r.ap.ValidNode(start) {
		return Route{}
	}
	goals := make(map[av.NodeID]bool)
	for _, e := range ends {
		if r.ap.ValidNode(e) {
			goals[e] = true
		}
	}
	if len(goals) == 0 {
		return Route{}
	}

	var found av.NodeID = av.InvalidNode
	t := r.search(start, maxSpeed, nil, func(n av.NodeID) bool {
		if goals[n] {
			found = n
			return true
		}
		return false
	})
	if found == av.InvalidNode {
		return Route{}
	}
	// found was settled, so every node on its predecessor chain was too.
	rt := t.Route(found)
	if r.cache != nil {
		r.cache.Add(routeKey{start: start, end: found, maxSpeed: max(maxSpeed, 0)}, rt.clone())
	}
	return rt
}

// Dijkstra computes minimum-time routes from start to every reachable
// node.
func (r *Router) Dijkstra(start av.NodeID, maxSpeed float32) *PathTree {
	if !r.ap.ValidNode(start) {
		return &PathTree{ap: r.ap, start: av.InvalidNode}
	}
	return r.search(start, maxSpeed, nil, nil)
}

// PathTree holds the result of a single-source search.
type PathTree struct {
	ap       *av.Airport
	start    av.NodeID
	maxSpeed float32
	time     []float32
	prevEdge []av.EdgeID
}

// Time returns the minimum taxi time to n, or math.Infinity if n can't
// be reached.
func (t *PathTree) Time(n av.NodeID) float32 {
	if t.start == av.InvalidNode || !t.ap.ValidNode(n) {
		return math.Infinity
	}
	return t.time[n]
}

// Route returns the route to end.
func (t *PathTree) Route(end av.NodeID) Route {
	if math.IsInf(t.Time(end)) {
		return Route{}
	}

	rt := Route{Success: true, Time: t.time[end]}
	for n := end; n != t.start; {
		eid := t.prevEdge[n]
		edge := t.ap.Edge(eid)
		rt.Edges = append(rt.Edges, eid)
		rt.Nodes = append(rt.Nodes, n)
		rt.Distance += edge.Length
		n = edge.Other(n)
	}
	rt.Nodes = append(rt.Nodes, t.start)
	slices.Reverse(rt.Nodes)
	slices.Reverse(rt.Edges)
	return rt
}

// search runs A* (or Dijkstra, if h is nil) from start until done
// returns true for a settled node or the queue empties.
func (r *Router) search(start av.NodeID, maxSpeed float32, h func(av.NodeID) float32,
	done func(av.NodeID) bool) *PathTree {
	n := len(r.ap.Nodes)
	t := &PathTree{
		ap:       r.ap,
		start:    start,
		maxSpeed: maxSpeed,
		time:     make([]float32, n),
		prevEdge: make([]av.EdgeID, n),
	}
	for i := range t.time {
		t.time[i] = math.Infinity
		t.prevEdge[i] = -1
	}
	settled := make([]bool, n)

	estimate := func(id av.NodeID) float32 {
		if h == nil {
			return 0
		}
		return h(id)
	}

	t.time[start] = 0
	pq := &nodeQueue{{node: start, f: estimate(start)}}
	for pq.Len() > 0 {
		item := heap.Pop(pq).(queueItem)
		if settled[item.node] {
			continue
		}
		settled[item.node] = true
		if done != nil && done(item.node) {
			break
		}

		for _, eid := range r.ap.Node(item.node).Edges {
			edge := r.ap.Edge(eid)
			dt := edge.TraversalTime(item.node, maxSpeed)
			if math.IsInf(dt) {
				continue
			}
			next := edge.Other(item.node)
			if settled[next] {
				continue
			}
			if g := t.time[item.node] + dt; g < t.time[next] {
				t.time[next] = g
				t.prevEdge[next] = eid
				heap.Push(pq, queueItem{node: next, f: g + estimate(next)})
			}
		}
	}
	return t
}

func (r Route) clone() Route {
	r.Nodes = slices.Clone(r.Nodes)
	r.Edges = slices.Clone(r.Edges)
	return r
}

///////////////////////////////////////////////////////////////////////////
// nodeQueue

type queueItem struct {
	node av.NodeID
	f    float32
}

// nodeQueue is a min-heap ordered by estimated total time, with ties
// broken by node index so that results are deterministic.
type nodeQueue []queueItem

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].node < q[j].node
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(queueItem)) }
func (q *nodeQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}
