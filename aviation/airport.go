// aviation/airport.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/mmp/groundctl/math"
	"github.com/mmp/groundctl/util"
)

// Airport is the static facility model: the taxi graph, runways,
// parking positions and published procedures. It is immutable once
// PostDeserialize has run and may be shared freely between goroutines.
type Airport struct {
	ICAO       string     `json:"icao"`
	Name       string     `json:"name"`
	Reference  [2]float32 `json:"reference"`   // airport reference point, meters
	AreaRadius float32    `json:"area_radius"` // aircraft farther than this from Reference are out of the area

	Nodes      []TaxiNode        `json:"nodes"`
	Edges      []TaxiEdge        `json:"edges"`
	Runways    []Runway          `json:"runways"`
	Parking    []ParkingPosition `json:"parking"`
	Procedures []Procedure       `json:"procedures"`

	nodesByName  map[string]NodeID
	runwaysByID  map[string]int
	intersecting map[string][]string
	nodeTree     *math.KDTree
}

///////////////////////////////////////////////////////////////////////////
// Runway

type Runway struct {
	ID        string     `json:"id"`
	Heading   float32    `json:"heading"` // true
	Length    float32    `json:"length"`  // meters
	Width     float32    `json:"width"`   // meters
	Surface   string     `json:"surface"`
	Lighted   bool       `json:"lighted"`
	ILS       bool       `json:"ils"`
	Threshold [2]float32 `json:"threshold"`

	HoldName string `json:"hold"` // hold-short node for departures
	ExitName string `json:"exit"` // node where arrivals vacate

	HoldNode NodeID `json:"-"`
	ExitNode NodeID `json:"-"`
}

// Polygon returns the runway's pavement outline.
func (r Runway) Polygon() [][2]float32 {
	return math.OrientedRect(r.Threshold, r.Heading, r.Length, r.Width)
}

// reciprocalHeadingTolerance is how far, in degrees, a runway's heading
// may be from exactly opposite its reciprocal's.
const reciprocalHeadingTolerance = 5

// Reciprocal returns the identifier of the opposite end of the runway
// (e.g., "27R" for "09L").
func (r Runway) Reciprocal() string {
	num := strings.TrimRight(r.ID, "LRC")
	suffix := strings.TrimPrefix(r.ID, num)
	n, err := strconv.Atoi(num)
	if err != nil {
		return ""
	}
	n = (n+18-1)%36 + 1
	switch suffix {
	case "L":
		suffix = "R"
	case "R":
		suffix = "L"
	}
	return fmt.Sprintf("%02d%s", n, suffix)
}

///////////////////////////////////////////////////////////////////////////
// Parking

type ParkingType int

const (
	ParkingGate ParkingType = iota
	ParkingRamp
	ParkingRemote
)

var parkingTypeNames = []string{"gate", "ramp", "remote"}

func (t ParkingType) String() string {
	if int(t) < 0 || int(t) >= len(parkingTypeNames) {
		return fmt.Sprintf("ParkingType(%d)", int(t))
	}
	return parkingTypeNames[t]
}

func (t ParkingType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ParkingType) UnmarshalText(b []byte) error {
	if i := slices.Index(parkingTypeNames, strings.ToLower(string(b))); i != -1 {
		*t = ParkingType(i)
		return nil
	}
	return fmt.Errorf("%q: invalid parking type", string(b))
}

type ParkingPosition struct {
	Name     string      `json:"name"`
	NodeName string      `json:"node"`
	Type     ParkingType `json:"type"`
	MaxSize  SizeClass   `json:"max_size"`
	// PushbackHeading is the heading the aircraft must face after
	// pushback; it is nil if the stand has no constraint.
	PushbackHeading *float32 `json:"pushback_heading,omitempty"`

	Node NodeID `json:"-"`
}

// Accepts reports whether an aircraft of the given size may use the
// parking position.
func (p ParkingPosition) Accepts(size SizeClass) bool {
	return size <= p.MaxSize
}

///////////////////////////////////////////////////////////////////////////
// Procedure

type ProcedureType int

const (
	SID ProcedureType = iota
	STAR
)

func (t ProcedureType) String() string {
	return [...]string{"SID", "STAR"}[t]
}

func (t ProcedureType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ProcedureType) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "SID":
		*t = SID
	case "STAR":
		*t = STAR
	default:
		return fmt.Errorf("%q: invalid procedure type", string(b))
	}
	return nil
}

type ProcedureWaypoint struct {
	Fix         string     `json:"fix"`
	Position    [2]float32 `json:"position"`
	MinAltitude float32    `json:"min_altitude,omitempty"`
	MaxAltitude float32    `json:"max_altitude,omitempty"`
	Speed       float32    `json:"speed,omitempty"` // knots
}

// Procedure is a published departure (SID) or arrival (STAR) for a
// runway. A STAR may end in a hold.
type Procedure struct {
	Name      string              `json:"name"`
	Type      ProcedureType       `json:"type"`
	Runway    string              `json:"runway"`
	Waypoints []ProcedureWaypoint `json:"waypoints"`
	Hold      *Hold               `json:"hold,omitempty"`
}

///////////////////////////////////////////////////////////////////////////
// Loading and validation

// LoadAirport reads a facility model in JSON format and validates it,
// reporting problems to e. The returned airport should not be used if
// e.HaveErrors() is true afterward.
func LoadAirport(r io.Reader, e *util.ErrorLogger) *Airport {
	contents, err := io.ReadAll(r)
	if err != nil {
		e.Error(err)
		return nil
	}

	util.CheckJSON[Airport](contents, e)
	if e.HaveErrors() {
		return nil
	}

	var ap Airport
	if err := util.UnmarshalJSONBytes(contents, &ap); err != nil {
		e.Error(err)
		return nil
	}

	ap.PostDeserialize(e)
	return &ap
}

// PostDeserialize resolves name references to node indices, computes
// derived quantities and validates the model. A disconnected taxi graph
// is reported as an error since routing assumes connectivity.
func (ap *Airport) PostDeserialize(e *util.ErrorLogger) {
	defer e.CheckDepth(e.CurrentDepth())

	e.Push("Airport " + ap.ICAO)
	defer e.Pop()

	if len(ap.Nodes) == 0 {
		e.ErrorString("no taxi nodes specified")
		return
	}

	ap.nodesByName = make(map[string]NodeID)
	for i := range ap.Nodes {
		n := &ap.Nodes[i]
		n.Edges = nil
		if n.Name == "" {
			e.ErrorString("node %d: must specify \"name\"", i)
		} else if _, ok := ap.nodesByName[n.Name]; ok {
			e.ErrorString("node %q: repeated name", n.Name)
		} else {
			ap.nodesByName[n.Name] = NodeID(i)
		}
	}

	lookup := func(name, what string) NodeID {
		if name == "" {
			e.ErrorString("must specify %q", what)
			return InvalidNode
		}
		id, ok := ap.nodesByName[name]
		if !ok {
			e.ErrorString("%s node %q: %v", what, name, ErrUnknownNode)
			return InvalidNode
		}
		return id
	}

	for i := range ap.Edges {
		edge := &ap.Edges[i]
		e.Push(fmt.Sprintf("Edge %s %s-%s", edge.Taxiway, edge.FromName, edge.ToName))

		edge.From, edge.To = lookup(edge.FromName, "from"), lookup(edge.ToName, "to")
		if edge.MaxSpeed <= 0 {
			e.ErrorString("\"max_speed\" must be positive")
		}
		if edge.ReverseMaxSpeed < 0 {
			e.ErrorString("\"reverse_max_speed\" cannot be negative")
		}
		if edge.From != InvalidNode && edge.To != InvalidNode {
			if edge.From == edge.To {
				e.ErrorString("edge cannot start and end at the same node")
			} else {
				if edge.Length == 0 {
					edge.Length = math.Distance2f(ap.Nodes[edge.From].Position, ap.Nodes[edge.To].Position)
				}
				if edge.Length <= 0 {
					e.ErrorString("edge has zero length")
				}
				ap.Nodes[edge.From].Edges = append(ap.Nodes[edge.From].Edges, EdgeID(i))
				ap.Nodes[edge.To].Edges = append(ap.Nodes[edge.To].Edges, EdgeID(i))
			}
		}

		e.Pop()
	}

	ap.runwaysByID = make(map[string]int)
	for i := range ap.Runways {
		rwy := &ap.Runways[i]
		e.Push("Runway " + rwy.ID)

		if rwy.ID == "" {
			e.ErrorString("must specify \"id\"")
		} else if _, ok := ap.runwaysByID[rwy.ID]; ok {
			e.ErrorString("runway repeated")
		} else {
			ap.runwaysByID[rwy.ID] = i
		}
		if rwy.Heading < 0 || rwy.Heading >= 360 {
			e.ErrorString("heading %.1f must be in [0,360)", rwy.Heading)
		}
		if rwy.Length <= 0 || rwy.Width <= 0 {
			e.ErrorString("\"length\" and \"width\" must be positive")
		}
		rwy.HoldNode = lookup(rwy.HoldName, "hold")
		if rwy.HoldNode != InvalidNode && ap.Nodes[rwy.HoldNode].Type != NodeRunwayHold {
			e.ErrorString("hold node %q is a %s node, not %s", rwy.HoldName, ap.Nodes[rwy.HoldNode].Type, NodeRunwayHold)
		}
		rwy.ExitNode = lookup(rwy.ExitName, "exit")

		e.Pop()
	}

	// Both ends of a runway must point in opposite directions.
	for _, rwy := range ap.Runways {
		i, ok := ap.runwaysByID[rwy.Reciprocal()]
		if !ok {
			continue
		}
		if d := math.HeadingDifference(rwy.Heading, ap.Runways[i].Heading); d < 180-reciprocalHeadingTolerance {
			e.ErrorString("runway %s heading %.1f and reciprocal %s heading %.1f differ by %.1f degrees, not 180",
				rwy.ID, rwy.Heading, ap.Runways[i].ID, ap.Runways[i].Heading, d)
		}
	}

	seenParking := make(map[string]bool)
	for i := range ap.Parking {
		p := &ap.Parking[i]
		e.Push("Parking " + p.Name)

		if seenParking[p.Name] {
			e.ErrorString("parking position repeated")
		}
		seenParking[p.Name] = true
		p.Node = lookup(p.NodeName, "parking")
		if p.PushbackHeading != nil && (*p.PushbackHeading < 0 || *p.PushbackHeading >= 360) {
			e.ErrorString("\"pushback_heading\" %.1f must be in [0,360)", *p.PushbackHeading)
		}

		e.Pop()
	}

	for i := range ap.Procedures {
		proc := &ap.Procedures[i]
		e.Push(proc.Type.String() + " " + proc.Name)

		if _, ok := ap.runwaysByID[proc.Runway]; !ok {
			e.ErrorString("runway %q: %v", proc.Runway, ErrUnknownRunway)
		}
		if len(proc.Waypoints) == 0 {
			e.ErrorString("must specify at least one waypoint")
		}
		if proc.Hold != nil && proc.Type != STAR {
			e.ErrorString("only STARs may end in a hold")
		}

		e.Pop()
	}

	if e.HaveErrors() {
		return
	}

	forward, backward := ap.unreachableNodes()
	if len(forward) > 0 {
		e.ErrorString("taxi graph is disconnected: %s unreachable from %s",
			strings.Join(forward, ", "), ap.Nodes[0].Name)
	}
	if len(backward) > 0 {
		e.ErrorString("taxi graph is disconnected: %s cannot reach %s",
			strings.Join(backward, ", "), ap.Nodes[0].Name)
	}

	pts := make([][2]float32, len(ap.Nodes))
	for i, n := range ap.Nodes {
		pts[i] = n.Position
	}
	ap.nodeTree = math.BuildKDTree(pts)

	if ap.AreaRadius <= 0 {
		// Default to twice the distance to the farthest node.
		for _, n := range ap.Nodes {
			ap.AreaRadius = max(ap.AreaRadius, 2*math.Distance2f(ap.Reference, n.Position))
		}
	}

	ap.intersecting = make(map[string][]string)
	for i, a := range ap.Runways {
		for j, b := range ap.Runways {
			if i != j && math.PolygonsOverlap(a.Polygon(), b.Polygon()) {
				ap.intersecting[a.ID] = append(ap.intersecting[a.ID], b.ID)
			}
		}
		slices.Sort(ap.intersecting[a.ID])
	}
}

// unreachableNodes returns the names of the nodes that can't be reached
// from node 0 along legal traversal directions (forward) and of those
// from which node 0 can't be reached (backward).
func (ap *Airport) unreachableNodes() (forward, backward []string) {
	search := func(next func(n NodeID, e *TaxiEdge) bool) []string {
		seen := make([]bool, len(ap.Nodes))
		stack := []NodeID{0}
		seen[0] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, eid := range ap.Nodes[n].Edges {
				e := &ap.Edges[eid]
				if o := e.Other(n); !seen[o] && next(n, e) {
					seen[o] = true
					stack = append(stack, o)
				}
			}
		}

		var unreached []string
		for i, s := range seen {
			if !s {
				unreached = append(unreached, ap.Nodes[i].Name)
			}
		}
		return unreached
	}

	forward = search(func(n NodeID, e *TaxiEdge) bool { return e.CanTraverse(n) })
	backward = search(func(n NodeID, e *TaxiEdge) bool { return e.CanTraverse(e.Other(n)) })
	return
}

///////////////////////////////////////////////////////////////////////////
// Queries

func (ap *Airport) ValidNode(id NodeID) bool {
	return id >= 0 && int(id) < len(ap.Nodes)
}

func (ap *Airport) Node(id NodeID) *TaxiNode {
	return &ap.Nodes[id]
}

func (ap *Airport) Edge(id EdgeID) *TaxiEdge {
	return &ap.Edges[id]
}

func (ap *Airport) NodeByName(name string) (NodeID, bool) {
	id, ok := ap.nodesByName[name]
	return id, ok
}

// NearestNode returns the taxi node closest to p for which accept
// returns true (any node if accept is nil), and the distance to it.
func (ap *Airport) NearestNode(p [2]float32, accept func(NodeID, *TaxiNode) bool) (NodeID, float32) {
	var filter func(int) bool
	if accept != nil {
		filter = func(i int) bool { return accept(NodeID(i), &ap.Nodes[i]) }
	}
	idx, d := ap.nodeTree.Nearest(p, filter)
	if idx == -1 {
		return InvalidNode, d
	}
	return NodeID(idx), d
}

func (ap *Airport) Runway(id string) (*Runway, bool) {
	if i, ok := ap.runwaysByID[id]; ok {
		return &ap.Runways[i], true
	}
	return nil, false
}

// RunwayIDs returns the identifiers of all runways, sorted.
func (ap *Airport) RunwayIDs() []string {
	return util.SortedMapKeys(ap.runwaysByID)
}

// IntersectingRunways returns the runways whose pavement overlaps the
// given runway's, including its reciprocal.
func (ap *Airport) IntersectingRunways(id string) []string {
	return ap.intersecting[id]
}

func (ap *Airport) ProceduresFor(runway string, t ProcedureType) []Procedure {
	return util.FilterSlice(ap.Procedures, func(p Procedure) bool {
		return p.Runway == runway && p.Type == t
	})
}

// AvailableParking returns the parking positions that accept the size
// and aren't in occupied, best fit first: smallest adequate maximum size,
// then gates before ramps before remote stands, then by name.
func (ap *Airport) AvailableParking(size SizeClass, occupied map[string]bool) ([]*ParkingPosition, error) {
	var avail []*ParkingPosition
	for i := range ap.Parking {
		if p := &ap.Parking[i]; p.Accepts(size) && !occupied[p.Name] {
			avail = append(avail, p)
		}
	}
	if len(avail) == 0 {
		return nil, ErrNoParking
	}
	slices.SortFunc(avail, func(a, b *ParkingPosition) int {
		if c := cmp.Compare(a.MaxSize, b.MaxSize); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return avail, nil
}

// InArea reports whether p is within the airport's area of interest.
func (ap *Airport) InArea(p [2]float32) bool {
	return math.Distance2f(p, ap.Reference) <= ap.AreaRadius
}
