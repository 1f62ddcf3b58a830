// aviation/taxiway.go
// Copyright(c) 2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"fmt"
	"strings"

	"github.com/mmp/groundctl/math"
)

// NodeID and EdgeID index the Airport's Nodes and Edges slices; the
// taxi graph is stored as an arena so that the facility model has no
// internal pointers.
type NodeID int
type EdgeID int

const InvalidNode NodeID = -1

type NodeType int

const (
	NodeIntersection NodeType = iota
	NodeRunwayHold
	NodeParking
	NodeRunwayExit
)

var nodeTypeNames = []string{"intersection", "runway_hold", "parking", "runway_exit"}

func (t NodeType) String() string {
	if int(t) < 0 || int(t) >= len(nodeTypeNames) {
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
	return nodeTypeNames[t]
}

func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *NodeType) UnmarshalText(b []byte) error {
	for i, n := range nodeTypeNames {
		if strings.EqualFold(string(b), n) {
			*t = NodeType(i)
			return nil
		}
	}
	return fmt.Errorf("%q: invalid node type", string(b))
}

type TaxiNode struct {
	Name     string     `json:"name"`
	Position [2]float32 `json:"position"` // meters
	Type     NodeType   `json:"type"`

	// Edges holds all edges incident on the node; it is initialized in
	// PostDeserialize.
	Edges []EdgeID `json:"-"`
}

// TaxiEdge is a taxiway segment between two nodes. Edges may be
// traversed in both directions unless OneWay is set; the speed limit may
// differ by direction.
type TaxiEdge struct {
	Taxiway         string  `json:"taxiway"`
	FromName        string  `json:"from"`
	ToName          string  `json:"to"`
	Length          float32 `json:"length,omitempty"`            // meters; computed from the node positions if 0
	MaxSpeed        float32 `json:"max_speed"`                   // m/s, From to To
	ReverseMaxSpeed float32 `json:"reverse_max_speed,omitempty"` // m/s, To to From; 0 means same as MaxSpeed
	OneWay          bool    `json:"one_way,omitempty"`

	From NodeID `json:"-"`
	To   NodeID `json:"-"`
}

// Other returns the endpoint of the edge that isn't n.
func (e *TaxiEdge) Other(n NodeID) NodeID {
	if n == e.From {
		return e.To
	}
	return e.From
}

// CanTraverse reports whether the edge may be entered from node n.
func (e *TaxiEdge) CanTraverse(from NodeID) bool {
	if from == e.From {
		return true
	}
	return from == e.To && !e.OneWay
}

// SpeedFrom returns the speed limit for traversing the edge starting at
// node from.
func (e *TaxiEdge) SpeedFrom(from NodeID) float32 {
	if from == e.To && e.ReverseMaxSpeed > 0 {
		return e.ReverseMaxSpeed
	}
	return e.MaxSpeed
}

// TraversalTime returns the time in seconds to traverse the edge
// starting at from, moving no faster than maxSpeed (if positive). It
// returns math.Infinity if the edge can't be traversed in that direction.
func (e *TaxiEdge) TraversalTime(from NodeID, maxSpeed float32) float32 {
	if !e.CanTraverse(from) {
		return math.Infinity
	}
	s := e.SpeedFrom(from)
	if maxSpeed > 0 {
		s = min(s, maxSpeed)
	}
	if s <= 0 {
		return math.Infinity
	}
	return e.Length / s
}
