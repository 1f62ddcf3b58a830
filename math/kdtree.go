// math/kdtree.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import (
	"slices"
)

// KDTree is a 2D KD-tree over a fixed set of points; each point is
// identified by its index in the slice passed to BuildKDTree.
type KDTree struct {
	root *kdNode
}

type kdNode struct {
	Location [2]float32
	Index    int
	Left     *kdNode
	Right    *kdNode
}

type kdPoint struct {
	p   [2]float32
	idx int
}

// BuildKDTree constructs a balanced KD-tree from a slice of points.
// The tree alternates splitting by x and y at each level.
func BuildKDTree(points [][2]float32) *KDTree {
	pts := make([]kdPoint, len(points))
	for i, p := range points {
		pts[i] = kdPoint{p: p, idx: i}
	}
	return &KDTree{root: buildKDTreeRecursive(pts, 0)}
}

func buildKDTreeRecursive(points []kdPoint, depth int) *kdNode {
	if len(points) == 0 {
		return nil
	}
	if len(points) == 1 {
		return &kdNode{Location: points[0].p, Index: points[0].idx}
	}

	// Alternate between X (depth even) and Y (depth odd)
	axis := depth % 2

	// Sort by the splitting axis and find median
	slices.SortFunc(points, func(a, b kdPoint) int {
		if a.p[axis] < b.p[axis] {
			return -1
		} else if a.p[axis] > b.p[axis] {
			return 1
		}
		return a.idx - b.idx
	})

	median := len(points) / 2

	return &kdNode{
		Location: points[median].p,
		Index:    points[median].idx,
		Left:     buildKDTreeRecursive(points[:median], depth+1),
		Right:    buildKDTreeRecursive(points[median+1:], depth+1),
	}
}

// Nearest returns the index of the point closest to p for which accept
// returns true (accept may be nil) along with its distance. If no point
// is accepted, -1 is returned.
func (t *KDTree) Nearest(p [2]float32, accept func(int) bool) (int, float32) {
	best, bestd2 := -1, Infinity
	var visit func(n *kdNode, depth int)
	visit = func(n *kdNode, depth int) {
		if n == nil {
			return
		}
		d2 := LengthSquared2f(Sub2f(p, n.Location))
		if d2 < bestd2 || (d2 == bestd2 && n.Index < best) {
			if accept == nil || accept(n.Index) {
				best, bestd2 = n.Index, d2
			}
		}

		axis := depth % 2
		delta := p[axis] - n.Location[axis]
		near, far := n.Left, n.Right
		if delta > 0 {
			near, far = far, near
		}
		visit(near, depth+1)
		if Sqr(delta) <= bestd2 {
			visit(far, depth+1)
		}
	}
	if t != nil {
		visit(t.root, 0)
	}
	if best == -1 {
		return -1, Infinity
	}
	return best, Sqrt(bestd2)
}

// WithinRadius returns the indices of all points within distance r of p,
// in increasing index order.
func (t *KDTree) WithinRadius(p [2]float32, r float32) []int {
	var result []int
	r2 := r * r
	var visit func(n *kdNode, depth int)
	visit = func(n *kdNode, depth int) {
		if n == nil {
			return
		}
		if LengthSquared2f(Sub2f(p, n.Location)) <= r2 {
			result = append(result, n.Index)
		}
		axis := depth % 2
		delta := p[axis] - n.Location[axis]
		if delta <= r {
			visit(n.Left, depth+1)
		}
		if delta >= -r {
			visit(n.Right, depth+1)
		}
	}
	if t != nil {
		visit(t.root, 0)
	}
	slices.Sort(result)
	return result
}
