package treemap

import (
	"fmt"
	"sort"
)

// UnionFind implements a disjoint-set data structure with path compression
// and union by size over the ids 0..n-1.
type UnionFind struct {
	parent []int
	size   []int
}

// NewUnionFind creates a UnionFind with n singleton sets.
func NewUnionFind(n int) *UnionFind {
	parent := make([]int, n)
	size := make([]int, n)
	for i := range parent {
		parent[i] = -1 // -1 means "is a root"
		size[i] = 1
	}
	return &UnionFind{parent: parent, size: size}
}

// Find returns the root of the set containing x, with path compression.
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != -1 {
		root = uf.parent[root]
	}
	for uf.parent[x] != -1 {
		x, uf.parent[x] = uf.parent[x], root
	}
	return root
}

// Union merges the sets containing x and y by attaching the smaller tree
// under the larger. Returns the new root.
func (uf *UnionFind) Union(x, y int) int {
	rootX := uf.Find(x)
	rootY := uf.Find(y)
	if rootX == rootY {
		return rootX
	}
	if uf.size[rootX] < uf.size[rootY] {
		rootX, rootY = rootY, rootX
	}
	uf.parent[rootY] = rootX
	uf.size[rootX] += uf.size[rootY]
	return rootX
}

// Size returns the number of elements in the set containing x.
func (uf *UnionFind) Size(x int) int { return uf.size[uf.Find(x)] }

// Components returns the connected components of the feature graph, in
// which two features are adjacent when a leaf involves both. Only features
// involved in some leaf appear. Components are ascending and ordered by
// their smallest id.
func (tm *Treemap) Components() [][]FeatureID {
	uf := NewUnionFind(len(tm.features.feature))
	involved := make([]bool, len(tm.features.feature))
	for _, n := range tm.nodes {
		if n == nil || !n.IsLeaf() {
			continue
		}
		ids := n.original.Features()
		for _, id := range ids {
			involved[id] = true
			uf.Union(ids[0], id)
		}
	}
	byRoot := make(map[int][]FeatureID)
	var roots []int
	for id, ok := range involved {
		if !ok {
			continue
		}
		r := uf.Find(id)
		if _, seen := byRoot[r]; !seen {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], id)
	}
	out := make([][]FeatureID, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Connectivity checks that every component of the feature graph has at
// least minDOF features. Smaller islands usually mean a measurement that
// links them to the rest of the map is missing.
func (tm *Treemap) Connectivity(minDOF int) error {
	for _, c := range tm.Components() {
		if len(c) < minDOF {
			return fmt.Errorf("%w: component %v has %d features, want >= %d", ErrDisconnected, c, len(c), minDOF)
		}
	}
	return nil
}
