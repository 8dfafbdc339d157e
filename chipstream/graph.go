// elnorm: a tool for normalizing microarray probe intensities.
// Copyright (c) 2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elnorm/blob/master/LICENSE.txt>.

package chipstream

import (
	"github.com/exascience/elnorm/store"
	"github.com/exascience/elnorm/utils"
)

// A NodeID identifies a node in a Graph.
type NodeID int

// NoNode is the parent of root nodes.
const NoNode NodeID = -1

// State is the lifecycle state of a node in a Graph.
type State int

// Node states. Single-pass nodes go from Idle through Receiving to
// Drained, two-pass nodes from Idle through Accumulating and
// Finalizing to Drained.
const (
	Idle State = iota
	Receiving
	Accumulating
	Finalizing
	Drained
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Accumulating:
		return "accumulating"
	case Finalizing:
		return "finalizing"
	case Drained:
		return "drained"
	default:
		return "unknown"
	}
}

// A Graph owns a forest of nodes. Every node has at most one parent,
// and the output of a node is broadcast to all of its children. Edges
// are recorded as node indices.
type Graph struct {
	nodes    []Node
	parents  []NodeID
	children [][]NodeID
	states   []State
	outputs  []store.IntensityStore
}

// Add adds a node without any edges.
func (g *Graph) Add(node Node) NodeID {
	g.nodes = append(g.nodes, node)
	g.parents = append(g.parents, NoNode)
	g.children = append(g.children, nil)
	g.states = append(g.states, Idle)
	g.outputs = append(g.outputs, nil)
	return NodeID(len(g.nodes) - 1)
}

func (g *Graph) checkID(id NodeID) {
	if id < 0 || int(id) >= len(g.nodes) {
		utils.Panicf(utils.ErrOutOfRange, "node %v not in pipeline of %v nodes", id, len(g.nodes))
	}
}

// RegisterChild makes child receive the output of parent. A node can
// have many children but only one parent, and the graph must stay
// acyclic.
func (g *Graph) RegisterChild(parent, child NodeID) {
	g.checkID(parent)
	g.checkID(child)
	if p := g.parents[child]; p != NoNode {
		utils.Panicf(utils.ErrConfiguration, "node %v (%v) already has parent %v (%v)", child, g.nodes[child].Name(), p, g.nodes[p].Name())
	}
	for id := parent; id != NoNode; id = g.parents[id] {
		if id == child {
			utils.Panicf(utils.ErrConfiguration, "registering node %v (%v) as child of %v (%v) creates a cycle", child, g.nodes[child].Name(), parent, g.nodes[parent].Name())
		}
	}
	g.parents[child] = parent
	g.children[parent] = append(g.children[parent], child)
}

// Chain adds the given nodes so that each one is the child of the
// previous one.
func (g *Graph) Chain(nodes ...Node) []NodeID {
	ids := make([]NodeID, len(nodes))
	for i, node := range nodes {
		ids[i] = g.Add(node)
		if i > 0 {
			g.RegisterChild(ids[i-1], ids[i])
		}
	}
	return ids
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Node(id NodeID) Node {
	g.checkID(id)
	return g.nodes[id]
}

func (g *Graph) Parent(id NodeID) NodeID {
	g.checkID(id)
	return g.parents[id]
}

func (g *Graph) Children(id NodeID) []NodeID {
	g.checkID(id)
	return append([]NodeID(nil), g.children[id]...)
}

func (g *Graph) State(id NodeID) State {
	g.checkID(id)
	return g.states[id]
}

// Output returns the output store of a node, or nil if the node has
// not run yet, or its output was already released.
func (g *Graph) Output(id NodeID) store.IntensityStore {
	g.checkID(id)
	return g.outputs[id]
}

// Roots returns the nodes without parent.
func (g *Graph) Roots() (roots []NodeID) {
	for id, parent := range g.parents {
		if parent == NoNode {
			roots = append(roots, NodeID(id))
		}
	}
	return roots
}

// Leaves returns the nodes without children.
func (g *Graph) Leaves() (leaves []NodeID) {
	for id, children := range g.children {
		if len(children) == 0 {
			leaves = append(leaves, NodeID(id))
		}
	}
	return leaves
}

// TwoPass reports whether any node in the graph is a two-pass node.
func (g *Graph) TwoPass() bool {
	for _, node := range g.nodes {
		if node.TwoPass() {
			return true
		}
	}
	return false
}

func (g *Graph) releaseOutput(id NodeID) {
	if out := g.outputs[id]; out != nil {
		g.outputs[id] = nil
		out.Close()
	}
}

// Close closes all output stores that are still held by the graph.
func (g *Graph) Close() {
	for id := range g.outputs {
		defer g.releaseOutput(NodeID(id))
	}
}
