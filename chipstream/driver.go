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
	"log"

	"github.com/exascience/elnorm/store"
	"github.com/exascience/elnorm/utils"
)

// A Driver runs the nodes of a Graph over the datasets of an input
// store. Datasets are always visited in ascending order, and all
// calls happen sequentially on the calling goroutine.
//
// Every node writes its results to its own output store, an EmptyCopy
// of its input store. The input store of a root node is the store
// passed to Run, the input store of any other node is the output store
// of its parent. Input stores are only read.
type Driver struct {
	Graph *Graph

	// Verbose logs the progress of every node.
	Verbose bool

	// KeepIntermediate keeps the output stores of nodes that have
	// children. By default, they are closed as soon as all children
	// have consumed them.
	KeepIntermediate bool
}

// Run drives all nodes of the graph over input, and finally signals
// the end of the stream to all nodes. The results are the output
// stores of the leaves of the graph.
//
// Without any two-pass node in the graph, each dataset is read once
// and streamed through the whole graph before the next dataset is
// read. Otherwise, each node processes all datasets before its
// children start, two-pass nodes in two traversals.
func (d *Driver) Run(input store.IntensityStore) {
	g := d.Graph
	if g == nil || g.Len() == 0 {
		utils.Panicf(utils.ErrConfiguration, "empty pipeline")
	}
	roots := g.Roots()
	if g.TwoPass() {
		if d.Verbose {
			log.Printf("Running %v nodes over %v datasets with two-pass nodes.", g.Len(), input.DatasetCount())
		}
		for _, root := range roots {
			d.NewDataset(root, input)
		}
	} else {
		if d.Verbose {
			log.Printf("Streaming %v datasets through %v single-pass nodes.", input.DatasetCount(), g.Len())
		}
		d.stream(input, roots)
	}
	for _, root := range roots {
		d.endOfStream(root)
	}
}

// NewDataset runs node id over all datasets of in, writes the results
// to the output store of the node, and then forwards that output
// store to the children of the node.
func (d *Driver) NewDataset(id NodeID, in store.IntensityStore) {
	g := d.Graph
	node := g.Node(id)
	out := in.EmptyCopy()
	g.outputs[id] = out
	n := in.DatasetCount()
	if node.TwoPass() {
		if d.Verbose {
			log.Printf("Accumulating %v over %v datasets.", node.Name(), n)
		}
		g.states[id] = Accumulating
		for dataset := 0; dataset < n; dataset++ {
			node.NewChip(dataset, in.DatasetVector(dataset))
		}
		g.states[id] = Finalizing
		node.NoMoreChips()
		if d.Verbose {
			log.Printf("Transforming %v datasets with %v.", n, node.Name())
		}
		for dataset := 0; dataset < n; dataset++ {
			out.SetIntensities(dataset, transformChip(node, dataset, in.DatasetVector(dataset)))
		}
	} else {
		if d.Verbose {
			log.Printf("Transforming %v datasets with %v.", n, node.Name())
		}
		g.states[id] = Receiving
		for dataset := 0; dataset < n; dataset++ {
			values := in.DatasetVector(dataset)
			node.NewChip(dataset, values)
			out.SetIntensities(dataset, transformChip(node, dataset, values))
		}
		node.NoMoreChips()
	}
	children := g.children[id]
	for _, child := range children {
		d.NewDataset(child, out)
	}
	if len(children) > 0 && !d.KeepIntermediate {
		g.releaseOutput(id)
	}
}

func (d *Driver) allocate(id NodeID, in store.IntensityStore) {
	g := d.Graph
	g.outputs[id] = in.EmptyCopy()
	g.states[id] = Receiving
	for _, child := range g.children[id] {
		d.allocate(child, g.outputs[id])
	}
}

func (d *Driver) push(id NodeID, dataset int, values []float64) {
	g := d.Graph
	node := g.nodes[id]
	node.NewChip(dataset, values)
	out := transformChip(node, dataset, values)
	g.outputs[id].SetIntensities(dataset, out)
	for _, child := range g.children[id] {
		d.push(child, dataset, out)
	}
}

func (d *Driver) noMoreChips(id NodeID) {
	g := d.Graph
	g.nodes[id].NoMoreChips()
	for _, child := range g.children[id] {
		d.noMoreChips(child)
	}
	if len(g.children[id]) > 0 && !d.KeepIntermediate {
		g.releaseOutput(id)
	}
}

func (d *Driver) stream(input store.IntensityStore, roots []NodeID) {
	for _, root := range roots {
		d.allocate(root, input)
	}
	for dataset := 0; dataset < input.DatasetCount(); dataset++ {
		values := input.DatasetVector(dataset)
		for _, root := range roots {
			d.push(root, dataset, values)
		}
	}
	for _, root := range roots {
		d.noMoreChips(root)
	}
}

func (d *Driver) endOfStream(id NodeID) {
	g := d.Graph
	g.nodes[id].EndOfStream()
	g.states[id] = Drained
	for _, child := range g.children[id] {
		d.endOfStream(child)
	}
}

func transformChip(node Node, dataset int, values []float64) []float64 {
	out := make([]float64, len(values))
	if t, ok := node.(ChipTransformer); ok {
		t.TransformChip(dataset, values, out)
		return out
	}
	for probe, value := range values {
		out[probe] = node.Transform(probe, dataset, value)
	}
	return out
}
