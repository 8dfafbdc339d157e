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

// Package chipstream composes normalization stages into a pipeline
// that is driven over the datasets of an intensity store, one chip at
// a time.
//
// A stage is a Node. Single-pass nodes can transform a chip as soon as
// they have seen it. Two-pass nodes first accumulate statistics over
// all chips, and can only transform after NoMoreChips has been
// called. A Driver sequences these calls over a Graph of nodes.
package chipstream

type (
	// A Node is a stage in a normalization pipeline.
	//
	// For every dataset, NewChip is called before any Transform call for
	// that dataset. The values passed to NewChip are in original probe
	// order and must not be modified or retained.
	Node interface {
		// Name identifies the node in log messages.
		Name() string

		// TwoPass reports whether the node must see all chips before
		// its Transform results are valid.
		TwoPass() bool

		// NewChip lets the node accumulate per-chip state.
		NewChip(dataset int, values []float64)

		// NoMoreChips is called once after the last NewChip call. Two-pass
		// nodes finalize their state here.
		NoMoreChips()

		// Transform maps one raw value. It depends only on the finalized
		// state of the node, and may be called repeatedly and in any
		// probe order.
		Transform(probe, dataset int, value float64) float64

		// EndOfStream is called once when the whole pipeline is done, so
		// that per-chip buffers can be released.
		EndOfStream()
	}

	// A ChipTransformer transforms a whole dataset vector at once. When
	// a Node implements it, a Driver uses TransformChip instead of
	// calling Transform once per probe, exactly once per dataset. The
	// node may then release the state it keeps for that dataset. out
	// has the same length as values.
	ChipTransformer interface {
		TransformChip(dataset int, values, out []float64)
	}
)

// Passthrough is a single-pass Node that does not change any values.
type Passthrough struct{}

// PassthroughName is the name of Passthrough nodes in pipeline
// specifications.
const PassthroughName = "no-trans"

func (Passthrough) Name() string {
	return PassthroughName
}

func (Passthrough) TwoPass() bool {
	return false
}

func (Passthrough) NewChip(int, []float64) {}

func (Passthrough) NoMoreChips() {}

func (Passthrough) Transform(_, _ int, value float64) float64 {
	return value
}

func (Passthrough) TransformChip(_ int, values, out []float64) {
	copy(out, values)
}

func (Passthrough) EndOfStream() {}
