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

package sketch

import (
	"math"
	"sort"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elnorm/chipstream"
	"github.com/exascience/elnorm/store"
	"github.com/exascience/elnorm/utils"
)

var (
	_ chipstream.Node            = (*Normalizer)(nil)
	_ chipstream.ChipTransformer = (*Normalizer)(nil)
)

func transformChip(n *Normalizer, dataset int, values []float64) []float64 {
	out := make([]float64, len(values))
	n.TransformChip(dataset, values, out)
	return out
}

func TestSingleChipSelfMatch(t *testing.T) {
	chip := []float64{1, 2, 3, 2, 5}
	for _, ties := range []TieMode{Native, Bioc} {
		n := New(Options{Exact: true, Ties: ties})
		require.True(t, n.TwoPass())
		n.NewChip(0, chip)
		n.NoMoreChips()
		require.Equal(t, []float64{1, 2, 2, 3, 5}, n.Target().Values())
		for probe, value := range chip {
			require.Equal(t, value, n.Transform(probe, 0, value))
		}
		require.Equal(t, chip, transformChip(n, 0, chip), "tie mode %v", ties)
	}
}

func TestTwoChipAveraging(t *testing.T) {
	n := New(Options{Exact: true})
	n.NewChip(0, []float64{5, 1, 3})
	n.NewChip(1, []float64{3, 9, 3})
	n.NoMoreChips()
	require.Equal(t, []float64{2, 3, 7}, n.Target().Values())
	require.Equal(t, []float64{0, 2, 5, 12}, n.Target().PartialSums())
}

func TestTieConventions(t *testing.T) {
	target := []float64{10, 20, 30, 40, 50}
	chip := []float64{1, 2, 2, 2, 5}

	bioc := New(Options{Exact: true, Target: target, Ties: Bioc})
	require.False(t, bioc.TwoPass())
	bioc.NewChip(0, chip)
	for probe, expected := range []float64{10, 30, 30, 30, 50} {
		require.Equal(t, expected, bioc.Transform(probe, 0, chip[probe]))
	}
	require.Equal(t, []float64{10, 30, 30, 30, 50}, transformChip(bioc, 0, chip))

	native := New(Options{Exact: true, Target: target, Ties: Native})
	native.NewChip(0, chip)
	for probe, expected := range []float64{10, 20, 30, 40, 50} {
		require.Equal(t, expected, native.Transform(probe, 0, chip[probe]))
	}
	// repeated and out of order transforms give the same results
	require.Equal(t, 40.0, native.Transform(3, 0, 2))
	require.Equal(t, 20.0, native.Transform(1, 0, 2))
	// a probe that was not tied on this value gets the whole tied range
	require.Equal(t, 30.0, native.Transform(0, 0, 2))
	require.Equal(t, []float64{10, 20, 30, 40, 50}, transformChip(native, 0, chip))
}

func TestNativeTiesFollowProbeOrder(t *testing.T) {
	target := []float64{0, 10, 20, 30, 40, 50}
	chip := []float64{2, 1, 2, 3, 2, 2}
	n := New(Options{Exact: true, Target: target})
	n.NewChip(0, chip)
	require.Equal(t, []float64{10, 0, 20, 50, 30, 40}, transformChip(n, 0, chip))
}

func TestNativeTiesSplitSketchRun(t *testing.T) {
	target := []float64{10, 20, 30}
	chip := []float64{1, 1, 5, 1}

	native := New(Options{SketchSize: 3, Target: target})
	native.NewChip(0, chip)
	require.InDeltaSlice(t, []float64{10, 15, 30, 20}, transformChip(native, 0, chip), 1e-12)

	bioc := New(Options{SketchSize: 3, Target: target, Ties: Bioc})
	bioc.NewChip(0, chip)
	require.InDeltaSlice(t, []float64{15, 15, 30, 15}, transformChip(bioc, 0, chip), 1e-12)
}

func TestFullQuantileNormalization(t *testing.T) {
	chips := [][]float64{
		{5, 1, 3, 8},
		{2, 6, 4, 0.5},
		{7, 7.5, 9, 10},
	}
	n := New(Options{Exact: true})
	for dataset, chip := range chips {
		n.NewChip(dataset, chip)
	}
	n.NoMoreChips()
	target := n.Target().Values()
	for dataset, chip := range chips {
		out := transformChip(n, dataset, chip)
		sort.Float64s(out)
		require.InDeltaSlice(t, target, out, 1e-12)
	}
}

func TestIdempotence(t *testing.T) {
	target := []float64{10, 20, 30, 45}
	chip := []float64{20, 45, 10, 30}
	n := New(Options{Exact: true, Target: target})
	n.NewChip(0, chip)
	require.InDeltaSlice(t, chip, transformChip(n, 0, chip), 1e-12)
}

func TestInterpolationAndExtrapolation(t *testing.T) {
	n := New(Options{Target: []float64{10, 20, 30}})
	n.NewChip(0, []float64{3, 1, 2})
	require.InDelta(t, 15, n.Transform(0, 0, 1.5), 1e-12)
	require.InDelta(t, 25, n.Transform(0, 0, 2.5), 1e-12)
	require.InDelta(t, 5, n.Transform(0, 0, 0.5), 1e-12)
	require.InDelta(t, 40, n.Transform(0, 0, 4), 1e-12)
	require.Equal(t, 0.0, n.Transform(0, 0, 0))
}

func TestNonFiniteClampsToMaximum(t *testing.T) {
	n := New(Options{Target: []float64{1, 2, 3}})
	n.NewChip(0, []float64{1, 5, 5})
	require.Equal(t, 3.0, n.Transform(0, 0, 7))
	require.Equal(t, 3.0, n.Transform(0, 0, math.Inf(1)))
	require.Equal(t, 3.0, n.Transform(0, 0, math.NaN()))
}

func TestNonNegativity(t *testing.T) {
	n := New(Options{Target: []float64{10, 20, 30}})
	n.NewChip(0, []float64{10, 20, 30})
	for _, value := range []float64{0, 1, 9.99, 10, 25, 30, 1000} {
		require.GreaterOrEqual(t, n.Transform(0, 0, value), 0.0)
	}
	requirePanicsWith(t, utils.ErrNumericDegeneracy, func() {
		n.Transform(0, 0, -1)
	})
}

func TestZeroSketchMinimum(t *testing.T) {
	n := New(Options{Target: []float64{4, 20, 30}})
	n.NewChip(0, []float64{0, 20, 30})
	require.Equal(t, 4.0, n.Transform(0, 0, -1))
	require.Equal(t, 4.0, n.Transform(0, 0, 0))
}

func TestLowPrecision(t *testing.T) {
	target := []float64{1.1, 2.2, 3.3}
	n := New(Options{Exact: true, Target: target, LowPrecision: true})
	n.NewChip(0, []float64{1, 2, 3})
	out := transformChip(n, 0, []float64{1, 2, 3})
	for i, value := range out {
		require.Equal(t, float64(float32(target[i])), value)
	}
	require.NotEqual(t, 2.2, out[1])
}

func TestScaling(t *testing.T) {
	n := New(Options{Exact: true, Scaling: Scaling{Kind: ScaleMean, Value: 6}})
	n.NewChip(0, []float64{1, 2, 3, 6})
	n.NoMoreChips()
	require.Equal(t, []float64{2, 4, 6, 12}, n.Target().Values())
	require.Equal(t, []float64{0, 2, 6, 12, 24}, n.Target().PartialSums())

	m := New(Options{Target: []float64{1, 2, 6}, Scaling: Scaling{Kind: ScaleMedian, Value: 4}})
	require.Equal(t, []float64{2, 4, 12}, m.Target().Values())
}

func TestSubsetClampsSketchSize(t *testing.T) {
	subset := bitset.New(6)
	subset.Set(0).Set(1).Set(3)
	n := New(Options{SketchSize: 10, Subset: subset})
	n.NewChip(0, []float64{1, 2, 2, 5, 9, 9})
	require.Equal(t, 3, n.SketchSize())
	n.NoMoreChips()
	require.Equal(t, []float64{1, 2, 5}, n.Target().Values())
}

func TestSubsetTargetTooLarge(t *testing.T) {
	subset := bitset.New(4)
	subset.Set(0).Set(1)
	n := New(Options{Target: []float64{1, 2, 3}, Subset: subset})
	requirePanicsWith(t, utils.ErrConfiguration, func() {
		n.NewChip(0, []float64{1, 2, 3, 4})
	})
}

func TestSubsetTransformsAllProbes(t *testing.T) {
	subset := bitset.New(6)
	subset.Set(0).Set(1).Set(3)
	n := New(Options{Target: []float64{10, 20, 30}, Subset: subset})
	chip := []float64{1, 2, 2, 5, 9, 9}
	n.NewChip(0, chip)
	out := transformChip(n, 0, chip)
	require.InDeltaSlice(t, []float64{10, 20, 20, 30, 30 + 40.0/3, 30 + 40.0/3}, out, 1e-12)
}

func TestNormalizerErrors(t *testing.T) {
	requirePanicsWith(t, utils.ErrConfiguration, func() {
		New(Options{SketchSize: -2})
	})
	requirePanicsWith(t, utils.ErrDimensionMismatch, func() {
		New(Options{SketchSize: 4, Target: []float64{1, 2, 3}})
	})
	requirePanicsWith(t, utils.ErrConfiguration, func() {
		New(Options{Target: []float64{3, 2, 1}})
	})

	n := New(Options{Exact: true})
	requirePanicsWith(t, utils.ErrUninitialized, func() {
		n.Target()
	})
	requirePanicsWith(t, utils.ErrUninitialized, func() {
		n.NoMoreChips()
	})
	n.NewChip(0, []float64{1, 2, 3})
	requirePanicsWith(t, utils.ErrUninitialized, func() {
		n.Transform(0, 0, 1)
	})
	requirePanicsWith(t, utils.ErrDimensionMismatch, func() {
		n.NewChip(1, []float64{1, 2})
	})
	n.NoMoreChips()
	requirePanicsWith(t, utils.ErrUninitialized, func() {
		n.Transform(0, 5, 1)
	})
	requirePanicsWith(t, utils.ErrConfiguration, func() {
		n.NewChip(1, []float64{1, 2, 3})
	})

	e := New(Options{Exact: true, Target: []float64{1, 2}})
	requirePanicsWith(t, utils.ErrDimensionMismatch, func() {
		e.NewChip(0, []float64{1, 2, 3})
	})
}

func TestNonFiniteChipValues(t *testing.T) {
	for _, opts := range []Options{{}, {Exact: true}} {
		n := New(opts)
		n.NewChip(0, []float64{1, 2, math.NaN(), 4})
		n.NewChip(1, []float64{1, 2, 3, 4})
		require.Equal(t, 4, n.SketchSize())
		n.NoMoreChips()
		require.InDeltaSlice(t, []float64{1, 11.0 / 6, 17.0 / 6, 4}, n.Target().Values(), 1e-12)
		out := transformChip(n, 0, []float64{1, 2, math.NaN(), 4})
		require.InDelta(t, 1, out[0], 1e-12)
		require.Equal(t, 4.0, out[2])
		require.Equal(t, 4.0, out[3])
	}
}

func TestTransformChipReleasesChip(t *testing.T) {
	n := New(Options{Exact: true, Target: []float64{1, 2, 3}})
	n.NewChip(0, []float64{3, 3, 1})
	n.NewChip(1, []float64{1, 2, 3})
	require.Equal(t, []float64{1, 2, 3}, transformChip(n, 1, []float64{1, 2, 3}))
	require.Len(t, n.chips, 1)
	requirePanicsWith(t, utils.ErrUninitialized, func() {
		n.Transform(0, 1, 2)
	})
	require.Equal(t, []float64{2, 3, 1}, transformChip(n, 0, []float64{3, 3, 1}))
	require.Empty(t, n.chips)
}

func TestEndOfStreamKeepsTarget(t *testing.T) {
	n := New(Options{Exact: true})
	n.NewChip(0, []float64{1, 2})
	n.NoMoreChips()
	n.EndOfStream()
	require.Equal(t, []float64{1, 2}, n.Target().Values())
	requirePanicsWith(t, utils.ErrUninitialized, func() {
		n.Transform(0, 0, 1)
	})
}

func TestNormalizerInPipeline(t *testing.T) {
	input := store.NewMemoryStore(4, 1, 3, nil)
	chips := [][]float64{
		{5, 1, 3, 8},
		{2, 6, 4, 0.5},
		{7, 7.5, 9, 10},
	}
	for dataset, chip := range chips {
		input.SetIntensities(dataset, chip)
	}
	n := New(Options{Exact: true})
	g := new(chipstream.Graph)
	ids := g.Chain(chipstream.Passthrough{}, n)
	defer g.Close()
	driver := &chipstream.Driver{Graph: g}
	driver.Run(input)

	output := g.Output(ids[1])
	target := n.Target().Values()
	for dataset := range chips {
		out := output.DatasetVector(dataset)
		sort.Float64s(out)
		require.InDeltaSlice(t, target, out, 1e-12)
	}
	require.Equal(t, chipstream.Drained, g.State(ids[1]))
}
