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
	"log"
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elnorm/utils"
)

// Name is the name of sketch quantile normalization nodes in pipeline
// specifications.
const Name = "quant-norm"

// TieMode selects how raw values that are tied in a chip's sketch are
// mapped onto the target.
type TieMode int

const (
	// Native gives tied probes distinct target values, by position:
	// the m probes of a chip tied on one value split the tied sketch
	// range into m equal parts in probe order, and each receives the
	// mean target value over its part.
	Native TieMode = iota

	// Bioc gives all tied probes the mean target value over the whole
	// tied sketch range.
	Bioc
)

func (m TieMode) String() string {
	if m == Bioc {
		return "bioc"
	}
	return "native"
}

// Options configure a Normalizer.
type Options struct {
	// SketchSize is the number of values sampled per chip. If 0, the
	// size is DefaultSizeFor the number of sampled probes, or the
	// length of Target if that is given.
	SketchSize int

	// Exact samples all probes, which turns sketch normalization into
	// full quantile normalization.
	Exact bool

	// Subset restricts sketches and the target to the probes in it.
	// All probes are still transformed.
	Subset *bitset.BitSet

	// Target is a precomputed target sketch. A Normalizer with a
	// target is single-pass.
	Target []float64

	Ties         TieMode
	Scaling      Scaling
	LowPrecision bool
}

// A Normalizer is a chipstream node that performs sketch quantile
// normalization. Without a precomputed target it is two-pass: the
// target is the mean of the sketches of all chips.
type Normalizer struct {
	opts       Options
	size       int
	probeCount int
	chips      map[int]*chip
	average    Average
	target     *Target
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	if opts.SketchSize < 0 {
		utils.Panicf(utils.ErrConfiguration, "invalid sketch size %v", opts.SketchSize)
	}
	if opts.Subset != nil {
		opts.Subset = opts.Subset.Clone()
	}
	n := &Normalizer{opts: opts, chips: make(map[int]*chip)}
	if opts.Target != nil {
		if opts.SketchSize != 0 && opts.SketchSize != len(opts.Target) {
			utils.Panicf(utils.ErrDimensionMismatch, "target sketch has %v values, but sketch size is %v", len(opts.Target), opts.SketchSize)
		}
		n.target = NewTarget(opts.Target)
		n.target.Rescale(opts.Scaling)
		n.size = n.target.Len()
		n.opts.Target = n.target.Values()
	}
	return n
}

func (n *Normalizer) Name() string {
	return Name
}

func (n *Normalizer) TwoPass() bool {
	return n.opts.Target == nil
}

// SketchSize returns the sketch size, which is 0 until it is known.
func (n *Normalizer) SketchSize() int {
	return n.size
}

// Target returns the finalized target sketch.
func (n *Normalizer) Target() *Target {
	if n.target == nil {
		utils.Panicf(utils.ErrUninitialized, "target sketch requested before all chips were seen")
	}
	return n.target
}

// setup fixes the sketch size on the first chip.
func (n *Normalizer) setup(probeCount int) {
	n.probeCount = probeCount
	pop := population(n.opts.Subset, probeCount)
	if pop == 0 {
		utils.Panicf(utils.ErrConfiguration, "no probes to extract sketches from")
	}
	if n.target != nil {
		switch {
		case n.opts.Exact && n.size != pop:
			utils.Panicf(utils.ErrDimensionMismatch, "target sketch has %v values, but %v probes are sampled", n.size, pop)
		case n.size > pop:
			utils.Panicf(utils.ErrConfiguration, "target sketch has %v values, but only %v probes are sampled", n.size, pop)
		}
		return
	}
	switch {
	case n.opts.Exact:
		n.size = pop
	case n.opts.SketchSize == 0:
		n.size = DefaultSizeFor(pop)
	case n.opts.SketchSize > pop:
		log.Printf("Sketch size %v exceeds the %v sampled probes, using %v.\n", n.opts.SketchSize, pop, pop)
		n.size = pop
	default:
		n.size = n.opts.SketchSize
	}
}

func (n *Normalizer) NewChip(dataset int, values []float64) {
	if n.probeCount == 0 {
		n.setup(len(values))
	} else if len(values) != n.probeCount {
		utils.Panicf(utils.ErrDimensionMismatch, "chip %v has %v probes, expected %v", dataset, len(values), n.probeCount)
	}
	if n.TwoPass() && n.target != nil {
		utils.Panicf(utils.ErrConfiguration, "chip %v arrived after the target sketch was finalized", dataset)
	}
	sorted := sample(values, n.opts.Subset)
	if len(sorted) < n.size {
		log.Printf("Dataset %v has %v finite values for a sketch of size %v, interpolating.\n", dataset, len(sorted), n.size)
	}
	c := &chip{sketch: resample(sorted, n.size)}
	if n.opts.Ties == Native {
		c.rankTies(values)
	}
	n.chips[dataset] = c
	if n.TwoPass() {
		n.average.Add(c.sketch)
	}
}

func (n *Normalizer) NoMoreChips() {
	if !n.TwoPass() || n.target != nil {
		return
	}
	if n.average.Count() == 0 {
		utils.Panicf(utils.ErrUninitialized, "no chips seen before computing the target sketch")
	}
	n.target = NewTarget(n.average.Mean())
	n.target.Rescale(n.opts.Scaling)
	n.average = Average{}
}

func (n *Normalizer) chipState(dataset int) *chip {
	if n.target == nil {
		utils.Panicf(utils.ErrUninitialized, "dataset %v transformed before the target sketch was computed", dataset)
	}
	c, ok := n.chips[dataset]
	if !ok {
		utils.Panicf(utils.ErrUninitialized, "dataset %v transformed before its chip was seen, or after it was released", dataset)
	}
	return c
}

func (n *Normalizer) finish(probe, dataset int, value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = n.target.Max()
	}
	if n.opts.LowPrecision {
		value = float64(float32(value))
	}
	if value < 0 {
		utils.Panicf(utils.ErrNumericDegeneracy, "Negative values found when trying to normalize: %v for probe %v in dataset %v", value, probe, dataset)
	}
	return value
}

func (n *Normalizer) transform(c *chip, probe, dataset int, value float64) float64 {
	lo, hi := bounds(c.sketch, value)
	if hi == lo {
		return n.finish(probe, dataset, n.target.interpolate(c.sketch, value))
	}
	if n.opts.Ties == Native {
		if r, ok := c.ranks[probe]; ok && r.value == value {
			m, k := float64(c.counts[value]), float64(r.k)
			width := float64(hi - lo)
			a := float64(lo) + k*width/m
			b := float64(lo) + (k+1)*width/m
			return n.finish(probe, dataset, n.target.mean(a, b))
		}
	}
	return n.finish(probe, dataset, n.target.mean(float64(lo), float64(hi)))
}

// Transform maps one value. In Native tie mode, a probe that was tied
// with other probes of its chip on this value receives the mean target
// value over its own part of the tied range.
func (n *Normalizer) Transform(probe, dataset int, value float64) float64 {
	return n.transform(n.chipState(dataset), probe, dataset, value)
}

// TransformChip maps a whole chip, and then releases the state kept
// for it.
func (n *Normalizer) TransformChip(dataset int, values, out []float64) {
	c := n.chipState(dataset)
	for probe, value := range values {
		out[probe] = n.transform(c, probe, dataset, value)
	}
	delete(n.chips, dataset)
}

func (n *Normalizer) EndOfStream() {
	n.chips = make(map[int]*chip)
}

// chip is the state kept per chip until its output is final.
type chip struct {
	sketch []float64

	// Probes that share their value with other probes of the chip, and
	// whose value occurs in the sketch. ranks holds the position of
	// such a probe among the probes with the same value, in probe
	// order, and counts holds the number of probes per value.
	ranks  map[int]tieRank
	counts map[float64]int32
}

type tieRank struct {
	value float64
	k     int32
}

func (c *chip) rankTies(values []float64) {
	counts := make(map[float64]int32)
	for _, value := range values {
		if math.IsNaN(value) {
			continue
		}
		if lo, hi := bounds(c.sketch, value); hi > lo {
			counts[value]++
		}
	}
	for value, m := range counts {
		if m < 2 {
			delete(counts, value)
		}
	}
	if len(counts) == 0 {
		return
	}
	c.counts = counts
	c.ranks = make(map[int]tieRank)
	seen := make(map[float64]int32, len(counts))
	for probe, value := range values {
		if _, ok := counts[value]; ok {
			c.ranks[probe] = tieRank{value, seen[value]}
			seen[value]++
		}
	}
}
