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

	"github.com/bits-and-blooms/bitset"
	psort "github.com/exascience/pargo/sort"

	"github.com/exascience/elnorm/utils"
)

// DefaultSize is the largest sketch size that is chosen automatically.
const DefaultSize = 50000

// DefaultSizeFor returns the sketch size used for a population of n
// values when no size is given.
func DefaultSizeFor(n int) int {
	if n < DefaultSize {
		return n
	}
	return DefaultSize
}

type float64Sorter []float64

func (s float64Sorter) SequentialSort(i, j int) {
	sort.Float64s(s[i:j])
}

func (s float64Sorter) NewTemp() psort.StableSorter {
	return float64Sorter(make([]float64, len(s)))
}

func (s float64Sorter) Len() int {
	return len(s)
}

func (s float64Sorter) Less(i, j int) bool {
	return s[i] < s[j]
}

func (s float64Sorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(float64Sorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// Extract returns a sorted sketch of the given size of values. If
// subset is not nil, only the values of probes in subset are
// sampled. Non-finite values are never sampled.
//
// If size equals the number of sampled values, the sketch holds all of
// them. Otherwise, sketch entry i is the quantile at position
// i*(n-1)/(size-1) of the n sorted values, interpolated linearly. This
// also holds when fewer than size values are sampled, so that all
// sketches of a run have the same size.
func Extract(values []float64, subset *bitset.BitSet, size int) []float64 {
	return resample(sample(values, subset), size)
}

// sample returns the sorted finite values of the probes in subset.
func sample(values []float64, subset *bitset.BitSet) []float64 {
	result := make([]float64, 0, len(values))
	for probe, value := range values {
		if subset != nil && !subset.Test(uint(probe)) {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		result = append(result, value)
	}
	if len(result) == 0 {
		utils.Panicf(utils.ErrConfiguration, "no finite values to extract a sketch from")
	}
	psort.StableSort(float64Sorter(result))
	return result
}

func resample(sorted []float64, size int) []float64 {
	n := len(sorted)
	if size == n {
		return sorted
	}
	if size <= 0 {
		utils.Panicf(utils.ErrConfiguration, "invalid sketch size %v", size)
	}
	result := make([]float64, size)
	if size == 1 {
		result[0] = sorted[(n-1)/2]
		return result
	}
	step := float64(n-1) / float64(size-1)
	for i := range result {
		pos := float64(i) * step
		j := int(pos)
		if frac := pos - float64(j); frac > 0 && j+1 < n {
			result[i] = sorted[j] + frac*(sorted[j+1]-sorted[j])
		} else {
			result[i] = sorted[j]
		}
	}
	result[size-1] = sorted[n-1]
	return result
}

// Average is the element-wise running mean of sketches of equal size.
// The mean of sorted sketches is itself sorted.
type Average struct {
	mean []float64
	n    int
}

// Add includes one more sketch in the mean.
func (a *Average) Add(sketch []float64) {
	if a.n == 0 {
		a.mean = append([]float64(nil), sketch...)
		a.n = 1
		return
	}
	if len(sketch) != len(a.mean) {
		utils.Panicf(utils.ErrDimensionMismatch, "sketch has %v values, expected %v", len(sketch), len(a.mean))
	}
	a.n++
	k := float64(a.n)
	for i, value := range sketch {
		a.mean[i] += (value - a.mean[i]) / k
	}
}

// Count returns the number of sketches added so far.
func (a *Average) Count() int {
	return a.n
}

// Mean returns a copy of the current mean.
func (a *Average) Mean() []float64 {
	return append([]float64(nil), a.mean...)
}

// bounds returns the range [lo, hi) of entries of the sorted sketch
// that are equal to x. If there are none, lo == hi is the number of
// entries smaller than x.
func bounds(sketch []float64, x float64) (lo, hi int) {
	lo = sort.SearchFloat64s(sketch, x)
	hi = lo + sort.Search(len(sketch)-lo, func(i int) bool {
		return sketch[lo+i] > x
	})
	return lo, hi
}
