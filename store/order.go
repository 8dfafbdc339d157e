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

package store

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elnorm/utils"
)

// IdentityOrder returns the probe order that keeps probes in their
// original order.
func IdentityOrder(probeCount int) []int {
	order := make([]int, probeCount)
	for i := range order {
		order[i] = i
	}
	return order
}

// OrderFirst returns a probe order that stores the probes set in used
// before all other probes. Both groups keep ascending probe order, so
// reading the used probes of a dataset touches one contiguous region.
func OrderFirst(used *bitset.BitSet, probeCount int) []int {
	order := make([]int, 0, probeCount)
	for i, ok := used.NextSet(0); ok && i < uint(probeCount); i, ok = used.NextSet(i + 1) {
		order = append(order, int(i))
	}
	for i := 0; i < probeCount; i++ {
		if !used.Test(uint(i)) {
			order = append(order, i)
		}
	}
	return order
}

// probeMapFor checks that order is a permutation of [0, probeCount)
// and returns its inverse.
func probeMapFor(order []int, probeCount int) (ord, probeMap []int32) {
	if len(order) != probeCount {
		utils.Panicf(utils.ErrDimensionMismatch, "probe order has %v entries, expected %v", len(order), probeCount)
	}
	ord = make([]int32, probeCount)
	probeMap = make([]int32, probeCount)
	for i := range probeMap {
		probeMap[i] = -1
	}
	for slot, id := range order {
		checkProbe(id, probeCount)
		if probeMap[id] >= 0 {
			utils.Panicf(utils.ErrConfiguration, "duplicate in order: probe %v at slots %v and %v", id, probeMap[id], slot)
		}
		probeMap[id] = int32(slot)
		ord[slot] = int32(id)
	}
	return ord, probeMap
}
