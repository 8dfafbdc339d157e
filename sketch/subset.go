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
	"fmt"
	"strconv"

	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elnorm/utils"
)

// Column names in a probe subset file.
const (
	SubsetProbeColumn   = "probe_id"
	SubsetIncludeColumn = "include"
)

// ReadSubset reads a probe subset file. The file is a table with a
// probe_id column of 1-based probe ids and an optional include column
// of booleans. Probes without a row, or with a false include value,
// are not part of the subset. The result is indexed by 0-based probe
// id.
func ReadSubset(filename string, probeCount int) (*bitset.BitSet, error) {
	table, err := utils.ReadTable(filename)
	if err != nil {
		return nil, err
	}
	idCol := table.Column(SubsetProbeColumn)
	if idCol < 0 {
		return nil, fmt.Errorf("%v is not a probe subset - missing %v column", filename, SubsetProbeColumn)
	}
	includeCol := table.Column(SubsetIncludeColumn)
	subset := bitset.New(uint(probeCount))
	for _, row := range table.Rows {
		id, err := strconv.Atoi(row[idCol])
		if err != nil {
			return nil, fmt.Errorf("%v, while parsing probe subset %v", err, filename)
		}
		if id < 1 || id > probeCount {
			return nil, fmt.Errorf("probe id %v in %v out of range [1, %v]", id, filename, probeCount)
		}
		include := true
		if includeCol >= 0 {
			if include, err = strconv.ParseBool(row[includeCol]); err != nil {
				return nil, fmt.Errorf("%v, while parsing probe subset %v", err, filename)
			}
		}
		subset.SetTo(uint(id-1), include)
	}
	return subset, nil
}

// population returns the number of probes below probeCount that are in
// subset, or probeCount if subset is nil.
func population(subset *bitset.BitSet, probeCount int) int {
	if subset == nil {
		return probeCount
	}
	n := 0
	for i, ok := subset.NextSet(0); ok && i < uint(probeCount); i, ok = subset.NextSet(i + 1) {
		n++
	}
	return n
}
