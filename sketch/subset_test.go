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
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"
)

func TestReadSubset(t *testing.T) {
	filename := writeFile(t, "subset.txt", "probe_id\n1\n3\n5\n")
	subset, err := ReadSubset(filename, 6)
	require.NoError(t, err)
	require.Equal(t, []uint{0, 2, 4}, setBits(subset))
	require.Equal(t, 3, population(subset, 6))
}

func TestReadSubsetInclude(t *testing.T) {
	filename := writeFile(t, "subset.txt", "# perfect-match probes\nprobe_id\tinclude\n1\t1\n2\tfalse\n3\ttrue\n4\t0\n")
	subset, err := ReadSubset(filename, 4)
	require.NoError(t, err)
	require.Equal(t, []uint{0, 2}, setBits(subset))
}

func TestReadSubsetErrors(t *testing.T) {
	for name, contents := range map[string]string{
		"missing-column.txt": "id\n1\n",
		"zero.txt":           "probe_id\n0\n",
		"too-large.txt":      "probe_id\n5\n",
		"not-a-number.txt":   "probe_id\nx\n",
		"bad-include.txt":    "probe_id\tinclude\n1\tmaybe\n",
	} {
		_, err := ReadSubset(writeFile(t, name, contents), 4)
		require.Error(t, err, name)
	}
}

func TestPopulation(t *testing.T) {
	require.Equal(t, 7, population(nil, 7))
	subset := bitset.New(10)
	subset.Set(1).Set(4).Set(9)
	require.Equal(t, 2, population(subset, 5))
}

func setBits(b *bitset.BitSet) (result []uint) {
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		result = append(result, i)
	}
	return result
}
