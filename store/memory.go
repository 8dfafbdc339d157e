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

// MemoryStore is an IntensityStore that keeps all intensities in
// memory, one slice per dataset.
type MemoryStore struct {
	probeCount, channelCount int
	names                    []string
	columns                  [][]float64
	storeAll                 bool
	bools                    map[string]*bitset.BitSet
	ints                     map[string][]int32
}

// NewMemoryStore creates an empty in-memory store. names may be nil.
func NewMemoryStore(probeCount, channelCount, datasetCount int, names []string) *MemoryStore {
	checkDimensions(probeCount, channelCount, datasetCount, names)
	return &MemoryStore{
		probeCount:   probeCount,
		channelCount: channelCount,
		names:        copyNames(names),
		columns:      make([][]float64, datasetCount),
		storeAll:     true,
		bools:        make(map[string]*bitset.BitSet),
		ints:         make(map[string][]int32),
	}
}

func (s *MemoryStore) column(dataset int) []float64 {
	checkDataset(dataset, len(s.columns))
	col := s.columns[dataset]
	if col == nil {
		col = make([]float64, s.probeCount)
		s.columns[dataset] = col
	}
	return col
}

func (s *MemoryStore) Intensity(probe, dataset int) float64 {
	checkProbe(probe, s.probeCount)
	return s.column(dataset)[probe]
}

func (s *MemoryStore) SetIntensities(dataset int, values []float64) {
	checkVector(dataset, len(values), s.probeCount)
	copy(s.column(dataset), values)
}

func (s *MemoryStore) DatasetVector(dataset int) []float64 {
	return append([]float64(nil), s.column(dataset)...)
}

func (s *MemoryStore) DatasetCount() int      { return len(s.columns) }
func (s *MemoryStore) ChannelCount() int      { return s.channelCount }
func (s *MemoryStore) ProbeCount() int        { return s.probeCount }
func (s *MemoryStore) DatasetNames() []string { return copyNames(s.names) }

func (s *MemoryStore) SetStoreAllIntensities(all bool) { s.storeAll = all }
func (s *MemoryStore) StoreAllIntensities() bool       { return s.storeAll }

func (s *MemoryStore) EmptyCopy() IntensityStore {
	result := NewMemoryStore(s.probeCount, s.channelCount, len(s.columns), s.names)
	result.storeAll = s.storeAll
	return result
}

// Close drops all intensities and annotations.
func (s *MemoryStore) Close() {
	s.columns = nil
	s.bools = nil
	s.ints = nil
}

func (s *MemoryStore) SetBoolColumn(name string, values *bitset.BitSet) {
	checkColumnName(name)
	s.bools[name] = values.Clone()
}

func (s *MemoryStore) BoolColumn(name string) *bitset.BitSet {
	values, ok := s.bools[name]
	if !ok {
		utils.Panicf(utils.ErrUninitialized, "annotation column %v was never populated", name)
	}
	return values.Clone()
}

func (s *MemoryStore) HasBoolColumn(name string) bool {
	_, ok := s.bools[name]
	return ok
}

func (s *MemoryStore) SetIntColumn(name string, values []int32) {
	checkColumnName(name)
	if len(values) != s.probeCount {
		utils.Panicf(utils.ErrDimensionMismatch, "annotation column %v has %v values, expected %v", name, len(values), s.probeCount)
	}
	s.ints[name] = append([]int32(nil), values...)
}

func (s *MemoryStore) IntColumn(name string) []int32 {
	values, ok := s.ints[name]
	if !ok {
		utils.Panicf(utils.ErrUninitialized, "annotation column %v was never populated", name)
	}
	return append([]int32(nil), values...)
}

func (s *MemoryStore) HasIntColumn(name string) bool {
	_, ok := s.ints[name]
	return ok
}
