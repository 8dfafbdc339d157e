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

// Package store provides probe by dataset intensity matrices, held
// either in memory or out of core in a disk-backed, reordered layout.
//
// Logically, a store holds intensity[probe][dataset]. Datasets are
// written and read as whole vectors indexed by original probe id,
// regardless of the order in which a store keeps probes internally.
package store

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elnorm/utils"
)

// Names of the per-probe annotation columns supplied by the chip
// layout.
const (
	PerfectMatch  = "pm"
	MismatchIndex = "mm-index"
	GCContent     = "gc"
)

type (
	// An IntensityStore gives access to a probe by dataset intensity
	// matrix. Vectors passed to and returned from an IntensityStore are
	// always indexed by original probe id.
	IntensityStore interface {
		// Intensity returns a single cell of the matrix.
		Intensity(probe, dataset int) float64

		// SetIntensities writes the full probe vector of one dataset.
		// len(values) must be ProbeCount().
		SetIntensities(dataset int, values []float64)

		// DatasetVector returns a fresh copy of the full probe vector
		// of one dataset.
		DatasetVector(dataset int) []float64

		DatasetCount() int
		ChannelCount() int
		ProbeCount() int
		DatasetNames() []string

		// SetStoreAllIntensities with false permits an implementation to
		// drop probes that no downstream consumer needs. Reads of
		// probes that are used are never affected.
		SetStoreAllIntensities(all bool)
		StoreAllIntensities() bool

		// EmptyCopy returns a new store with the same dimensions, probe
		// order, channel count and dataset names, but no intensities.
		EmptyCopy() IntensityStore

		// Close releases all resources held by the store.
		Close()
	}

	// An AnnotationStore holds per-probe annotation columns, one column
	// per annotation name. Columns are indexed by original probe id.
	AnnotationStore interface {
		SetBoolColumn(name string, values *bitset.BitSet)
		BoolColumn(name string) *bitset.BitSet
		HasBoolColumn(name string) bool

		SetIntColumn(name string, values []int32)
		IntColumn(name string) []int32
		HasIntColumn(name string) bool
	}

	// A Store is both an IntensityStore and an AnnotationStore.
	Store interface {
		IntensityStore
		AnnotationStore
	}
)

// DatasetIndex returns the dataset index of the given channel of the
// given chip.
func DatasetIndex(chip, channel, channelCount int) int {
	return chip*channelCount + channel
}

// ChipCount returns the number of chips in a store.
func ChipCount(s IntensityStore) int {
	return s.DatasetCount() / s.ChannelCount()
}

func checkDimensions(probeCount, channelCount, datasetCount int, names []string) {
	if probeCount <= 0 {
		utils.Panicf(utils.ErrConfiguration, "invalid probe count %v", probeCount)
	}
	if channelCount <= 0 {
		utils.Panicf(utils.ErrConfiguration, "invalid channel count %v", channelCount)
	}
	if datasetCount < 0 || datasetCount%channelCount != 0 {
		utils.Panicf(utils.ErrConfiguration, "dataset count %v is not a multiple of channel count %v", datasetCount, channelCount)
	}
	if names != nil && len(names) != datasetCount {
		utils.Panicf(utils.ErrDimensionMismatch, "%v dataset names given for %v datasets", len(names), datasetCount)
	}
}

func checkProbe(probe, probeCount int) {
	if probe < 0 || probe >= probeCount {
		utils.Panicf(utils.ErrOutOfRange, "probe %v not in [0, %v)", probe, probeCount)
	}
}

func checkDataset(dataset, datasetCount int) {
	if dataset < 0 || dataset >= datasetCount {
		utils.Panicf(utils.ErrOutOfRange, "dataset %v not in [0, %v)", dataset, datasetCount)
	}
}

func checkVector(dataset, length, probeCount int) {
	if length != probeCount {
		utils.Panicf(utils.ErrDimensionMismatch, "vector for dataset %v has %v values, expected %v", dataset, length, probeCount)
	}
}

func checkColumnName(name string) {
	if name == "" {
		utils.Panicf(utils.ErrConfiguration, "empty annotation column name")
	}
	for _, c := range name {
		if c == '/' || c == '\\' || c == 0 {
			utils.Panicf(utils.ErrConfiguration, "invalid annotation column name %v", name)
		}
	}
}

func copyNames(names []string) []string {
	if names == nil {
		return nil
	}
	return append([]string(nil), names...)
}
