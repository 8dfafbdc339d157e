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
	"fmt"
	"strconv"

	"github.com/exascience/pargo/pipeline"

	"github.com/exascience/elnorm/internal"
	"github.com/exascience/elnorm/utils"
)

// ProbeIDColumn is the name of the first column of a text intensity
// matrix.
const ProbeIDColumn = "probe_id"

// A Creator creates an empty store of the given dimensions.
type Creator func(probeCount, channelCount, datasetCount int, names []string) IntensityStore

// LoadText reads a tab-separated intensity matrix. The first column,
// named probe_id, labels the probes; every other column holds the
// intensities of one dataset, named by its header. The rows define
// probe ids 0, 1, 2, ... in order. The file may be compressed.
//
// The text of the whole file is held in memory while loading.
// Intensities are converted and stored one dataset at a time, so that
// a disk-backed store never needs the whole matrix as float64 values
// in memory.
func LoadText(filename string, channelCount int, create Creator) (result IntensityStore, probeIDs []string, err error) {
	table, err := utils.ReadTable(filename)
	if err != nil {
		return nil, nil, err
	}
	if len(table.Header) < 1 || table.Header[0] != ProbeIDColumn {
		return nil, nil, fmt.Errorf("%v is not an intensity matrix - first column must be %v", filename, ProbeIDColumn)
	}
	if len(table.Rows) == 0 {
		return nil, nil, fmt.Errorf("%v is not an intensity matrix - no probes", filename)
	}
	names := table.Header[1:]
	if channelCount <= 0 || len(names)%channelCount != 0 {
		return nil, nil, fmt.Errorf("%v datasets in %v cannot be divided into %v channels", len(names), filename, channelCount)
	}
	probeIDs = make([]string, len(table.Rows))
	for probe, row := range table.Rows {
		probeIDs[probe] = row[0]
	}
	s := create(len(probeIDs), channelCount, len(names), names)
	defer func() {
		if err != nil {
			s.Close()
		}
	}()
	column := make([]float64, len(table.Rows))
	for dataset, name := range names {
		for probe, row := range table.Rows {
			value, err := strconv.ParseFloat(row[dataset+1], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%v, while parsing intensity of probe %v in dataset %v in %v", err, row[0], name, filename)
			}
			column[probe] = value
		}
		s.SetIntensities(dataset, column)
	}
	return s, probeIDs, nil
}

// WriteText writes a store as a tab-separated intensity matrix, in the
// format read by LoadText. If probeIDs is nil, probes are labeled with
// their 1-based index. Values are read in batches of rows, which are
// formatted in parallel. Output to a .gz file is BGZF-compressed.
func WriteText(filename string, s IntensityStore, probeIDs []string) (err error) {
	if probeIDs != nil && len(probeIDs) != s.ProbeCount() {
		return fmt.Errorf("%v probe ids given for %v probes", len(probeIDs), s.ProbeCount())
	}
	out, err := utils.CreateCompressed(filename)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := out.Close(); err == nil {
			err = nerr
		}
	}()
	names := s.DatasetNames()
	buf := append([]byte(nil), ProbeIDColumn...)
	for dataset := 0; dataset < s.DatasetCount(); dataset++ {
		buf = append(buf, '\t')
		if names != nil {
			buf = append(buf, names[dataset]...)
		} else {
			buf = append(buf, "dataset-"...)
			buf = strconv.AppendInt(buf, int64(dataset+1), 10)
		}
	}
	buf = append(buf, '\n')
	if _, err = out.Write(buf); err != nil {
		return err
	}
	type rows struct {
		probes []int
		values []float64
	}
	datasetCount := s.DatasetCount()
	var p pipeline.Pipeline
	p.Source(IdentityOrder(s.ProbeCount()))
	p.Add(
		pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
			probes := data.([]int)
			values := make([]float64, 0, len(probes)*datasetCount)
			for _, probe := range probes {
				for dataset := 0; dataset < datasetCount; dataset++ {
					values = append(values, s.Intensity(probe, dataset))
				}
			}
			return rows{probes, values}
		})),
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			batch := data.(rows)
			var buf []byte
			for i, probe := range batch.probes {
				if probeIDs != nil {
					buf = append(buf, probeIDs[probe]...)
				} else {
					buf = strconv.AppendInt(buf, int64(probe+1), 10)
				}
				for _, value := range batch.values[i*datasetCount : (i+1)*datasetCount] {
					buf = append(buf, '\t')
					buf = strconv.AppendFloat(buf, value, 'g', -1, 64)
				}
				buf = append(buf, '\n')
			}
			return buf
		})),
		pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
			if _, err := out.Write(data.([]byte)); err != nil {
				p.SetErr(err)
			}
			return data
		})),
	)
	internal.RunPipeline(&p)
	return nil
}
