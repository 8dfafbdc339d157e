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
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/exascience/elnorm/internal"
	"github.com/exascience/elnorm/utils"
)

// ScaleKind selects the statistic a target sketch is rescaled by.
type ScaleKind int

// The supported kinds of target scaling.
const (
	NoScaling ScaleKind = iota
	ScaleMean
	ScaleMedian
)

func (k ScaleKind) String() string {
	switch k {
	case NoScaling:
		return "none"
	case ScaleMean:
		return "mean"
	case ScaleMedian:
		return "median"
	default:
		return "ScaleKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Scaling requests that a target sketch is multiplied by a constant
// factor such that its mean or median becomes Value.
type Scaling struct {
	Kind  ScaleKind
	Value float64
}

// A Target is a sorted target sketch together with its partial sums.
type Target struct {
	values []float64
	// sums[i] is the sum of values[0:i]
	sums []float64
}

// NewTarget creates a target from a copy of the given sorted values.
func NewTarget(values []float64) *Target {
	if len(values) == 0 {
		utils.Panicf(utils.ErrConfiguration, "empty target sketch")
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			utils.Panicf(utils.ErrConfiguration, "target sketch is not sorted at position %v", i)
		}
	}
	t := &Target{values: append([]float64(nil), values...)}
	t.updateSums()
	return t
}

func (t *Target) updateSums() {
	t.sums = make([]float64, len(t.values)+1)
	floats.CumSum(t.sums[1:], t.values)
}

// Len returns the number of target values.
func (t *Target) Len() int {
	return len(t.values)
}

// Values returns a copy of the target values.
func (t *Target) Values() []float64 {
	return append([]float64(nil), t.values...)
}

// PartialSums returns a copy of the partial sums of the target values.
// Entry i is the sum of the first i values.
func (t *Target) PartialSums() []float64 {
	return append([]float64(nil), t.sums...)
}

// Max returns the largest target value.
func (t *Target) Max() float64 {
	return t.values[len(t.values)-1]
}

// Rescale multiplies all target values by s.Value/actual, where actual
// is the mean or median of the current values. The median of an even
// number of values is the lower of the two middle values.
func (t *Target) Rescale(s Scaling) {
	var actual float64
	switch s.Kind {
	case NoScaling:
		return
	case ScaleMean:
		actual = stat.Mean(t.values, nil)
	case ScaleMedian:
		actual = stat.Quantile(0.5, stat.Empirical, t.values, nil)
	default:
		utils.Panicf(utils.ErrConfiguration, "unknown target scaling %v", s.Kind)
	}
	if actual == 0 || math.IsNaN(actual) || math.IsInf(actual, 0) {
		utils.Panicf(utils.ErrNumericDegeneracy, "cannot scale target sketch with %v %v", s.Kind, actual)
	}
	floats.Scale(s.Value/actual, t.values)
	t.updateSums()
}

// cumulative integrates the piecewise constant function that is
// values[i] on [i, i+1) from 0 to x.
func (t *Target) cumulative(x float64) float64 {
	i := int(math.Floor(x))
	if i >= len(t.values) {
		return t.sums[len(t.values)]
	}
	return t.sums[i] + (x-float64(i))*t.values[i]
}

// mean returns the mean target value over the index range [a, b). A
// range within a single cell yields that cell's value exactly.
func (t *Target) mean(a, b float64) float64 {
	i := int(math.Floor(a))
	if i >= len(t.values) {
		i = len(t.values) - 1
	}
	if b <= a || float64(i+1) >= b {
		return t.values[i]
	}
	return (t.cumulative(b) - t.cumulative(a)) / (b - a)
}

// interpolate maps x onto the target given the sorted sketch of the
// chip that x belongs to. Tied sketch entries map to the mean of the
// corresponding target values. Values between sketch entries are
// interpolated linearly. Values below the sketch are scaled
// proportionally, and values above it are extrapolated from the last
// segment. The result may be non-finite.
func (t *Target) interpolate(sketch []float64, x float64) float64 {
	last := len(sketch) - 1
	lo, hi := bounds(sketch, x)
	switch {
	case hi > lo:
		return t.mean(float64(lo), float64(hi))
	case lo == 0 || last == 0:
		if sketch[0] > 0 {
			return x * t.values[0] / sketch[0]
		}
		return t.values[0]
	case lo > last:
		return t.values[last] + (x-sketch[last])*(t.values[last]-t.values[last-1])/(sketch[last]-sketch[last-1])
	default:
		frac := (x - sketch[lo-1]) / (sketch[lo] - sketch[lo-1])
		return t.values[lo-1] + frac*(t.values[lo]-t.values[lo-1])
	}
}

// TargetColumn is the name of the column that holds target values in
// a target sketch file.
const TargetColumn = "intensities"

const sketchSizeKey = "sketch-size"

// ReadTarget reads a target sketch file, which is a table with a
// single column named intensities. The file may be compressed.
func ReadTarget(filename string) ([]float64, error) {
	table, err := utils.ReadTable(filename)
	if err != nil {
		return nil, err
	}
	col := table.Column(TargetColumn)
	if col < 0 {
		return nil, fmt.Errorf("%v is not a target sketch - missing %v column", filename, TargetColumn)
	}
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("%v is not a target sketch - no values", filename)
	}
	if size, ok := table.Meta[sketchSizeKey]; ok {
		if n := internal.ParseInt(size, 10, 64); n != int64(len(table.Rows)) {
			return nil, fmt.Errorf("%v declares %v values, but has %v", filename, n, len(table.Rows))
		}
	}
	values := make([]float64, len(table.Rows))
	for i, row := range table.Rows {
		value, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return nil, fmt.Errorf("%v, while parsing target sketch %v", err, filename)
		}
		if i > 0 && value < values[i-1] {
			return nil, fmt.Errorf("%v is not a target sketch - values not sorted at line %v", filename, i+1)
		}
		values[i] = value
	}
	return values, nil
}

// WriteTarget writes a target sketch file in the format read by
// ReadTarget. Values are written with full precision.
func WriteTarget(filename string, values []float64) (err error) {
	out, err := utils.CreateCompressed(filename)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := out.Close(); err == nil {
			err = nerr
		}
	}()
	if _, err = fmt.Fprintf(out, "#%%%v=%v\n#%%%v=%v\n%v\n", utils.ProgramName, utils.ProgramVersion, sketchSizeKey, len(values), TargetColumn); err != nil {
		return err
	}
	var buf []byte
	for _, value := range values {
		buf = strconv.AppendFloat(buf[:0], value, 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err = out.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
