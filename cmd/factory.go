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

package cmd

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elnorm/chipstream"
	"github.com/exascience/elnorm/sketch"
	"github.com/exascience/elnorm/store"
)

// Keys of quant-norm nodes in pipeline specifications.
const (
	keySketch       = "sketch"
	keyBioc         = "bioc"
	keyTarget       = "target"
	keySubset       = "subset"
	keyUsePM        = "usepm"
	keyTargetMean   = "target-mean"
	keyTargetMedian = "target-median"
	keyLowPrecision = "lowprecision"
)

// A NodeSpec is one decoded node of a pipeline specification.
type NodeSpec struct {
	Name   string
	Params map[string]string
}

// ParsePipeline decodes a pipeline specification. Nodes are separated
// by commas. Each node is a name followed by .key=value parameters, for
// example
//
//	quant-norm.sketch=50000.bioc=true,no-trans
//
// Values may contain dots, so that file names can be passed as
// parameters.
func ParsePipeline(spec string) ([]NodeSpec, error) {
	var result []NodeSpec
	for _, element := range strings.Split(spec, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			return nil, fmt.Errorf("empty node in pipeline %q", spec)
		}
		segments := strings.Split(element, ".")
		node := NodeSpec{Name: segments[0], Params: make(map[string]string)}
		if node.Name == "" {
			return nil, fmt.Errorf("missing node name in %q", element)
		}
		var key string
		for _, segment := range segments[1:] {
			if kv := strings.SplitN(segment, "=", 2); len(kv) == 2 && kv[0] != "" {
				key = kv[0]
				if _, ok := node.Params[key]; ok {
					return nil, fmt.Errorf("parameter %v given twice for %v", key, node.Name)
				}
				node.Params[key] = kv[1]
			} else if key != "" {
				node.Params[key] += "." + segment
			} else {
				return nil, fmt.Errorf("invalid parameter %q for %v", segment, node.Name)
			}
		}
		result = append(result, node)
	}
	return result, nil
}

// BuildNodes creates the nodes of a pipeline specification, in order.
// probeCount is needed to read subset files. annotations may be nil if
// no node uses the perfect-match annotation.
func BuildNodes(specs []NodeSpec, annotations store.AnnotationStore, probeCount int) (nodes []chipstream.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(error)
			if !ok {
				panic(r)
			}
			if _, ok := rerr.(runtime.Error); ok {
				panic(rerr)
			}
			nodes, err = nil, rerr
		}
	}()
	for _, spec := range specs {
		switch spec.Name {
		case chipstream.PassthroughName:
			if len(spec.Params) > 0 {
				return nil, fmt.Errorf("%v does not take parameters", spec.Name)
			}
			nodes = append(nodes, chipstream.Passthrough{})
		case sketch.Name:
			normalizer, err := buildNormalizer(spec.Params, annotations, probeCount)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, normalizer)
		default:
			return nil, fmt.Errorf("unknown pipeline node %v", spec.Name)
		}
	}
	if len(nodes) == 0 {
		return nil, errors.New("empty pipeline")
	}
	return nodes, nil
}

// BuildGraph chains nodes in a graph.
func BuildGraph(nodes []chipstream.Node) *chipstream.Graph {
	g := new(chipstream.Graph)
	g.Chain(nodes...)
	return g
}

func perfectMatch(annotations store.AnnotationStore) (*bitset.BitSet, error) {
	if annotations == nil || !annotations.HasBoolColumn(store.PerfectMatch) {
		return nil, fmt.Errorf("%v=true requires a perfect-match annotation", keyUsePM)
	}
	return annotations.BoolColumn(store.PerfectMatch), nil
}

func buildNormalizer(params map[string]string, annotations store.AnnotationStore, probeCount int) (*sketch.Normalizer, error) {
	var (
		opts   sketch.Options
		subset *bitset.BitSet
		usePM  bool
		err    error
	)
	for key, value := range params {
		switch key {
		case keySketch:
			size, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%v, while parsing %v", err, key)
			}
			switch {
			case size == -1:
				opts.Exact = true
			case size < -1:
				return nil, fmt.Errorf("invalid sketch size %v", size)
			default:
				opts.SketchSize = size
			}
		case keyBioc:
			bioc, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("%v, while parsing %v", err, key)
			}
			if bioc {
				opts.Ties = sketch.Bioc
			}
		case keyTarget:
			if opts.Target, err = sketch.ReadTarget(value); err != nil {
				return nil, err
			}
		case keySubset:
			if subset, err = sketch.ReadSubset(value, probeCount); err != nil {
				return nil, err
			}
		case keyUsePM:
			if usePM, err = strconv.ParseBool(value); err != nil {
				return nil, fmt.Errorf("%v, while parsing %v", err, key)
			}
		case keyTargetMean, keyTargetMedian:
			if opts.Scaling.Kind != sketch.NoScaling {
				return nil, fmt.Errorf("only one of %v and %v can be given", keyTargetMean, keyTargetMedian)
			}
			if opts.Scaling.Value, err = strconv.ParseFloat(value, 64); err != nil {
				return nil, fmt.Errorf("%v, while parsing %v", err, key)
			}
			if key == keyTargetMean {
				opts.Scaling.Kind = sketch.ScaleMean
			} else {
				opts.Scaling.Kind = sketch.ScaleMedian
			}
		case keyLowPrecision:
			if opts.LowPrecision, err = strconv.ParseBool(value); err != nil {
				return nil, fmt.Errorf("%v, while parsing %v", err, key)
			}
		default:
			return nil, fmt.Errorf("unknown parameter %v for %v", key, sketch.Name)
		}
	}
	if usePM {
		pm, err := perfectMatch(annotations)
		if err != nil {
			return nil, err
		}
		if subset == nil {
			subset = pm
		} else {
			subset = subset.Intersection(pm)
		}
	}
	opts.Subset = subset
	return sketch.New(opts), nil
}

// UsedProbes returns the probes that the quant-norm nodes of a pipeline
// extract sketches from, or nil if some node uses all probes. pm is the
// perfect-match annotation, or nil.
func UsedProbes(specs []NodeSpec, pm *bitset.BitSet, probeCount int) (*bitset.BitSet, error) {
	used := bitset.New(uint(probeCount))
	for _, spec := range specs {
		if spec.Name != sketch.Name {
			continue
		}
		var subset *bitset.BitSet
		if filename, ok := spec.Params[keySubset]; ok {
			var err error
			if subset, err = sketch.ReadSubset(filename, probeCount); err != nil {
				return nil, err
			}
		}
		if value, ok := spec.Params[keyUsePM]; ok {
			usePM, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("%v, while parsing %v", err, keyUsePM)
			}
			if usePM && pm != nil {
				if subset == nil {
					subset = pm
				} else {
					subset = subset.Intersection(pm)
				}
			}
		}
		if subset == nil {
			return nil, nil
		}
		used.InPlaceUnion(subset)
	}
	return used, nil
}

// lastNormalizer returns the last sketch normalizer in nodes, or nil.
func lastNormalizer(nodes []chipstream.Node) *sketch.Normalizer {
	for i := len(nodes) - 1; i >= 0; i-- {
		if n, ok := nodes[i].(*sketch.Normalizer); ok {
			return n
		}
	}
	return nil
}
