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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elnorm/chipstream"
	"github.com/exascience/elnorm/sketch"
	"github.com/exascience/elnorm/store"
	"github.com/exascience/elnorm/utils"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(contents), 0666))
	return filename
}

func TestParsePipeline(t *testing.T) {
	specs, err := ParsePipeline("quant-norm.sketch=50000.bioc=true, no-trans")
	require.NoError(t, err)
	require.Equal(t, []NodeSpec{
		{Name: "quant-norm", Params: map[string]string{"sketch": "50000", "bioc": "true"}},
		{Name: "no-trans", Params: map[string]string{}},
	}, specs)
}

func TestParsePipelineDottedValues(t *testing.T) {
	specs, err := ParsePipeline("quant-norm.target=./data/target.sketch.txt.usepm=true.target-mean=0.5")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, map[string]string{
		"target":      "./data/target.sketch.txt",
		"usepm":       "true",
		"target-mean": "0.5",
	}, specs[0].Params)
}

func TestParsePipelineErrors(t *testing.T) {
	for _, spec := range []string{
		"",
		"quant-norm,,no-trans",
		".sketch=1",
		"quant-norm.sketch",
		"quant-norm.sketch=1.sketch=2",
	} {
		_, err := ParsePipeline(spec)
		require.Error(t, err, spec)
	}
}

func TestBuildNodes(t *testing.T) {
	target := writeFile(t, "target.txt", "intensities\n1\n2\n3\n")
	specs, err := ParsePipeline("no-trans,quant-norm.target=" + target + ".bioc=1.lowprecision=true")
	require.NoError(t, err)
	nodes, err := BuildNodes(specs, nil, 3)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, chipstream.PassthroughName, nodes[0].Name())
	normalizer, ok := nodes[1].(*sketch.Normalizer)
	require.True(t, ok)
	require.False(t, normalizer.TwoPass())
	require.Equal(t, []float64{1, 2, 3}, normalizer.Target().Values())
	require.Same(t, normalizer, lastNormalizer(nodes))

	g := BuildGraph(nodes)
	require.Equal(t, 2, g.Len())
	require.Equal(t, chipstream.NodeID(0), g.Parent(1))
}

func TestBuildNodesErrors(t *testing.T) {
	target := writeFile(t, "target.txt", "intensities\n1\n2\n3\n")
	for _, spec := range []string{
		"unknown",
		"no-trans.x=1",
		"quant-norm.unknown=1",
		"quant-norm.sketch=x",
		"quant-norm.sketch=-2",
		"quant-norm.bioc=maybe",
		"quant-norm.usepm=true",
		"quant-norm.target-mean=1.target-median=1",
		"quant-norm.target-mean=x",
		"quant-norm.lowprecision=x",
		"quant-norm.target=" + filepath.Join(t.TempDir(), "missing.txt"),
		"quant-norm.subset=" + filepath.Join(t.TempDir(), "missing.txt"),
	} {
		specs, err := ParsePipeline(spec)
		require.NoError(t, err, spec)
		_, err = BuildNodes(specs, nil, 3)
		require.Error(t, err, spec)
	}

	specs, err := ParsePipeline("quant-norm.sketch=4.target=" + target)
	require.NoError(t, err)
	_, err = BuildNodes(specs, nil, 3)
	require.True(t, errors.Is(err, utils.ErrDimensionMismatch), "got %v", err)

	_, err = BuildNodes(nil, nil, 3)
	require.Error(t, err)
}

// brokenAnnotations fails with a nil dereference on every call.
type brokenAnnotations struct {
	store.AnnotationStore
}

func TestBuildNodesRepanicsRuntimeErrors(t *testing.T) {
	specs, err := ParsePipeline("quant-norm.usepm=true")
	require.NoError(t, err)
	defer func() {
		_, ok := recover().(runtime.Error)
		require.True(t, ok)
	}()
	_, _ = BuildNodes(specs, brokenAnnotations{}, 3)
	t.Fatal("BuildNodes returned instead of panicking")
}

func TestBuildNodesPerfectMatch(t *testing.T) {
	s := store.NewMemoryStore(4, 1, 2, nil)
	s.SetBoolColumn(store.PerfectMatch, bitset.New(4).Set(0).Set(1).Set(3))
	s.SetIntensities(0, []float64{1, 2, 100, 3})
	s.SetIntensities(1, []float64{3, 5, 0, 7})
	subset := writeFile(t, "subset.txt", "probe_id\n1\n2\n3\n")

	specs, err := ParsePipeline("quant-norm.usepm=true.subset=" + subset + ".sketch=-1")
	require.NoError(t, err)
	nodes, err := BuildNodes(specs, s, 4)
	require.NoError(t, err)
	normalizer := nodes[0].(*sketch.Normalizer)
	for dataset := 0; dataset < 2; dataset++ {
		normalizer.NewChip(dataset, s.DatasetVector(dataset))
	}
	normalizer.NoMoreChips()
	require.Equal(t, []float64{2, 3.5}, normalizer.Target().Values())

	used, err := UsedProbes(specs, s.BoolColumn(store.PerfectMatch), 4)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, store.OrderFirst(used, 4))
	require.Equal(t, uint(2), used.Count())
}

func TestUsedProbes(t *testing.T) {
	subset := writeFile(t, "subset.txt", "probe_id\n2\n4\n")
	specs, err := ParsePipeline("no-trans,quant-norm.subset=" + subset)
	require.NoError(t, err)
	used, err := UsedProbes(specs, nil, 5)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 0, 2, 4}, store.OrderFirst(used, 5))

	specs, err = ParsePipeline("quant-norm.subset=" + subset + ",quant-norm")
	require.NoError(t, err)
	used, err = UsedProbes(specs, nil, 5)
	require.NoError(t, err)
	require.Nil(t, used)

	specs, err = ParsePipeline("quant-norm.usepm=true")
	require.NoError(t, err)
	used, err = UsedProbes(specs, bitset.New(5).Set(4), 5)
	require.NoError(t, err)
	require.Equal(t, []int{4, 0, 1, 2, 3}, store.OrderFirst(used, 5))
}

func TestLoadInput(t *testing.T) {
	matrix := writeFile(t, "matrix.txt", "probe_id\ta\tb\np1\t1\t4\np2\t2\t5\np3\t3\t6\n")
	pm := writeFile(t, "pm.txt", "probe_id\tinclude\n1\t0\n2\t1\n3\t1\n")
	specs, err := ParsePipeline("quant-norm.usepm=true")
	require.NoError(t, err)
	for _, kind := range []string{storeMemory, storeDisk} {
		s, probeIDs, err := loadInput(matrix, loadOptions{
			channels:     1,
			pmFile:       pm,
			storeKind:    kind,
			tmpDir:       t.TempDir(),
			cacheColumns: 1,
			specs:        specs,
		})
		require.NoError(t, err, kind)
		require.Equal(t, []string{"p1", "p2", "p3"}, probeIDs)
		require.Equal(t, []float64{4, 5, 6}, s.DatasetVector(1))
		require.True(t, s.HasBoolColumn(store.PerfectMatch))
		require.Equal(t, uint(2), s.BoolColumn(store.PerfectMatch).Count())
		if d, ok := s.(*store.DiskStore); ok {
			require.Equal(t, []int{1, 2, 0}, d.ProbeOrder())
		}
		s.Close()
	}
}
