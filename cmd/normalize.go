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
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/elnorm/chipstream"
	"github.com/exascience/elnorm/sketch"
	"github.com/exascience/elnorm/store"
)

// Store backends.
const (
	storeMemory = "memory"
	storeDisk   = "disk"
)

// DefaultPipeline is the pipeline used when --pipeline is not given.
const DefaultPipeline = sketch.Name

// NormalizeHelp is the help string for this command.
const NormalizeHelp = "normalize parameters:\n" +
	"elnorm normalize intensity-file output-file\n" +
	"[--pipeline spec]\n" +
	"[--channels nr]\n" +
	"[--pm-file file]\n" +
	"[--target-out file]\n" +
	"[--store [memory | disk]]\n" +
	"[--tmp-dir path]\n" +
	"[--cache-columns nr]\n" +
	"[--keep-intermediate]\n" +
	"[--verbose]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

type loadOptions struct {
	channels     int
	pmFile       string
	storeKind    string
	tmpDir       string
	cacheColumns int
	specs        []NodeSpec
}

// loadInput reads an intensity matrix into a new store, and records the
// perfect-match annotation if a pm file is given. Disk stores place the
// probes that the pipeline extracts sketches from first.
func loadInput(filename string, opts loadOptions) (store.Store, []string, error) {
	var pm *bitset.BitSet
	create := func(probeCount, channelCount, datasetCount int, names []string) store.IntensityStore {
		if opts.pmFile != "" {
			var err error
			if pm, err = sketch.ReadSubset(opts.pmFile, probeCount); err != nil {
				log.Panic(err)
			}
		}
		if opts.storeKind != storeDisk {
			return store.NewMemoryStore(probeCount, channelCount, datasetCount, names)
		}
		used, err := UsedProbes(opts.specs, pm, probeCount)
		if err != nil {
			log.Panic(err)
		}
		s := store.CreateTempDisk(opts.tmpDir, probeCount, channelCount, datasetCount, names)
		s.SetCacheColumns(opts.cacheColumns)
		if used == nil {
			s.SetProbeOrder(store.IdentityOrder(probeCount))
		} else {
			s.SetProbeOrder(store.OrderFirst(used, probeCount))
		}
		return s
	}
	in, probeIDs, err := store.LoadText(filename, opts.channels, create)
	if err != nil {
		return nil, nil, err
	}
	s := in.(store.Store)
	if pm != nil {
		s.SetBoolColumn(store.PerfectMatch, pm)
	}
	return s, probeIDs, nil
}

// Normalize implements the elnorm normalize command.
func Normalize() error {
	var (
		pipelineSpec, pmFile, targetOut, storeKind, tmpDir, profile, logPath string
		channels, cacheColumns, nrOfThreads                                  int
		keepIntermediate, verbose, timed                                     bool
	)

	var flags flag.FlagSet

	flags.StringVar(&pipelineSpec, "pipeline", DefaultPipeline, "normalization pipeline specification")
	flags.IntVar(&channels, "channels", 1, "number of channels per chip")
	flags.StringVar(&pmFile, "pm-file", "", "probe subset file with the perfect-match probes")
	flags.StringVar(&targetOut, "target-out", "", "write the target sketch of the last quant-norm node to a file")
	flags.StringVar(&storeKind, "store", storeMemory, "where to keep intensities while normalizing")
	flags.StringVar(&tmpDir, "tmp-dir", "", "directory for temporary disk stores")
	flags.IntVar(&cacheColumns, "cache-columns", store.DefaultCacheColumns, "number of dataset vectors cached per disk store")
	flags.BoolVar(&keepIntermediate, "keep-intermediate", false, "keep the intermediate stores of all nodes until the end")
	flags.BoolVar(&verbose, "verbose", false, "log the progress of every pipeline node")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a cpu profile for elnorm")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(&flags, 4, NormalizeHelp)

	input := getFilename(os.Args[2], NormalizeHelp)
	output := getFilename(os.Args[3], NormalizeHelp)

	setLogOutput(logPath)

	// sanity checks

	sanityChecksFailed := false

	if !checkExist("", input) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if pmFile != "" && !checkExist("--pm-file", pmFile) {
		sanityChecksFailed = true
	}
	if targetOut != "" && !checkCreate("--target-out", targetOut) {
		sanityChecksFailed = true
	}
	if !checkStoreKind(storeKind) || !checkTmpDir(tmpDir) {
		sanityChecksFailed = true
	}
	if channels < 1 {
		sanityChecksFailed = true
		log.Println("Error: Invalid channels: ", channels)
	}
	if cacheColumns < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid cache-columns: ", cacheColumns)
	}
	if nrOfThreads < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid nr-of-threads: ", nrOfThreads)
	}

	specs, err := ParsePipeline(pipelineSpec)
	if err != nil {
		sanityChecksFailed = true
		log.Println("Error:", err)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, NormalizeHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " normalize ", input, " ", output)
	fmt.Fprint(&command, " --pipeline ", pipelineSpec)
	fmt.Fprint(&command, " --channels ", channels)
	if pmFile != "" {
		fmt.Fprint(&command, " --pm-file ", pmFile)
	}
	if targetOut != "" {
		fmt.Fprint(&command, " --target-out ", targetOut)
	}
	fmt.Fprint(&command, " --store ", storeKind)
	if storeKind == storeDisk {
		if tmpDir != "" {
			fmt.Fprint(&command, " --tmp-dir ", tmpDir)
		}
		fmt.Fprint(&command, " --cache-columns ", cacheColumns)
	}
	if keepIntermediate {
		fmt.Fprint(&command, " --keep-intermediate")
	}
	if verbose {
		fmt.Fprint(&command, " --verbose")
	}
	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
		fmt.Fprint(&command, " --nr-of-threads ", nrOfThreads)
	}
	if timed {
		fmt.Fprint(&command, " --timed")
	}
	if profile != "" {
		fmt.Fprint(&command, " --profile ", profile)
	}
	if logPath != "" {
		fmt.Fprint(&command, " --log-path ", logPath)
	}

	// executing command

	log.Println("Executing command:\n", command.String())

	var (
		in       store.Store
		probeIDs []string
	)
	timedRun(timed, profile, "Loading intensities.", 1, func() {
		in, probeIDs, err = loadInput(input, loadOptions{
			channels:     channels,
			pmFile:       pmFile,
			storeKind:    storeKind,
			tmpDir:       tmpDir,
			cacheColumns: cacheColumns,
			specs:        specs,
		})
	})
	if err != nil {
		return err
	}
	defer in.Close()

	nodes, err := BuildNodes(specs, in, in.ProbeCount())
	if err != nil {
		return err
	}
	driver := &chipstream.Driver{
		Graph:            BuildGraph(nodes),
		Verbose:          verbose,
		KeepIntermediate: keepIntermediate,
	}
	defer driver.Graph.Close()

	timedRun(timed, profile, "Normalizing intensities.", 2, func() {
		driver.Run(in)
	})

	leaves := driver.Graph.Leaves()
	result := driver.Graph.Output(leaves[len(leaves)-1])
	timedRun(timed, profile, "Writing normalized intensities.", 3, func() {
		err = store.WriteText(output, result, probeIDs)
	})
	if err != nil {
		return err
	}

	if targetOut != "" {
		normalizer := lastNormalizer(nodes)
		if normalizer == nil {
			return fmt.Errorf("--target-out given, but pipeline %v has no %v node", pipelineSpec, sketch.Name)
		}
		return sketch.WriteTarget(targetOut, normalizer.Target().Values())
	}
	return nil
}
