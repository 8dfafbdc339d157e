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
	"strconv"

	"github.com/exascience/elnorm/sketch"
)

// SketchHelp is the help string for this command.
const SketchHelp = "sketch parameters:\n" +
	"elnorm sketch intensity-file target-file\n" +
	"[--sketch-size nr]\n" +
	"[--exact]\n" +
	"[--subset file]\n" +
	"[--pm-file file]\n" +
	"[--use-pm]\n" +
	"[--target-mean value]\n" +
	"[--target-median value]\n" +
	"[--channels nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Sketch implements the elnorm sketch command. It computes the target
// sketch of a set of chips and writes it to a file that normalize can
// use as a precomputed target.
func Sketch() error {
	var (
		subsetFile, pmFile, profile, logPath string
		targetMean, targetMedian             float64
		sketchSize, channels                 int
		exact, usePM, timed                  bool
	)

	var flags flag.FlagSet

	flags.IntVar(&sketchSize, "sketch-size", 0, "number of values sampled per chip")
	flags.BoolVar(&exact, "exact", false, "sample all values of a chip")
	flags.StringVar(&subsetFile, "subset", "", "probe subset file restricting the sampled probes")
	flags.StringVar(&pmFile, "pm-file", "", "probe subset file with the perfect-match probes")
	flags.BoolVar(&usePM, "use-pm", false, "only sample perfect-match probes")
	flags.Float64Var(&targetMean, "target-mean", 0, "scale the target sketch to this mean")
	flags.Float64Var(&targetMedian, "target-median", 0, "scale the target sketch to this median")
	flags.IntVar(&channels, "channels", 1, "number of channels per chip")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a cpu profile for elnorm")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(&flags, 4, SketchHelp)

	input := getFilename(os.Args[2], SketchHelp)
	output := getFilename(os.Args[3], SketchHelp)

	setLogOutput(logPath)

	// sanity checks

	sanityChecksFailed := false

	if !checkExist("", input) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if subsetFile != "" && !checkExist("--subset", subsetFile) {
		sanityChecksFailed = true
	}
	if pmFile != "" && !checkExist("--pm-file", pmFile) {
		sanityChecksFailed = true
	}
	if usePM && pmFile == "" {
		sanityChecksFailed = true
		log.Println("Error: Attempt to sample perfect-match probes without specifying a pm file. Please add the --pm-file option to your call.")
	}
	if sketchSize < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid sketch-size: ", sketchSize)
	}
	if exact && sketchSize != 0 {
		log.Println("Warning: The --sketch-size option is set with using --exact. The parameter is ignored.")
	}
	if targetMean != 0 && targetMedian != 0 {
		sanityChecksFailed = true
		log.Println("Error: Only one of --target-mean and --target-median can be given.")
	}
	if channels < 1 {
		sanityChecksFailed = true
		log.Println("Error: Invalid channels: ", channels)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, SketchHelp)
		os.Exit(1)
	}

	// building output command line and node parameters

	params := make(map[string]string)
	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " sketch ", input, " ", output)
	if exact {
		params[keySketch] = "-1"
		fmt.Fprint(&command, " --exact")
	} else if sketchSize > 0 {
		params[keySketch] = strconv.Itoa(sketchSize)
		fmt.Fprint(&command, " --sketch-size ", sketchSize)
	}
	if subsetFile != "" {
		params[keySubset] = subsetFile
		fmt.Fprint(&command, " --subset ", subsetFile)
	}
	if pmFile != "" {
		fmt.Fprint(&command, " --pm-file ", pmFile)
	}
	if usePM {
		params[keyUsePM] = "true"
		fmt.Fprint(&command, " --use-pm")
	}
	if targetMean != 0 {
		params[keyTargetMean] = strconv.FormatFloat(targetMean, 'g', -1, 64)
		fmt.Fprint(&command, " --target-mean ", targetMean)
	}
	if targetMedian != 0 {
		params[keyTargetMedian] = strconv.FormatFloat(targetMedian, 'g', -1, 64)
		fmt.Fprint(&command, " --target-median ", targetMedian)
	}
	fmt.Fprint(&command, " --channels ", channels)
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

	in, _, err := loadInput(input, loadOptions{
		channels:  channels,
		pmFile:    pmFile,
		storeKind: storeMemory,
	})
	if err != nil {
		return err
	}
	defer in.Close()

	nodes, err := BuildNodes([]NodeSpec{{Name: sketch.Name, Params: params}}, in, in.ProbeCount())
	if err != nil {
		return err
	}
	normalizer := nodes[0].(*sketch.Normalizer)

	timedRun(timed, profile, "Computing target sketch.", 1, func() {
		for dataset := 0; dataset < in.DatasetCount(); dataset++ {
			normalizer.NewChip(dataset, in.DatasetVector(dataset))
		}
		normalizer.NoMoreChips()
	})
	target := normalizer.Target().Values()
	normalizer.EndOfStream()
	log.Printf("Computed a target sketch of %v values from %v datasets.\n", len(target), in.DatasetCount())
	return sketch.WriteTarget(output, target)
}
