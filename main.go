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

// elnorm is a tool for normalizing microarray probe intensities with
// sketch quantile normalization, in memory or out of core.
//
// Please see https://github.com/exascience/elnorm for a documentation
// of the tool.
package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/exascience/elnorm/cmd"
	"github.com/exascience/elnorm/utils"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: normalize, sketch")
	fmt.Fprint(os.Stderr, "\n", cmd.NormalizeHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.SketchHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(runtime.Error); ok {
				panic(rerr)
			}
			// log.Panic has already logged its message
			if _, logged := r.(string); !logged {
				log.Println("Error:", utils.Recovered(r))
			}
			os.Exit(1)
		}
	}()

	var err error
	switch os.Args[1] {
	case "normalize":
		err = cmd.Normalize()
	case "sketch":
		err = cmd.Sketch()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		log.Println("Unknown command", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}
