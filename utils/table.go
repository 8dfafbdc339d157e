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

package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/exascience/pargo/pipeline"
)

// Table represents a tab-separated text file with one header line.
//
// Lines starting with '#' are comments. Comments of the form
// "#%key=value" are recorded in Meta.
type Table struct {
	Meta   map[string]string
	Header []string
	Rows   [][]string
}

// Column returns the index of the named column, or -1 if the table
// has no such column.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

func parseMeta(line string, meta map[string]string) {
	if !strings.HasPrefix(line, "#%") {
		return
	}
	if kv := strings.SplitN(line[2:], "=", 2); len(kv) == 2 {
		meta[kv[0]] = kv[1]
	}
}

// ReadTable parses a tab-separated text file, which may be
// compressed with gzip, zstd or lz4.
func ReadTable(filename string) (table *Table, err error) {
	in, err := OpenCompressed(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := in.Close(); err == nil {
			err = nerr
		}
	}()
	input := bufio.NewReader(in)
	table = &Table{Meta: make(map[string]string)}
	for table.Header == nil {
		line, rerr := input.ReadString('\n')
		if rerr != nil && (rerr != io.EOF || line == "") {
			if rerr == io.EOF {
				return nil, fmt.Errorf("%v is not a valid table - missing header line", filename)
			}
			return nil, rerr
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
		case line[0] == '#':
			parseMeta(line, table.Meta)
		default:
			table.Header = strings.Split(line, "\t")
		}
	}
	var p pipeline.Pipeline
	p.Source(pipeline.NewScanner(input))
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		lines := data.([]string)
		rows := make([][]string, 0, len(lines))
		for _, line := range lines {
			line = strings.TrimRight(line, "\r")
			if line == "" || line[0] == '#' {
				continue
			}
			fields := strings.Split(line, "\t")
			if len(fields) != len(table.Header) {
				p.SetErr(fmt.Errorf("invalid line %v in %v - expected %v fields, found %v", line, filename, len(table.Header), len(fields)))
				return rows
			}
			rows = append(rows, fields)
		}
		return rows
	})))
	p.Add(pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
		table.Rows = append(table.Rows, data.([][]string)...)
		return data
	})))
	p.Run()
	if err = p.Err(); err != nil {
		return nil, err
	}
	return table, nil
}
