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
	"log"
	"os"

	"golang.org/x/sys/unix"

	"github.com/exascience/elnorm/internal"
)

// mappedFile is a fixed-size file that is memory-mapped on first
// access.
type mappedFile struct {
	name string
	size int
	file *os.File
	data []byte
}

func newMappedFile(name string, size int) *mappedFile {
	return &mappedFile{name: name, size: size}
}

// bytes returns the mapped contents, creating and sizing the file
// if it does not exist yet.
func (m *mappedFile) bytes() []byte {
	if m.file != nil {
		return m.data
	}
	file := internal.FileOpenRW(m.name)
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		log.Panic(err)
	}
	if stat.Size() != int64(m.size) {
		if err := unix.Ftruncate(int(file.Fd()), int64(m.size)); err != nil {
			_ = file.Close()
			log.Panic(err)
		}
	}
	if m.size > 0 {
		data, err := unix.Mmap(int(file.Fd()), 0, m.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = file.Close()
			log.Panic(err)
		}
		m.data = data
	}
	m.file = file
	return m.data
}

func (m *mappedFile) exists() bool {
	return m.file != nil || internal.Exists(m.name)
}

// close unmaps and closes the file, if it was opened.
func (m *mappedFile) close() {
	if m.file == nil {
		return
	}
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if nerr := m.file.Close(); err == nil {
		err = nerr
	}
	m.file = nil
	if err != nil {
		log.Panic(err)
	}
}
