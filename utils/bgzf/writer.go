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

// Package bgzf writes block-compressed gzip files. Each block of at
// most BlockSize input bytes is compressed in parallel as a separate
// gzip member carrying the BC extra subfield, so any gzip reader can
// decompress the result.
package bgzf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"sync"

	"github.com/exascience/pargo/pipeline"
	"github.com/klauspost/compress/flate"
)

// BlockSize is the maximum number of uncompressed bytes in one block.
// It leaves room for the framing of incompressible data.
const BlockSize = 0xff00

// maxBlockSize is the maximum size of a compressed block.
const maxBlockSize = 65536

// blockHeader is the fixed gzip member header with a BC extra
// subfield. Bytes 16 and 17 receive the total block size minus one.
var blockHeader = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x00, 0x00,
}

// eofBlock is the empty block that terminates a BGZF file.
var eofBlock = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

var flatePools sync.Map // level -> *sync.Pool

func flatePool(level int) *sync.Pool {
	if pool, ok := flatePools.Load(level); ok {
		return pool.(*sync.Pool)
	}
	pool, _ := flatePools.LoadOrStore(level, &sync.Pool{})
	return pool.(*sync.Pool)
}

// blockSource feeds blocks handed over by Write to the compression
// pipeline.
type blockSource struct {
	blocks <-chan []byte
	data   []byte
}

func (*blockSource) Err() error {
	return nil
}

func (*blockSource) Prepare(_ context.Context) int {
	return -1
}

func (src *blockSource) Fetch(_ int) int {
	block, ok := <-src.blocks
	if !ok {
		src.data = nil
		return 0
	}
	src.data = block
	return 1
}

func (src *blockSource) Data() interface{} {
	return src.data
}

// Writer compresses in parallel to an underlying io.Writer. It must
// be closed to flush the last block and write the EOF marker.
type Writer struct {
	w      io.Writer
	level  int
	p      pipeline.Pipeline
	wait   sync.WaitGroup
	block  []byte
	blocks chan []byte
	done   chan struct{}
	closed bool
}

// NewWriter returns a Writer for the given io.Writer. The level is
// one of the flate compression levels, from flate.HuffmanOnly to
// flate.BestCompression.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, errors.New("invalid BGZF compression level")
	}
	bgzf := &Writer{
		w:      w,
		level:  level,
		block:  make([]byte, 0, BlockSize),
		blocks: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	bgzf.p.Source(&blockSource{blocks: bgzf.blocks})
	bgzf.p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			compressed, err := bgzf.compress(data.([]byte))
			if err != nil {
				bgzf.p.SetErr(err)
			}
			return compressed
		})),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			if _, err := w.Write(data.([]byte)); err != nil {
				bgzf.p.SetErr(err)
			}
			return nil
		})),
	)
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		defer close(bgzf.done)
		bgzf.p.Run()
	}()
	return bgzf, nil
}

// compress produces one complete gzip member for the given block.
func (bgzf *Writer) compress(block []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(block) + len(blockHeader) + 64)
	buf.Write(blockHeader)
	pool := flatePool(bgzf.level)
	var fw *flate.Writer
	if pooled := pool.Get(); pooled != nil {
		fw = pooled.(*flate.Writer)
		fw.Reset(&buf)
	} else {
		var err error
		if fw, err = flate.NewWriter(&buf, bgzf.level); err != nil {
			return nil, err
		}
	}
	defer pool.Put(fw)
	if _, err := fw.Write(block); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[0:4], crc32.ChecksumIEEE(block))
	binary.LittleEndian.PutUint32(tail[4:8], uint32(len(block)))
	buf.Write(tail[:])
	result := buf.Bytes()
	if len(result) > maxBlockSize {
		return nil, errors.New("compressed BGZF block exceeds maximum block size")
	}
	binary.LittleEndian.PutUint16(result[16:18], uint16(len(result)-1))
	return result, nil
}

// send hands the current block to the pipeline. It fails if the
// pipeline already stopped because of an error.
func (bgzf *Writer) send() error {
	select {
	case bgzf.blocks <- bgzf.block:
		bgzf.block = make([]byte, 0, BlockSize)
		return nil
	case <-bgzf.done:
		if err := bgzf.p.Err(); err != nil {
			return err
		}
		return errors.New("BGZF pipeline terminated")
	}
}

// Write implements the corresponding method of io.Writer.
func (bgzf *Writer) Write(p []byte) (n int, err error) {
	if bgzf.closed {
		return 0, errors.New("write to closed BGZF writer")
	}
	for len(p) > 0 {
		k := copy(bgzf.block[len(bgzf.block):BlockSize], p)
		bgzf.block = bgzf.block[:len(bgzf.block)+k]
		p = p[k:]
		n += k
		if len(bgzf.block) == BlockSize {
			if err = bgzf.send(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Close flushes any pending data and writes the EOF marker. It does
// not close the underlying io.Writer.
func (bgzf *Writer) Close() error {
	if bgzf.closed {
		return nil
	}
	bgzf.closed = true
	var err error
	if len(bgzf.block) > 0 {
		err = bgzf.send()
	}
	close(bgzf.blocks)
	bgzf.wait.Wait()
	if perr := bgzf.p.Err(); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	_, err = bgzf.w.Write(eofBlock)
	return err
}
