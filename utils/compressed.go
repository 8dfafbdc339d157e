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
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/exascience/elnorm/utils/bgzf"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

type compressedReader struct {
	io.Reader
	closers []io.Closer
}

func (r *compressedReader) Close() (err error) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if nerr := r.closers[i].Close(); err == nil {
			err = nerr
		}
	}
	r.closers = nil
	return err
}

type zstdCloser struct{ *zstd.Decoder }

func (d zstdCloser) Close() error {
	d.Decoder.Close()
	return nil
}

// HandleCompressed checks the first bytes of buf for gzip (including
// BGZF), zstd, or lz4 frame magic numbers, and wraps buf in the
// corresponding decompressor. Uncompressed input is returned as is.
// The returned closer, if not nil, must be closed once reading is done.
func HandleCompressed(buf *bufio.Reader) (io.Reader, io.Closer, error) {
	magic, err := buf.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		r, err := gzip.NewReader(buf)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case bytes.HasPrefix(magic, zstdMagic):
		d, err := zstd.NewReader(buf, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return d, zstdCloser{d}, nil
	case bytes.HasPrefix(magic, lz4Magic):
		return lz4.NewReader(buf), nil, nil
	default:
		return buf, nil, nil
	}
}

// OpenCompressed opens the named file for reading and transparently
// decompresses it if necessary. Closing the result also closes the file.
func OpenCompressed(filename string) (io.ReadCloser, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r, c, err := HandleCompressed(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%v, while opening %v", err, filename)
	}
	result := &compressedReader{Reader: r, closers: []io.Closer{f}}
	if c != nil {
		result.closers = append(result.closers, c)
	}
	return result, nil
}

type compressedWriter struct {
	*bufio.Writer
	bgzf *bgzf.Writer
	file *os.File
}

func (w *compressedWriter) Close() (err error) {
	err = w.Writer.Flush()
	if w.bgzf != nil {
		if nerr := w.bgzf.Close(); err == nil {
			err = nerr
		}
	}
	if nerr := w.file.Close(); err == nil {
		err = nerr
	}
	return err
}

// CreateCompressed creates the named file for writing. If the filename
// ends in .gz, the output is BGZF-compressed. Output is buffered, and
// only complete once the result is closed.
func CreateCompressed(filename string) (io.WriteCloser, error) {
	pathname, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(pathname)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(filename, ".gz") {
		return &compressedWriter{Writer: bufio.NewWriter(f), file: f}, nil
	}
	bw, err := bgzf.NewWriter(f, flate.DefaultCompression)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &compressedWriter{Writer: bufio.NewWriterSize(bw, bgzf.BlockSize), bgzf: bw, file: f}, nil
}
