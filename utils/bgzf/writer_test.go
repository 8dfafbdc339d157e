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

package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func decompress(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	result, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return result
}

// blocks splits a BGZF file at the block sizes recorded in the headers.
func blocks(t *testing.T, data []byte) (sizes []int) {
	t.Helper()
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 18)
		require.Equal(t, []byte{0x1f, 0x8b, 0x08, 0x04}, data[:4])
		require.Equal(t, []byte{'B', 'C'}, data[12:14])
		size := int(binary.LittleEndian.Uint16(data[16:18])) + 1
		require.LessOrEqual(t, size, len(data))
		sizes = append(sizes, int(binary.LittleEndian.Uint32(data[size-4:size])))
		data = data[size:]
	}
	return sizes
}

func TestWriterRoundTrip(t *testing.T) {
	input := make([]byte, 3*BlockSize+1234)
	rnd := rand.New(rand.NewSource(42))
	for i := range input {
		input[i] = "ACGT\t\n0123456789"[rnd.Intn(16)]
	}
	for _, level := range []int{flate.HuffmanOnly, flate.BestSpeed, flate.DefaultCompression, flate.BestCompression} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, level)
		require.NoError(t, err)
		// uneven writes cross block boundaries
		for rest := input; len(rest) > 0; {
			k := min(len(rest), 10007)
			n, err := w.Write(rest[:k])
			require.NoError(t, err)
			require.Equal(t, k, n)
			rest = rest[k:]
		}
		require.NoError(t, w.Close())
		require.NoError(t, w.Close())
		require.Equal(t, input, decompress(t, buf.Bytes()))
		require.Equal(t, []int{BlockSize, BlockSize, BlockSize, 1234, 0}, blocks(t, buf.Bytes()))
	}
}

func TestWriterIncompressible(t *testing.T) {
	input := make([]byte, 2*BlockSize)
	rand.New(rand.NewSource(7)).Read(input)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = w.Write(input)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, input, decompress(t, buf.Bytes()))
}

func TestWriterEmpty(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, eofBlock, buf.Bytes())
	require.Empty(t, decompress(t, buf.Bytes()))
}

type failingWriter struct{}

var errFailing = errors.New("failing writer")

func (failingWriter) Write([]byte) (int, error) {
	return 0, errFailing
}

func TestWriterErrors(t *testing.T) {
	_, err := NewWriter(io.Discard, 42)
	require.Error(t, err)

	w, err := NewWriter(failingWriter{}, flate.DefaultCompression)
	require.NoError(t, err)
	input := make([]byte, 4*BlockSize)
	var werr error
	for i := 0; i < 8 && werr == nil; i++ {
		_, werr = w.Write(input)
	}
	cerr := w.Close()
	require.True(t, errors.Is(werr, errFailing) || errors.Is(cerr, errFailing))

	_, err = w.Write([]byte("late"))
	require.Error(t, err)
}
