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
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"

	"github.com/exascience/elnorm/internal"
	"github.com/exascience/elnorm/utils"
)

// ElstoreMagic is the magic byte sequence that every store header
// file starts with.
var ElstoreMagic = []byte{0xE1, 0x57, 0x0E, 0x01} // E1570E01 => ELSTORE1

const (
	headerFilename    = "header"
	orderFilename     = "order"
	intensityFilename = "intensity"
	intColumnPrefix   = "int."
	boolColumnPrefix  = "bool."

	// DefaultCacheColumns is the number of dataset vectors a DiskStore
	// keeps cached unless told otherwise.
	DefaultCacheColumns = 4
)

/*
DiskStore is an out-of-core IntensityStore. It keeps its data in a
directory:

	header       magic bytes, dimensions, dataset names
	order        the probe order, one little-endian int32 per disk slot
	intensity    float64 intensities, one column of disk slots per dataset
	int.<name>   int32 annotation columns, in disk slot order
	bool.<name>  serialized bitsets, in disk slot order

The probe order is set exactly once. Disk slot i holds original probe
ProbeOrder()[i]. All vectors passed in or returned are in original
probe order; permutation happens on every write and read.

Files are opened and memory-mapped on first access. Close releases
them, and removes the directory of a temporary store.
*/
type DiskStore struct {
	dir       string
	tmpDir    string
	temporary bool
	closed    bool

	probeCount, channelCount, datasetCount int

	names    []string
	storeAll bool

	order, probeMap []int32

	intensity *mappedFile
	ints      map[string]*mappedFile
	bools     map[string]*bitset.BitSet
	cache     *columnCache
}

func newDiskStore(dir string, probeCount, channelCount, datasetCount int, names []string) *DiskStore {
	return &DiskStore{
		dir:          dir,
		tmpDir:       filepath.Dir(dir),
		probeCount:   probeCount,
		channelCount: channelCount,
		datasetCount: datasetCount,
		names:        copyNames(names),
		storeAll:     true,
		intensity:    newMappedFile(filepath.Join(dir, intensityFilename), 8*probeCount*datasetCount),
		ints:         make(map[string]*mappedFile),
		bools:        make(map[string]*bitset.BitSet),
		cache:        newColumnCache(DefaultCacheColumns),
	}
}

// CreateDisk creates a new persistent store in directory dir. names
// may be nil.
func CreateDisk(dir string, probeCount, channelCount, datasetCount int, names []string) *DiskStore {
	checkDimensions(probeCount, channelCount, datasetCount, names)
	if internal.Exists(filepath.Join(dir, headerFilename)) {
		utils.Panicf(utils.ErrConfiguration, "store %v already exists", dir)
	}
	internal.MkdirAll(dir, 0700)
	s := newDiskStore(dir, probeCount, channelCount, datasetCount, names)
	s.writeHeader()
	return s
}

// CreateTempDisk creates a new store in a fresh directory below tmpDir,
// or below os.TempDir() if tmpDir is empty. The directory is removed
// when the store is closed.
func CreateTempDisk(tmpDir string, probeCount, channelCount, datasetCount int, names []string) *DiskStore {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	s := CreateDisk(filepath.Join(tmpDir, utils.ProgramName+"-"+uuid.New().String()), probeCount, channelCount, datasetCount, names)
	s.temporary = true
	s.tmpDir = tmpDir
	return s
}

// OpenDisk opens a store previously created with CreateDisk.
func OpenDisk(dir string) *DiskStore {
	probeCount, channelCount, datasetCount, names := readHeader(dir)
	s := newDiskStore(dir, probeCount, channelCount, datasetCount, names)
	if filename := filepath.Join(dir, orderFilename); internal.Exists(filename) {
		s.order, s.probeMap = probeMapFor(readOrder(filename), probeCount)
	}
	return s
}

func (s *DiskStore) writeHeader() {
	buf := append([]byte(nil), ElstoreMagic...)
	buf = binary.AppendUvarint(buf, uint64(s.probeCount))
	buf = binary.AppendUvarint(buf, uint64(s.channelCount))
	buf = binary.AppendUvarint(buf, uint64(s.datasetCount))
	buf = binary.AppendUvarint(buf, uint64(len(s.names)))
	for _, name := range s.names {
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
	}
	file := internal.FileCreate(filepath.Join(s.dir, headerFilename))
	defer internal.Close(file)
	internal.Write(file, buf)
}

func readHeader(dir string) (probeCount, channelCount, datasetCount int, names []string) {
	filename := filepath.Join(dir, headerFilename)
	file := internal.FileOpen(filename)
	defer internal.Close(file)
	input := bufio.NewReader(file)
	magic := make([]byte, len(ElstoreMagic))
	if _, err := io.ReadFull(input, magic); err != nil || !bytes.Equal(magic, ElstoreMagic) {
		utils.Panicf(utils.ErrConfiguration, "%v is not an elnorm store - invalid magic byte sequence", dir)
	}
	readUvarint := func(what string) int {
		value, err := binary.ReadUvarint(input)
		if err != nil {
			log.Panicf("%v while parsing %v in store header %v", err, what, filename)
		}
		return int(value)
	}
	probeCount = readUvarint("probe count")
	channelCount = readUvarint("channel count")
	datasetCount = readUvarint("dataset count")
	if n := readUvarint("number of dataset names"); n > 0 {
		names = make([]string, n)
		for i := range names {
			name := make([]byte, readUvarint("dataset name length"))
			if _, err := io.ReadFull(input, name); err != nil {
				log.Panicf("%v while parsing dataset name in store header %v", err, filename)
			}
			names[i] = string(name)
		}
	}
	checkDimensions(probeCount, channelCount, datasetCount, names)
	return
}

func readOrder(filename string) []int {
	data, err := os.ReadFile(filename)
	if err != nil {
		log.Panic(err)
	}
	order := make([]int, len(data)/4)
	for i := range order {
		order[i] = int(int32(binary.LittleEndian.Uint32(data[4*i:])))
	}
	return order
}

func (s *DiskStore) writeOrder() {
	buf := make([]byte, 4*len(s.order))
	for i, id := range s.order {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(id))
	}
	file := internal.FileCreate(filepath.Join(s.dir, orderFilename))
	defer internal.Close(file)
	internal.Write(file, buf)
}

func (s *DiskStore) checkOpen(op string) {
	if s.closed {
		utils.Panicf(utils.ErrUninitialized, "store %v is closed, cannot %v", s.dir, op)
	}
}

func (s *DiskStore) checkSetup(op string) {
	s.checkOpen(op)
	if s.order == nil {
		utils.Panicf(utils.ErrUninitialized, "must set probe order before %v", op)
	}
}

// SetProbeOrder fixes the order in which probes are stored on
// disk. order[i] is the original probe id stored at disk slot i. It
// must be a permutation of [0, ProbeCount()), and can be set only once.
func (s *DiskStore) SetProbeOrder(order []int) {
	s.checkOpen("set probe order")
	if s.order != nil {
		utils.Panicf(utils.ErrConfiguration, "probe order already set for store %v", s.dir)
	}
	s.order, s.probeMap = probeMapFor(order, s.probeCount)
	s.writeOrder()
}

// HasProbeOrder reports whether the probe order has been set.
func (s *DiskStore) HasProbeOrder() bool {
	return s.order != nil
}

// ProbeOrder returns a copy of the probe order.
func (s *DiskStore) ProbeOrder() []int {
	s.checkSetup("get probe order")
	result := make([]int, len(s.order))
	for i, id := range s.order {
		result[i] = int(id)
	}
	return result
}

// ProbeMap returns a copy of the inverse of the probe order: the disk
// slot of each original probe id.
func (s *DiskStore) ProbeMap() []int {
	s.checkSetup("get probe map")
	result := make([]int, len(s.probeMap))
	for i, slot := range s.probeMap {
		result[i] = int(slot)
	}
	return result
}

func (s *DiskStore) offset(dataset, slot int) int {
	return 8 * (dataset*s.probeCount + slot)
}

func (s *DiskStore) Intensity(probe, dataset int) float64 {
	s.checkSetup("get intensity")
	checkProbe(probe, s.probeCount)
	checkDataset(dataset, s.datasetCount)
	if values, ok := s.cache.get(dataset); ok {
		return values[probe]
	}
	data := s.intensity.bytes()
	return math.Float64frombits(binary.LittleEndian.Uint64(data[s.offset(dataset, int(s.probeMap[probe])):]))
}

func (s *DiskStore) SetIntensities(dataset int, values []float64) {
	s.checkSetup("set intensities")
	checkDataset(dataset, s.datasetCount)
	checkVector(dataset, len(values), s.probeCount)
	data := s.intensity.bytes()[s.offset(dataset, 0):s.offset(dataset+1, 0)]
	for slot, id := range s.order {
		binary.LittleEndian.PutUint64(data[8*slot:], math.Float64bits(values[id]))
	}
	s.cache.remove(dataset)
}

func (s *DiskStore) DatasetVector(dataset int) []float64 {
	s.checkSetup("get dataset vector")
	checkDataset(dataset, s.datasetCount)
	if values, ok := s.cache.get(dataset); ok {
		return append([]float64(nil), values...)
	}
	data := s.intensity.bytes()[s.offset(dataset, 0):s.offset(dataset+1, 0)]
	values := make([]float64, s.probeCount)
	for id, slot := range s.probeMap {
		values[id] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*int(slot):]))
	}
	s.cache.put(dataset, values)
	return append([]float64(nil), values...)
}

func (s *DiskStore) DatasetCount() int      { return s.datasetCount }
func (s *DiskStore) ChannelCount() int      { return s.channelCount }
func (s *DiskStore) ProbeCount() int        { return s.probeCount }
func (s *DiskStore) DatasetNames() []string { return copyNames(s.names) }

func (s *DiskStore) SetStoreAllIntensities(all bool) { s.storeAll = all }
func (s *DiskStore) StoreAllIntensities() bool       { return s.storeAll }

// SetCacheColumns sets the number of dataset vectors kept in memory.
func (s *DiskStore) SetCacheColumns(n int) {
	s.cache.resize(n)
}

// Dir returns the directory that holds the store.
func (s *DiskStore) Dir() string {
	return s.dir
}

// EmptyCopy returns a temporary store in the same temporary directory.
func (s *DiskStore) EmptyCopy() IntensityStore {
	s.checkOpen("copy metadata")
	result := CreateTempDisk(s.tmpDir, s.probeCount, s.channelCount, s.datasetCount, s.names)
	if s.order != nil {
		result.SetProbeOrder(s.ProbeOrder())
	}
	result.storeAll = s.storeAll
	result.cache.resize(s.cache.capacity)
	return result
}

// Close unmaps and closes all files. A temporary store also removes
// its directory; failing to do so is logged.
func (s *DiskStore) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.temporary {
		defer func() {
			if err := os.RemoveAll(s.dir); err != nil {
				log.Printf("Warning: could not remove temporary store %v: %v", s.dir, err)
			}
		}()
	}
	s.cache.clear()
	s.bools = nil
	defer s.intensity.close()
	for _, m := range s.ints {
		defer m.close()
	}
}

func (s *DiskStore) intColumn(name string) *mappedFile {
	checkColumnName(name)
	m, ok := s.ints[name]
	if !ok {
		m = newMappedFile(filepath.Join(s.dir, intColumnPrefix+name), 4*s.probeCount)
		s.ints[name] = m
	}
	return m
}

func (s *DiskStore) SetIntColumn(name string, values []int32) {
	s.checkSetup("set annotation column " + name)
	if len(values) != s.probeCount {
		utils.Panicf(utils.ErrDimensionMismatch, "annotation column %v has %v values, expected %v", name, len(values), s.probeCount)
	}
	data := s.intColumn(name).bytes()
	for slot, id := range s.order {
		binary.LittleEndian.PutUint32(data[4*slot:], uint32(values[id]))
	}
}

func (s *DiskStore) IntColumn(name string) []int32 {
	s.checkSetup("get annotation column " + name)
	m := s.intColumn(name)
	if !m.exists() {
		utils.Panicf(utils.ErrUninitialized, "annotation column %v was never populated in store %v", name, s.dir)
	}
	data := m.bytes()
	values := make([]int32, s.probeCount)
	for id, slot := range s.probeMap {
		values[id] = int32(binary.LittleEndian.Uint32(data[4*int(slot):]))
	}
	return values
}

func (s *DiskStore) HasIntColumn(name string) bool {
	s.checkOpen("check annotation column " + name)
	return s.intColumn(name).exists()
}

func (s *DiskStore) boolColumnFilename(name string) string {
	checkColumnName(name)
	return filepath.Join(s.dir, boolColumnPrefix+name)
}

func (s *DiskStore) SetBoolColumn(name string, values *bitset.BitSet) {
	s.checkSetup("set annotation column " + name)
	filename := s.boolColumnFilename(name)
	bits := bitset.New(uint(s.probeCount))
	for slot, id := range s.order {
		if values.Test(uint(id)) {
			bits.Set(uint(slot))
		}
	}
	file := internal.FileCreate(filename)
	defer internal.Close(file)
	if _, err := bits.WriteTo(file); err != nil {
		log.Panic(err)
	}
	s.bools[name] = s.unpermute(bits)
}

func (s *DiskStore) unpermute(bits *bitset.BitSet) *bitset.BitSet {
	result := bitset.New(uint(s.probeCount))
	for id, slot := range s.probeMap {
		if bits.Test(uint(slot)) {
			result.Set(uint(id))
		}
	}
	return result
}

func (s *DiskStore) BoolColumn(name string) *bitset.BitSet {
	s.checkSetup("get annotation column " + name)
	if values, ok := s.bools[name]; ok {
		return values.Clone()
	}
	filename := s.boolColumnFilename(name)
	if !internal.Exists(filename) {
		utils.Panicf(utils.ErrUninitialized, "annotation column %v was never populated in store %v", name, s.dir)
	}
	file := internal.FileOpen(filename)
	defer internal.Close(file)
	bits := new(bitset.BitSet)
	if _, err := bits.ReadFrom(bufio.NewReader(file)); err != nil {
		log.Panic(err)
	}
	values := s.unpermute(bits)
	s.bools[name] = values
	return values.Clone()
}

func (s *DiskStore) HasBoolColumn(name string) bool {
	s.checkOpen("check annotation column " + name)
	if _, ok := s.bools[name]; ok {
		return true
	}
	return internal.Exists(s.boolColumnFilename(name))
}
