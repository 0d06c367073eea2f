package sstable

import (
	"encoding/binary"

	"github.com/unistore-io/kvengine/cache"
	"github.com/unistore-io/kvengine/dfs"
)

// l0Magic tags an L0 blob's trailer, distinct from a single-CF table's
// magicNumber so Open(l0blob) on the wrong path fails fast.
const l0Magic uint32 = 0x5678AAFF

// BuildL0 concatenates per-CF table blobs (each already a complete,
// self-contained sstable per §4.1) into one multi-CF container sharing a
// version, per §6's "L0 blob format": CF layout is recoverable by CF
// index via the trailer's length table.
func BuildL0(cfBlobs [][]byte, version uint64) []byte {
	var out []byte
	offs := make([]uint32, len(cfBlobs))
	for i, b := range cfBlobs {
		offs[i] = uint32(len(out))
		out = append(out, b...)
	}
	var trailer []byte
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(cfBlobs)))
	trailer = append(trailer, u32[:]...)
	for _, off := range offs {
		binary.LittleEndian.PutUint32(u32[:], off)
		trailer = append(trailer, u32[:]...)
	}
	for _, b := range cfBlobs {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(b)))
		trailer = append(trailer, u32[:]...)
	}
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], version)
	trailer = append(trailer, u64[:]...)
	binary.LittleEndian.PutUint32(u32[:], l0Magic)
	trailer = append(trailer, u32[:]...)

	var u32trailerLen [4]byte
	binary.LittleEndian.PutUint32(u32trailerLen[:], uint32(len(trailer)))
	out = append(out, trailer...)
	out = append(out, u32trailerLen[:]...)
	return out
}

// L0Table is a single on-disk blob holding one sub-table per CF, all
// sharing one version (§3: "L0Table").
type L0Table struct {
	file    dfs.File
	id      uint64
	version uint64
	cfs     []*Table
}

func OpenL0(file dfs.File, blkCache *cache.Cache) (*L0Table, error) {
	size := file.Size()
	if size < 4 {
		return nil, ErrInvalidFileSize
	}
	trailerLenBuf, err := file.Read(size-4, 4)
	if err != nil {
		return nil, err
	}
	trailerLen := int64(binary.LittleEndian.Uint32(trailerLenBuf))
	if trailerLen < 4 || trailerLen > size-4 {
		return nil, ErrInvalidMagicNumber
	}
	trailerBuf, err := file.Read(size-4-trailerLen, int(trailerLen))
	if err != nil {
		return nil, err
	}
	off := 0
	numCFs := int(binary.LittleEndian.Uint32(trailerBuf[off:]))
	off += 4
	// header (numCFs) + offs + lens + version + magic, bounds-checked up
	// front so a malformed or non-L0 blob fails with ErrInvalidMagicNumber
	// instead of panicking on a short slice.
	want := 4 + numCFs*4 + numCFs*4 + 8 + 4
	if numCFs < 0 || want != len(trailerBuf) {
		return nil, ErrInvalidMagicNumber
	}
	offs := make([]uint32, numCFs)
	for i := range offs {
		offs[i] = binary.LittleEndian.Uint32(trailerBuf[off:])
		off += 4
	}
	lens := make([]uint32, numCFs)
	for i := range lens {
		lens[i] = binary.LittleEndian.Uint32(trailerBuf[off:])
		off += 4
	}
	version := binary.LittleEndian.Uint64(trailerBuf[off:])
	off += 8
	magic := binary.LittleEndian.Uint32(trailerBuf[off:])
	if magic != l0Magic {
		return nil, ErrInvalidMagicNumber
	}

	t := &L0Table{file: file, id: file.ID(), version: version, cfs: make([]*Table, numCFs)}
	for cf := 0; cf < numCFs; cf++ {
		if lens[cf] == 0 {
			continue
		}
		blob, err := file.Read(int64(offs[cf]), int(lens[cf]))
		if err != nil {
			return nil, err
		}
		sub, err := Open(dfs.NewInMemFile(file.ID(), blob), blkCache)
		if err != nil {
			return nil, err
		}
		t.cfs[cf] = sub
	}
	return t, nil
}

func (t *L0Table) ID() uint64      { return t.id }
func (t *L0Table) Version() uint64 { return t.version }
func (t *L0Table) Size() int64     { return t.file.Size() }

// CF returns the CF's sub-table, or nil if that CF had no keys in this
// generation.
func (t *L0Table) CF(cf int) *Table {
	if cf < 0 || cf >= len(t.cfs) {
		return nil
	}
	return t.cfs[cf]
}
