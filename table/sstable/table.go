package sstable

import (
	"bytes"

	"github.com/coocood/bbloom"
	"github.com/dgryski/go-farm"
	"github.com/pingcap/badger/y"
	"github.com/pingcap/errors"
	"github.com/unistore-io/kvengine/cache"
	"github.com/unistore-io/kvengine/dfs"
)

// Table is an opened, single-CF, single-level table blob, per §4.1.
type Table struct {
	file   dfs.File
	id     uint64
	cache  *cache.Cache
	footer footer

	idx    *index
	oldIdx *index
	bloom  *bbloom.Bloom

	smallest []byte
	biggest  []byte

	compression CompressionType
}

// Open parses footer, index, old index, and properties, validating
// checksums, and returns a ready-to-query Table. It fails fast with one of
// the structural errors in this package for any malformed blob.
func Open(file dfs.File, blkCache *cache.Cache) (*Table, error) {
	size := file.Size()
	if size < int64(footerSize) {
		return nil, errors.Wrapf(ErrInvalidFileSize, "table %d size %d", file.ID(), size)
	}
	footerBuf, err := file.Read(size-int64(footerSize), footerSize)
	if err != nil {
		return nil, err
	}
	var f footer
	if err := f.unmarshal(footerBuf); err != nil {
		return nil, err
	}

	idxLen := int(f.oldIndexOffset - f.indexOffset)
	idxBuf, err := file.Read(int64(f.indexOffset), idxLen)
	if err != nil {
		return nil, err
	}
	idx, err := parseIndex(idxBuf)
	if err != nil {
		return nil, err
	}

	oldIdxLen := int(f.propertiesOffset - f.oldIndexOffset)
	oldIdxBuf, err := file.Read(int64(f.oldIndexOffset), oldIdxLen)
	if err != nil {
		return nil, err
	}
	oldIdx, err := parseIndex(oldIdxBuf)
	if err != nil {
		return nil, err
	}

	propsLen := int(size - int64(footerSize) - int64(f.propertiesOffset))
	propsBuf, err := file.Read(int64(f.propertiesOffset), propsLen)
	if err != nil {
		return nil, err
	}
	props, err := parseProperties(propsBuf)
	if err != nil {
		return nil, err
	}

	compression := CompressionNone
	if c, ok := props[PropKeyCompression]; ok && len(c) == 1 {
		compression = CompressionType(c[0])
	}

	t := &Table{
		file:        file,
		id:          file.ID(),
		cache:       blkCache,
		footer:      f,
		idx:         idx,
		oldIdx:      oldIdx,
		bloom:       loadBloom(props),
		smallest:    props[PropKeySmallest],
		biggest:     props[PropKeyBiggest],
		compression: compression,
	}
	return t, nil
}

func (t *Table) ID() uint64        { return t.id }
func (t *Table) Smallest() []byte  { return t.smallest }
func (t *Table) Biggest() []byte   { return t.biggest }
func (t *Table) Size() int64       { return t.file.Size() }
func (t *Table) NumBlocks() int    { return t.idx.numBlocks }

func (t *Table) blockBounds(idx *index, i int, sectionEnd int64) (off int64, length int64) {
	addr := idx.addr(i)
	off = int64(addr.CurrOff)
	if i+1 < idx.numBlocks {
		length = int64(idx.addr(i+1).CurrOff) - off
	} else {
		length = sectionEnd - off
	}
	return
}

func (t *Table) readDataBlock(i int) ([][]byte, []y.ValueStruct, error) {
	return t.readSectionBlock(t.idx, i, int64(t.footer.indexOffset))
}

func (t *Table) readOldDataBlock(i int) ([][]byte, []y.ValueStruct, error) {
	if i >= t.oldIdx.numBlocks {
		return nil, nil, nil
	}
	off, length := t.blockBounds(t.oldIdx, i, int64(t.footer.propertiesOffset))
	if length <= 0 {
		return nil, nil, nil
	}
	return t.readRawBlockAt(t.oldIdx, i, off, length)
}

func (t *Table) readSectionBlock(idx *index, i int, sectionEnd int64) ([][]byte, []y.ValueStruct, error) {
	off, length := t.blockBounds(idx, i, sectionEnd)
	return t.readRawBlockAt(idx, i, off, length)
}

type decodedBlock struct {
	keys [][]byte
	vals []y.ValueStruct
}

func (t *Table) readRawBlockAt(idx *index, i int, off, length int64) ([][]byte, []y.ValueStruct, error) {
	addr := idx.addr(i)
	ck := cache.Key{BlobID: addr.OriginBlobID, Offset: addr.OriginOff}
	if v, ok := t.cache.Get(ck); ok {
		dec := v.(*decodedBlock)
		return dec.keys, dec.vals, nil
	}
	raw, err := t.file.Read(off, int(length))
	if err != nil {
		return nil, nil, err
	}
	payload, err := unwrapBlock(raw)
	if err != nil {
		return nil, nil, err
	}
	data, err := decompress(t.compression, payload)
	if err != nil {
		return nil, nil, err
	}
	keys, vals, err := decodeBlock(data)
	if err != nil {
		return nil, nil, err
	}
	t.cache.Set(ck, &decodedBlock{keys: keys, vals: vals}, int64(len(data)))
	return keys, vals, nil
}

// Get returns the value for key visible at maxVersion, or an empty
// ValueStruct if key is absent or every version exceeds maxVersion.
func (t *Table) Get(key []byte, maxVersion uint64) (y.ValueStruct, error) {
	if t.bloom != nil && !mayContain(t.bloom, farm.Fingerprint64(key)) {
		return y.ValueStruct{}, nil
	}
	if t.idx.numBlocks == 0 {
		return y.ValueStruct{}, nil
	}
	bi := t.idx.seekBlock(key)
	keys, vals, err := t.readDataBlock(bi)
	if err != nil {
		return y.ValueStruct{}, err
	}
	pos := findKey(keys, key)
	if pos < 0 {
		return y.ValueStruct{}, nil
	}
	v := vals[pos]
	if v.Version <= maxVersion {
		return v, nil
	}
	// Newest on-disk version exceeds maxVersion: descend into the
	// old-versions section for this key.
	oldKeys, oldVals, err := t.readOldDataBlock(bi)
	if err != nil {
		return y.ValueStruct{}, err
	}
	for i, k := range oldKeys {
		if bytes.Equal(k, key) && oldVals[i].Version <= maxVersion {
			return oldVals[i], nil
		}
	}
	return y.ValueStruct{}, nil
}

func findKey(keys [][]byte, key []byte) int {
	for i, k := range keys {
		if bytes.Equal(k, key) {
			return i
		}
	}
	return -1
}

// HasOverlap reports whether [start, end] (end inclusive when includeEnd)
// intersects the table's [smallest, biggest] range.
func (t *Table) HasOverlap(start, end []byte, includeEnd bool) bool {
	if bytes.Compare(start, t.biggest) > 0 {
		return false
	}
	cmp := bytes.Compare(end, t.smallest)
	if cmp < 0 {
		return false
	}
	if cmp == 0 {
		return includeEnd
	}
	return true
}

// GetSuggestSplitKey returns the first key of the middle block, or nil if
// the table is empty.
func (t *Table) GetSuggestSplitKey() []byte {
	if t.idx.numBlocks == 0 {
		return nil
	}
	mid := t.idx.numBlocks / 2
	return t.idx.blockKey(mid)
}

// The methods below expose just enough of a Table's internal block
// structure for package table's iterators to walk it; they are not meant
// for use outside this module.

// SeekBlock returns the index of the block that may contain key.
func (t *Table) SeekBlock(key []byte) int { return t.idx.seekBlock(key) }

// DataBlock decodes the i'th main block: one entry per key, holding that
// key's newest on-disk version.
func (t *Table) DataBlock(i int) ([][]byte, []y.ValueStruct, error) {
	return t.readDataBlock(i)
}

// OldVersionsBlock decodes the i'th old-versions block: zero or more
// entries per key, holding every version older than the one in DataBlock.
func (t *Table) OldVersionsBlock(i int) ([][]byte, []y.ValueStruct, error) {
	return t.readOldDataBlock(i)
}
