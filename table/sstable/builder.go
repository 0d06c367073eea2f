package sstable

import (
	"bytes"

	"github.com/coocood/bbloom"
	"github.com/dgryski/go-farm"
	"github.com/pingcap/badger/y"
)

// BuilderOptions configures table construction. Defaults are applied by
// config.DefaultTableBuilderOptions; this type is the sstable-package
// mirror of that config so the package has no import-cycle back onto
// config.
type BuilderOptions struct {
	BlockSize   int
	BloomFPR    float64
	Compression CompressionType
}

// Builder assembles a single-CF, single-level table blob. Callers add keys
// in ascending order; for a key with multiple versions, Add is called once
// with every version already sorted newest-first — the newest goes into
// the main (fast-path) block stream, the remainder into the parallel
// old-versions stream consulted only when a point lookup needs an older
// version than the newest on disk.
type Builder struct {
	opts BuilderOptions

	data bytes.Buffer

	curBlock    []byte
	curOldBlock []byte
	curBlockKey []byte // first key appended to curBlock

	blockKeys     [][]byte
	blockAddrs    []BlockAddress
	oldBlockAddrs []BlockAddress

	smallest []byte
	biggest  []byte

	numKeys int
	keyFPs  []uint64
}

func NewBuilder(opts BuilderOptions) *Builder {
	if opts.BlockSize == 0 {
		opts.BlockSize = 64 * 1024
	}
	if opts.BloomFPR == 0 {
		opts.BloomFPR = 0.01
	}
	return &Builder{opts: opts}
}

// Add appends one key and all of its versions (vals[0] newest). vals must
// be sorted by descending Version.
func (b *Builder) Add(key []byte, vals []y.ValueStruct) {
	if len(vals) == 0 {
		return
	}
	if b.smallest == nil {
		b.smallest = append([]byte(nil), key...)
	}
	b.biggest = append(b.biggest[:0], key...)

	if b.curBlock == nil {
		b.curBlockKey = append([]byte(nil), key...)
	}
	b.curBlock = appendBlockEntry(b.curBlock, key, vals[0])
	for _, v := range vals[1:] {
		b.curOldBlock = appendBlockEntry(b.curOldBlock, key, v)
	}

	b.numKeys++
	b.keyFPs = append(b.keyFPs, farm.Fingerprint64(key))

	if len(b.curBlock) >= b.opts.BlockSize {
		b.flushBlock()
	}
}

func (b *Builder) flushBlock() {
	if b.curBlock == nil {
		return
	}
	addr := BlockAddress{CurrOff: uint32(b.data.Len())}
	payload := compress(b.opts.Compression, b.curBlock)
	raw := wrapBlock(payload)
	b.data.Write(raw)
	addr.OriginOff = addr.CurrOff
	b.blockAddrs = append(b.blockAddrs, addr)
	b.blockKeys = append(b.blockKeys, b.curBlockKey)

	oldAddr := BlockAddress{CurrOff: uint32(b.data.Len())}
	if len(b.curOldBlock) > 0 {
		oldPayload := compress(b.opts.Compression, b.curOldBlock)
		oldRaw := wrapBlock(oldPayload)
		b.data.Write(oldRaw)
	}
	oldAddr.OriginOff = oldAddr.CurrOff
	b.oldBlockAddrs = append(b.oldBlockAddrs, oldAddr)

	b.curBlock = nil
	b.curOldBlock = nil
	b.curBlockKey = nil
}

// Empty reports whether any key has been added.
func (b *Builder) Empty() bool { return b.numKeys == 0 }

// EstimatedSize is the number of bytes written to the data section so far,
// used by the executor to decide when to roll over to a new output table.
func (b *Builder) EstimatedSize() int64 {
	return int64(b.data.Len()) + int64(len(b.curBlock)) + int64(len(b.curOldBlock))
}

// SetOriginForLastBlock overrides the origin id/offset recorded for the
// most recently flushed block, for a caller that copies an unchanged
// block's bytes forward from an earlier generation so the cache key is
// preserved across the compaction. The compaction executor rebuilds every
// block and does not call it.
func (b *Builder) SetOriginForLastBlock(originBlobID uint64, originOff uint32) {
	if len(b.blockAddrs) == 0 {
		return
	}
	i := len(b.blockAddrs) - 1
	b.blockAddrs[i].OriginBlobID = originBlobID
	b.blockAddrs[i].OriginOff = originOff
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Finish renders the full blob: data section, bloom filter and index
// properties, index section, old index section, properties section,
// footer.
func (b *Builder) Finish(id uint64) []byte {
	b.flushBlock()

	var commonPrefix []byte
	if len(b.blockKeys) > 0 {
		commonPrefix = append([]byte(nil), b.blockKeys[0]...)
		for _, k := range b.blockKeys[1:] {
			n := commonPrefixLen(commonPrefix, k)
			commonPrefix = commonPrefix[:n]
		}
	}
	var blockKeyBlob []byte
	offs := make([]uint32, len(b.blockKeys)+1)
	for i, k := range b.blockKeys {
		offs[i] = uint32(len(blockKeyBlob))
		blockKeyBlob = append(blockKeyBlob, k[len(commonPrefix):]...)
	}
	offs[len(b.blockKeys)] = uint32(len(blockKeyBlob))

	idxBytes := marshalIndex(commonPrefix, offs, blockKeyBlob, b.blockAddrs)
	oldIdxBytes := marshalIndex(commonPrefix, offs, blockKeyBlob, b.oldBlockAddrs)

	var bloomBytes []byte
	if b.numKeys > 0 {
		bf := bbloom.New(float64(b.numKeys), b.opts.BloomFPR)
		for _, fp := range b.keyFPs {
			var fpBuf [8]byte
			le64(fpBuf[:], fp)
			bf.Add(fpBuf[:])
		}
		bloomBytes = bf.JSONMarshal()
	}

	props := map[string][]byte{
		PropKeySmallest:    b.smallest,
		PropKeyBiggest:     b.biggest,
		PropKeyCompression: {byte(b.opts.Compression)},
	}
	if bloomBytes != nil {
		props[PropKeyBloom] = bloomBytes
	}
	propsBytes := marshalProperties(props)

	dataLen := b.data.Len()
	var out bytes.Buffer
	out.Write(b.data.Bytes())

	indexOffset := uint64(out.Len())
	out.Write(idxBytes)
	oldIndexOffset := uint64(out.Len())
	out.Write(oldIdxBytes)
	propertiesOffset := uint64(out.Len())
	out.Write(propsBytes)

	f := footer{
		magic:            magicNumber,
		checksumType:     checksumCRC32C,
		indexOffset:      indexOffset,
		oldIndexOffset:   oldIndexOffset,
		propertiesOffset: propertiesOffset,
		dataLen:          uint64(dataLen),
	}
	out.Write(f.marshal())
	_ = id
	return out.Bytes()
}

func le64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
