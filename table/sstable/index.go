package sstable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pingcap/errors"
)

// index holds the per-block directory for a table: a common prefix shared
// by every block's first key, the per-block diff-key bytes (addressed by
// blockKeyOffs), and the block addresses themselves. Binary search over
// the diff keys resolves a seek key to a block without touching the data
// section.
type index struct {
	numBlocks     int
	commonPrefix  []byte
	blockKeyOffs  []uint32 // len == numBlocks+1; diff key i is blockKeys[offs[i]:offs[i+1]]
	blockKeys     []byte
	blockAddrs    []BlockAddress
}

// marshalIndex encodes an index per the external wire format:
// u32 checksum || u32 num_blocks || (num_blocks+1)*u32 block_key_offsets ||
// num_blocks*BlockAddress || u16 common_prefix_len || common_prefix ||
// u32 block_keys_len || block_keys.
func marshalIndex(commonPrefix []byte, blockKeyOffs []uint32, blockKeys []byte, addrs []BlockAddress) []byte {
	numBlocks := len(addrs)
	body := make([]byte, 0, 4+len(blockKeyOffs)*4+numBlocks*blockAddressSize+2+len(commonPrefix)+4+len(blockKeys))

	var u32buf [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32buf[:], v)
		body = append(body, u32buf[:]...)
	}
	putU32(uint32(numBlocks))
	for _, off := range blockKeyOffs {
		putU32(off)
	}
	addrBuf := make([]byte, blockAddressSize)
	for _, a := range addrs {
		a.marshal(addrBuf)
		body = append(body, addrBuf...)
	}
	var u16buf [2]byte
	binary.LittleEndian.PutUint16(u16buf[:], uint16(len(commonPrefix)))
	body = append(body, u16buf[:]...)
	body = append(body, commonPrefix...)
	putU32(uint32(len(blockKeys)))
	body = append(body, blockKeys...)

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], checksum(body))
	copy(out[4:], body)
	return out
}

func parseIndex(buf []byte) (*index, error) {
	if len(buf) < 8 {
		return nil, errors.Wrap(ErrCorruption, "index too short")
	}
	wantSum := binary.LittleEndian.Uint32(buf[0:4])
	body := buf[4:]
	if err := validateChecksum(body, wantSum); err != nil {
		return nil, err
	}
	off := 0
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(body[off:])
		off += 4
		return v
	}
	numBlocks := int(readU32())
	offs := make([]uint32, numBlocks+1)
	for i := range offs {
		offs[i] = readU32()
	}
	addrs := make([]BlockAddress, numBlocks)
	for i := range addrs {
		addrs[i] = unmarshalBlockAddress(body[off : off+blockAddressSize])
		off += blockAddressSize
	}
	prefixLen := int(binary.LittleEndian.Uint16(body[off:]))
	off += 2
	commonPrefix := append([]byte(nil), body[off:off+prefixLen]...)
	off += prefixLen
	keysLen := int(readU32())
	blockKeys := append([]byte(nil), body[off:off+keysLen]...)
	off += keysLen

	return &index{
		numBlocks:    numBlocks,
		commonPrefix: commonPrefix,
		blockKeyOffs: offs,
		blockKeys:    blockKeys,
		blockAddrs:   addrs,
	}, nil
}

// blockKey reconstructs block i's first key as commonPrefix||diffKey.
func (idx *index) blockKey(i int) []byte {
	diff := idx.blockKeys[idx.blockKeyOffs[i]:idx.blockKeyOffs[i+1]]
	return append(append([]byte(nil), idx.commonPrefix...), diff...)
}

// seekBlock returns the index of the last block whose first key is <= key,
// or 0 if key is smaller than every block's first key.
func (idx *index) seekBlock(key []byte) int {
	i := sort.Search(idx.numBlocks, func(i int) bool {
		return bytes.Compare(idx.blockKey(i), key) > 0
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

func (idx *index) addr(i int) BlockAddress {
	return idx.blockAddrs[i]
}
