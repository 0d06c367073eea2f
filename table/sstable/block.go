package sstable

import (
	"encoding/binary"

	"github.com/pingcap/badger/y"
	"github.com/pingcap/errors"
)

// blockEntry is the on-disk shape of one (key, version) pair within a
// block: u16 keyLen || key || u8 meta || u16 userMetaLen || userMeta ||
// u64 version || u32 valueLen || value.
func appendBlockEntry(buf []byte, key []byte, v y.ValueStruct) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint16(tmp[:2], uint16(len(key)))
	buf = append(buf, tmp[:2]...)
	buf = append(buf, key...)
	buf = append(buf, v.Meta)
	binary.LittleEndian.PutUint16(tmp[:2], uint16(len(v.UserMeta)))
	buf = append(buf, tmp[:2]...)
	buf = append(buf, v.UserMeta...)
	binary.LittleEndian.PutUint64(tmp[:8], v.Version)
	buf = append(buf, tmp[:8]...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(v.Value)))
	buf = append(buf, tmp[:4]...)
	buf = append(buf, v.Value...)
	return buf
}

// blockReader scans the decoded entries of a single block in order.
type blockReader struct {
	data []byte
	off  int
}

func newBlockReader(data []byte) *blockReader {
	return &blockReader{data: data}
}

func (b *blockReader) done() bool { return b.off >= len(b.data) }

func (b *blockReader) rewind() { b.off = 0 }

// next decodes the entry at the current offset and advances past it.
func (b *blockReader) next() (key []byte, v y.ValueStruct, err error) {
	if b.off+2 > len(b.data) {
		return nil, v, errors.Wrap(ErrCorruption, "truncated block entry key length")
	}
	keyLen := int(binary.LittleEndian.Uint16(b.data[b.off:]))
	b.off += 2
	if b.off+keyLen > len(b.data) {
		return nil, v, errors.Wrap(ErrCorruption, "truncated block entry key")
	}
	key = b.data[b.off : b.off+keyLen]
	b.off += keyLen
	if b.off+1+2 > len(b.data) {
		return nil, v, errors.Wrap(ErrCorruption, "truncated block entry meta")
	}
	v.Meta = b.data[b.off]
	b.off++
	umLen := int(binary.LittleEndian.Uint16(b.data[b.off:]))
	b.off += 2
	if b.off+umLen+8+4 > len(b.data) {
		return nil, v, errors.Wrap(ErrCorruption, "truncated block entry user meta")
	}
	v.UserMeta = b.data[b.off : b.off+umLen]
	b.off += umLen
	v.Version = binary.LittleEndian.Uint64(b.data[b.off:])
	b.off += 8
	valLen := int(binary.LittleEndian.Uint32(b.data[b.off:]))
	b.off += 4
	if b.off+valLen > len(b.data) {
		return nil, v, errors.Wrap(ErrCorruption, "truncated block entry value")
	}
	v.Value = b.data[b.off : b.off+valLen]
	b.off += valLen
	return key, v, nil
}

// decodeBlock decodes every entry of a block up front; blocks are small
// (BlockSize, default 64KiB) so this is cheap and simplifies the iterator.
func decodeBlock(data []byte) ([][]byte, []y.ValueStruct, error) {
	r := newBlockReader(data)
	var keys [][]byte
	var vals []y.ValueStruct
	for !r.done() {
		k, v, err := r.next()
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, k)
		vals = append(vals, v)
	}
	return keys, vals, nil
}

func wrapBlock(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], checksum(payload))
	copy(out[4:], payload)
	return out
}

func unwrapBlock(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, errors.Wrap(ErrCorruption, "block shorter than checksum")
	}
	want := binary.LittleEndian.Uint32(raw[0:4])
	payload := raw[4:]
	if err := validateChecksum(payload, want); err != nil {
		return nil, err
	}
	return payload, nil
}
