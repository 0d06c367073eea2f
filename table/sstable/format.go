package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
)

// magicNumber identifies a table blob produced by this package. It has no
// meaning beyond acting as a sanity check at open time.
const magicNumber uint32 = 0x1234FFEE

const (
	checksumCRC32C uint8 = 0
)

// footerSize is fixed so Open can always seek to it without reading the
// rest of the blob first.
const footerSize = 4 + 1 + 3 + 8 + 8 + 8 + 8

// footer is the trailing, fixed-size record described in the wire format:
// magic, checksum type, and offsets for the three trailing sections.
type footer struct {
	magic             uint32
	checksumType      uint8
	indexOffset       uint64
	oldIndexOffset    uint64
	propertiesOffset  uint64
	dataLen           uint64
}

func (f *footer) marshal() []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.magic)
	buf[4] = f.checksumType
	binary.LittleEndian.PutUint64(buf[8:16], f.indexOffset)
	binary.LittleEndian.PutUint64(buf[16:24], f.oldIndexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], f.propertiesOffset)
	binary.LittleEndian.PutUint64(buf[32:40], f.dataLen)
	return buf
}

func (f *footer) unmarshal(buf []byte) error {
	if len(buf) != footerSize {
		return errors.Errorf("%w: footer has %d bytes, want %d", ErrInvalidFileSize, len(buf), footerSize)
	}
	f.magic = binary.LittleEndian.Uint32(buf[0:4])
	if f.magic != magicNumber {
		return errors.Wrapf(ErrInvalidMagicNumber, "got %x", f.magic)
	}
	f.checksumType = buf[4]
	f.indexOffset = binary.LittleEndian.Uint64(buf[8:16])
	f.oldIndexOffset = binary.LittleEndian.Uint64(buf[16:24])
	f.propertiesOffset = binary.LittleEndian.Uint64(buf[24:32])
	f.dataLen = binary.LittleEndian.Uint64(buf[32:40])
	return nil
}

// checksum computes the configured checksum (CRC32C/Castagnoli, per the
// external wire format) over data.
func checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
}

func validateChecksum(data []byte, want uint32) error {
	if got := checksum(data); got != want {
		return errors.Wrapf(ErrInvalidChecksum, "got %x want %x", got, want)
	}
	return nil
}

// BlockAddress locates a block both within the current blob (currOff) and,
// when the block's bytes were copied forward unchanged from an earlier
// generation, within that generation's blob (originBlobID/originOff). The
// block cache is keyed on the origin pair so blocks shared across
// generations hit the same cache entry.
type BlockAddress struct {
	CurrOff      uint32
	OriginBlobID uint64
	OriginOff    uint32
}

const blockAddressSize = 4 + 8 + 4

func (a BlockAddress) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], a.CurrOff)
	binary.LittleEndian.PutUint64(buf[4:12], a.OriginBlobID)
	binary.LittleEndian.PutUint32(buf[12:16], a.OriginOff)
}

func unmarshalBlockAddress(buf []byte) BlockAddress {
	return BlockAddress{
		CurrOff:      binary.LittleEndian.Uint32(buf[0:4]),
		OriginBlobID: binary.LittleEndian.Uint64(buf[4:12]),
		OriginOff:    binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// Recognized property keys, per the external wire format's properties
// section (§6): a sequence of {u16 key_len, key, u32 val_len, val}.
const (
	PropKeySmallest   = "smallest"
	PropKeyBiggest    = "biggest"
	PropKeyBloom      = "bloom"
	PropKeyCompression = "compression"
)

func marshalProperties(props map[string][]byte) []byte {
	size := 0
	for k, v := range props {
		size += 2 + len(k) + 4 + len(v)
	}
	buf := make([]byte, size)
	off := 0
	for k, v := range props {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(k)))
		off += 2
		off += copy(buf[off:], k)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(v)))
		off += 4
		off += copy(buf[off:], v)
	}
	return buf
}

func parseProperties(buf []byte) (map[string][]byte, error) {
	props := map[string][]byte{}
	off := 0
	for off < len(buf) {
		if off+2 > len(buf) {
			return nil, errors.Wrap(ErrCorruption, "truncated property key length")
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+keyLen > len(buf) {
			return nil, errors.Wrap(ErrCorruption, "truncated property key")
		}
		key := string(buf[off : off+keyLen])
		off += keyLen
		if off+4 > len(buf) {
			return nil, errors.Wrap(ErrCorruption, "truncated property value length")
		}
		valLen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+valLen > len(buf) {
			return nil, errors.Wrap(ErrCorruption, "truncated property value")
		}
		props[key] = buf[off : off+valLen]
		off += valLen
	}
	return props, nil
}

// IDToFilename renders a table id the way every on-disk and DFS blob name
// is rendered: 16 lower-case hex digits plus the .sst suffix.
func IDToFilename(id uint64) string {
	return fmt.Sprintf("%016x.sst", id)
}

// ParseFileID reverses IDToFilename, rejecting anything that isn't an
// .sst blob name.
func ParseFileID(name string) (uint64, error) {
	name = name[strings.LastIndexByte(name, '/')+1:]
	if !strings.HasSuffix(name, ".sst") {
		return 0, errors.Wrapf(ErrInvalidFileName, "%s", name)
	}
	hexPart := strings.TrimSuffix(name, ".sst")
	id, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidFileName, "%s: %v", name, err)
	}
	return id, nil
}
