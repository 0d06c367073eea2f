package sstable

import "github.com/golang/snappy"

// CompressionType selects the block codec, styled after the CompressionType
// enum used for the raft-log rocksdb engine elsewhere in this lineage.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

func compress(ct CompressionType, data []byte) []byte {
	switch ct {
	case CompressionSnappy:
		return snappy.Encode(nil, data)
	default:
		return data
	}
}

func decompress(ct CompressionType, data []byte) ([]byte, error) {
	switch ct {
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	default:
		return data, nil
	}
}
