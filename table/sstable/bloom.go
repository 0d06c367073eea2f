package sstable

import "github.com/coocood/bbloom"

// loadBloom decodes the bloom filter property written by Builder.Finish.
// A table with no keys, or one built before bloom filters were enabled,
// has no PropKeyBloom entry; mayContain then always answers true and the
// caller falls through to the block scan.
func loadBloom(props map[string][]byte) *bbloom.Bloom {
	raw, ok := props[PropKeyBloom]
	if !ok || len(raw) == 0 {
		return nil
	}
	return bbloom.JSONUnmarshal(raw)
}

func mayContain(bf *bbloom.Bloom, fp uint64) bool {
	if bf == nil {
		return true
	}
	var buf [8]byte
	le64(buf[:], fp)
	return bf.Has(buf[:])
}
