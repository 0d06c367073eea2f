package compaction

import (
	"encoding/binary"

	"github.com/unistore-io/kvengine/config"
)

// Decision is the visibility filter's verdict for the first version of a
// key at or below safe_ts (§4.3).
type Decision int

const (
	DecisionKeep Decision = iota
	DecisionMarkTombstone
	DecisionDrop
)

// filter implements §4.3's per-CF rules, operating on the first version
// of a key that is <= safeTs (every older version is unconditionally
// dropped by the caller before this is consulted).
func filter(cf int, userMeta, payload []byte, safeTs uint64) Decision {
	switch cf {
	case config.LockCF:
		return DecisionKeep
	case config.WriteCF:
		if len(userMeta) == 16 {
			commitTs := binary.LittleEndian.Uint64(userMeta[8:16])
			if commitTs < safeTs && len(payload) == 0 {
				return DecisionMarkTombstone
			}
		}
		return DecisionKeep
	case config.ExtraCF:
		if len(userMeta) == 16 {
			startTs := binary.LittleEndian.Uint64(userMeta[0:8])
			if startTs < safeTs {
				return DecisionDrop
			}
		}
		return DecisionKeep
	default:
		return DecisionKeep
	}
}
