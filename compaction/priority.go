package compaction

import (
	"math"
	"sort"
)

// Priority is one shard's best (CF, level) compaction candidate and its
// score; CF == -1 marks an L0 candidate (§4.3).
type Priority struct {
	ShardID  uint64
	ShardVer uint64
	CF       int
	Level    int
	Score    float64
}

// score computes the L0 and per-level scores of §4.3 and returns the
// maximum, matching the weights confirmed against the original source
// (0.7/0.3), which supersede any earlier 0.6/0.4 variant.
func score(info *ShardInfo) Priority {
	best := Priority{ShardID: info.ShardID, ShardVer: info.ShardVer, CF: -1, Level: 0}
	if info.BaseSize > 0 {
		l0SizeScore := float64(totalL0Size(info.L0)) / float64(info.BaseSize)
		l0CountScore := float64(len(info.L0)) / 5.0
		best.Score = 0.7*l0SizeScore + 0.3*l0CountScore
	}
	for cf := 0; cf < 3; cf++ {
		for lvl := 1; lvl <= len(info.CFs[cf].Levels); lvl++ {
			tables := info.CFs[cf].Levels[lvl-1]
			denom := float64(info.BaseSize) * math.Pow10(lvl-1)
			if denom <= 0 {
				continue
			}
			s := float64(totalTableSize(tables)) / denom
			if s > best.Score {
				best = Priority{ShardID: info.ShardID, ShardVer: info.ShardVer, CF: cf, Level: lvl, Score: s}
			}
		}
	}
	return best
}

// GetCompactionPriorities scores every active shard and returns candidates with Score > 1, highest first, capped at
// numCompactors (§4.3, §5). It does not know which shards are already
// compacting; Scheduler.RunOnce skips those.
func GetCompactionPriorities(infos []*ShardInfo, numCompactors int) []Priority {
	var out []Priority
	for _, info := range infos {
		if !info.Active {
			continue
		}
		p := score(info)
		if p.Score > 1 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > numCompactors {
		out = out[:numCompactors]
	}
	return out
}
