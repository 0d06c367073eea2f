package engine

import (
	"sync/atomic"

	"github.com/unistore-io/kvengine/config"
)

// IDAllocator hands out monotonically increasing table ids; its
// implementation (durable, cluster-wide) lives outside this module (§1).
type IDAllocator interface {
	AllocID(count int) (uint64, error)
}

// RecoverHandler lets a caller hook into shard load, the way the
// teacher's RecoverHandler drives pre-split recovery.
type RecoverHandler interface {
	Recover(en *Engine, shard *Shard, meta *ShardMeta) error
}

// MetaChangeListener is notified whenever a ChangeSet is durably applied,
// so an external shard-metadata store can persist it (§6; the applier
// itself is out of scope per §1).
type MetaChangeListener interface {
	OnChange(meta *ShardMeta)
}

// Options bundles the engine-wide tunables of config.EngineOptions with
// the collaborators §1 calls out as externally supplied.
type Options struct {
	config.EngineOptions

	IDAllocator         IDAllocator
	RecoverHandler      RecoverHandler
	MetaChangeListener  MetaChangeListener
	RecoveryConcurrency int
	DoNotCompact        bool
}

type localIDAllocator struct {
	latest uint64
}

func (l *localIDAllocator) AllocID(count int) (uint64, error) {
	return atomic.AddUint64(&l.latest, uint64(count)), nil
}
