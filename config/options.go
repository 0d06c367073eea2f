// Package config holds engine-wide options, loaded from TOML the way the
// rest of this lineage's server binaries load configuration.
package config

import "github.com/unistore-io/kvengine/table/sstable"

// Column family indices; fixed, per §3.
const (
	WriteCF = 0
	LockCF  = 1
	ExtraCF = 2
	NumCFs  = 3
)

// CFConfig describes one of the three fixed column families.
type CFConfig struct {
	Managed   bool `toml:"managed"`
	MaxLevels int  `toml:"max-levels"`
}

// TableBuilderOptions configures how new SSTables are built.
type TableBuilderOptions struct {
	BlockSize            int     `toml:"block-size"`
	MaxTableSize         int64   `toml:"max-table-size"`
	LevelSizeMultiplier  int     `toml:"level-size-multiplier"`
	LogicalBloomFPR      float64 `toml:"bloom-false-positive-rate"`
	Compression          string  `toml:"compression"`
	MaxLevels            int     `toml:"max-levels"`
}

func (o TableBuilderOptions) CompressionType() sstable.CompressionType {
	if o.Compression == "none" {
		return sstable.CompressionNone
	}
	return sstable.CompressionSnappy
}

func (o TableBuilderOptions) BuilderOptions() sstable.BuilderOptions {
	return sstable.BuilderOptions{
		BlockSize:   o.BlockSize,
		BloomFPR:    o.LogicalBloomFPR,
		Compression: o.CompressionType(),
	}
}

// EngineOptions is the top-level set of tunables for one Engine, matching
// §6's "Options and recognized properties".
type EngineOptions struct {
	Dir  string `toml:"dir"`
	// BaseSize anchors level-size scoring: level L's score is
	// total_size(L) / (BaseSize * 10^(L-1)); the L0 score uses it too.
	BaseSize                int64               `toml:"base-size"`
	NumCompactors           int                 `toml:"num-compactors"`
	NumLevelZeroTables      int                 `toml:"num-level-zero-tables"`
	NumLevelZeroTablesStall int                 `toml:"num-level-zero-tables-stall"`
	MaxMemTableSize         int64               `toml:"max-mem-table-size"`
	MinMemTableSize         int64               `toml:"min-mem-table-size"`
	NumMemtables            int                 `toml:"num-memtables"`
	MaxBlockCacheSize       int64               `toml:"max-block-cache-size"`
	MaxIndexCacheSize       int64               `toml:"max-index-cache-size"`
	TableBuilderOptions     TableBuilderOptions `toml:"table-builder"`
	CFs                     [NumCFs]CFConfig    `toml:"-"`
	InstanceID              uint32              `toml:"instance-id"`
	// CompactionDFSBytesPerSec caps compaction's DFS write throughput;
	// 0 means unlimited.
	CompactionDFSBytesPerSec int64 `toml:"compaction-dfs-bytes-per-sec"`
}

// Memtable size bound, per §6: "[2 MiB, 128 MiB]".
const (
	MinDynamicMemTableSize = 2 << 20
	MaxDynamicMemTableSize = 128 << 20
)

// ClampMemTableSize enforces §6's dynamic memtable size bound.
func ClampMemTableSize(size int64) int64 {
	if size < MinDynamicMemTableSize {
		return MinDynamicMemTableSize
	}
	if size > MaxDynamicMemTableSize {
		return MaxDynamicMemTableSize
	}
	return size
}

// DefaultOptions mirrors the teacher's DefaultOpt: these values are tuned
// for a small embedded deployment, not production scale.
func DefaultOptions() *EngineOptions {
	return &EngineOptions{
		BaseSize:                16 << 20,
		NumCompactors:           3,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		MaxMemTableSize:         16 << 20,
		MinMemTableSize:         2 << 20,
		NumMemtables:            16,
		MaxBlockCacheSize:       1 << 30,
		MaxIndexCacheSize:       256 << 20,
		TableBuilderOptions: TableBuilderOptions{
			BlockSize:           64 * 1024,
			MaxTableSize:        8 << 20,
			LevelSizeMultiplier: 10,
			LogicalBloomFPR:     0.01,
			Compression:         "snappy",
			MaxLevels:           5,
		},
		CFs: [NumCFs]CFConfig{
			{Managed: true, MaxLevels: 5},
			{Managed: false, MaxLevels: 5},
			{Managed: true, MaxLevels: 5},
		},
	}
}
