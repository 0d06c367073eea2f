package compaction

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/gogo/protobuf/proto"
	"github.com/pingcap/errors"
)

// TableCreate describes one output table, per §6's change-set record.
type TableCreate struct {
	ID       uint64
	CF       int
	Level    int
	Smallest []byte
	Biggest  []byte
}

// ChangeSet is emitted per compaction for the external applier to install
// (§6); the executor never mutates shard metadata itself.
type ChangeSet struct {
	ShardID  uint64
	ShardVer uint64
	Sequence uint64
	Stage    string

	CF            int // -1 for L0
	Level         int
	TopDeletes    []uint64
	BottomDeletes []uint64
	TableCreates  []TableCreate

	// MoveDown is set when the executor used the §4.3 move-down
	// shortcut: TableCreates reuses the top table's id verbatim at
	// Level+1, with no bytes rewritten and no DFS writes performed.
	MoveDown bool
}

// ErrChangeSetChecksum is returned by ChangeSet.Unmarshal when the
// trailing xxhash64 doesn't match the decoded payload, i.e. the wire
// bytes were truncated or corrupted in transit.
var ErrChangeSetChecksum = errors.New("compaction: change-set checksum mismatch")

// Marshal encodes the ChangeSet in a fixed field order, hand-written in
// the style of gogo/protobuf's generated Marshal methods (the teacher's
// `enginepb` wire types follow this same "generated-looking but
// hand-maintained" shape; no `.proto` source is present in the
// retrieval pack, so the fields are encoded directly via
// `gogo/protobuf/proto.Buffer`'s varint/length-delimited primitives
// rather than through `.proto`-generated reflection). The payload is
// trailed by an xxhash64 checksum so Unmarshal can reject a truncated
// or corrupted record outright (§7's error taxonomy).
func (cs *ChangeSet) Marshal() ([]byte, error) {
	b := proto.NewBuffer(nil)
	b.EncodeVarint(cs.ShardID)
	b.EncodeVarint(cs.ShardVer)
	b.EncodeVarint(cs.Sequence)
	if err := b.EncodeStringBytes(cs.Stage); err != nil {
		return nil, errors.Wrap(err, "changeset: encode stage")
	}
	b.EncodeZigzag64(uint64(cs.CF))
	b.EncodeZigzag64(uint64(cs.Level))

	b.EncodeVarint(uint64(len(cs.TopDeletes)))
	for _, id := range cs.TopDeletes {
		b.EncodeVarint(id)
	}
	b.EncodeVarint(uint64(len(cs.BottomDeletes)))
	for _, id := range cs.BottomDeletes {
		b.EncodeVarint(id)
	}

	b.EncodeVarint(uint64(len(cs.TableCreates)))
	for i := range cs.TableCreates {
		tb, err := cs.TableCreates[i].Marshal()
		if err != nil {
			return nil, errors.Wrap(err, "changeset: encode table create")
		}
		if err := b.EncodeRawBytes(tb); err != nil {
			return nil, errors.Wrap(err, "changeset: encode table create")
		}
	}

	moveDown := uint64(0)
	if cs.MoveDown {
		moveDown = 1
	}
	b.EncodeVarint(moveDown)

	payload := b.Bytes()
	out := make([]byte, len(payload)+8)
	copy(out, payload)
	binary.LittleEndian.PutUint64(out[len(payload):], xxhash.Sum64(payload))
	return out, nil
}

// Unmarshal decodes bytes produced by Marshal, verifying the trailing
// checksum before touching a single field.
func (cs *ChangeSet) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return ErrChangeSetChecksum
	}
	payload := data[:len(data)-8]
	want := binary.LittleEndian.Uint64(data[len(payload):])
	if xxhash.Sum64(payload) != want {
		return ErrChangeSetChecksum
	}

	b := proto.NewBuffer(payload)
	var err error
	if cs.ShardID, err = b.DecodeVarint(); err != nil {
		return errors.Wrap(err, "changeset: decode shard id")
	}
	if cs.ShardVer, err = b.DecodeVarint(); err != nil {
		return errors.Wrap(err, "changeset: decode shard ver")
	}
	if cs.Sequence, err = b.DecodeVarint(); err != nil {
		return errors.Wrap(err, "changeset: decode sequence")
	}
	if cs.Stage, err = b.DecodeStringBytes(); err != nil {
		return errors.Wrap(err, "changeset: decode stage")
	}
	cf, err := b.DecodeZigzag64()
	if err != nil {
		return errors.Wrap(err, "changeset: decode cf")
	}
	cs.CF = int(int64(cf))
	level, err := b.DecodeZigzag64()
	if err != nil {
		return errors.Wrap(err, "changeset: decode level")
	}
	cs.Level = int(int64(level))

	nTop, err := b.DecodeVarint()
	if err != nil {
		return errors.Wrap(err, "changeset: decode top deletes count")
	}
	cs.TopDeletes = make([]uint64, nTop)
	for i := range cs.TopDeletes {
		if cs.TopDeletes[i], err = b.DecodeVarint(); err != nil {
			return errors.Wrap(err, "changeset: decode top delete")
		}
	}

	nBot, err := b.DecodeVarint()
	if err != nil {
		return errors.Wrap(err, "changeset: decode bottom deletes count")
	}
	cs.BottomDeletes = make([]uint64, nBot)
	for i := range cs.BottomDeletes {
		if cs.BottomDeletes[i], err = b.DecodeVarint(); err != nil {
			return errors.Wrap(err, "changeset: decode bottom delete")
		}
	}

	nCreates, err := b.DecodeVarint()
	if err != nil {
		return errors.Wrap(err, "changeset: decode table creates count")
	}
	cs.TableCreates = make([]TableCreate, nCreates)
	for i := range cs.TableCreates {
		tb, err := b.DecodeRawBytes(true)
		if err != nil {
			return errors.Wrap(err, "changeset: decode table create")
		}
		if err := cs.TableCreates[i].Unmarshal(tb); err != nil {
			return errors.Wrap(err, "changeset: decode table create")
		}
	}

	moveDown, err := b.DecodeVarint()
	if err != nil {
		return errors.Wrap(err, "changeset: decode move down")
	}
	cs.MoveDown = moveDown != 0
	return nil
}

// Marshal encodes one TableCreate record; called by ChangeSet.Marshal as
// a length-delimited embedded message.
func (tc *TableCreate) Marshal() ([]byte, error) {
	b := proto.NewBuffer(nil)
	b.EncodeVarint(tc.ID)
	b.EncodeZigzag64(uint64(tc.CF))
	b.EncodeZigzag64(uint64(tc.Level))
	if err := b.EncodeRawBytes(tc.Smallest); err != nil {
		return nil, err
	}
	if err := b.EncodeRawBytes(tc.Biggest); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal decodes one TableCreate record produced by Marshal.
func (tc *TableCreate) Unmarshal(data []byte) error {
	b := proto.NewBuffer(data)
	var err error
	if tc.ID, err = b.DecodeVarint(); err != nil {
		return err
	}
	cf, err := b.DecodeZigzag64()
	if err != nil {
		return err
	}
	tc.CF = int(int64(cf))
	level, err := b.DecodeZigzag64()
	if err != nil {
		return err
	}
	tc.Level = int(int64(level))
	if tc.Smallest, err = b.DecodeRawBytes(true); err != nil {
		return err
	}
	if tc.Biggest, err = b.DecodeRawBytes(true); err != nil {
		return err
	}
	return nil
}
