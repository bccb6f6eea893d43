package machine

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"tokentree/internal/trace"
)

// Current schema version - increment when SnapshotPayload format changes.
const snapshotSchemaVersion uint16 = 1

// SnapshotPayload is the serialized form of a machine state. Fields are flat
// parallel slices so the payload stays stable as refInfo evolves.
type SnapshotPayload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	UnitCount uint32
	Mode      uint8

	// Reference records, in arena order
	Kinds   []uint8
	States  []uint8
	Parents []uint32
	Units   []uint32
	Splits  []uint32
}

// EncodeSnapshot serializes the current machine state.
func (m *Machine) EncodeSnapshot() ([]byte, error) {
	p := SnapshotPayload{
		Schema:    snapshotSchemaVersion,
		UnitCount: m.unitCount,
		Mode:      uint8(m.mode),
		Kinds:     make([]uint8, len(m.refs)),
		States:    make([]uint8, len(m.refs)),
		Parents:   make([]uint32, len(m.refs)),
		Units:     make([]uint32, len(m.refs)),
		Splits:    make([]uint32, len(m.refs)),
	}
	for i, info := range m.refs {
		p.Kinds[i] = uint8(info.Kind)
		p.States[i] = uint8(info.State)
		p.Parents[i] = uint32(info.Parent)
		p.Units[i] = info.Units
		p.Splits[i] = info.Splits
	}

	data, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot reconstructs a machine from a serialized snapshot. The
// restored machine has no tracer attached.
func DecodeSnapshot(data []byte) (*Machine, error) {
	var p SnapshotPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if p.Schema != snapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema %d (want %d)", p.Schema, snapshotSchemaVersion)
	}
	n := len(p.Kinds)
	if n == 0 || len(p.States) != n || len(p.Parents) != n || len(p.Units) != n || len(p.Splits) != n {
		return nil, fmt.Errorf("malformed snapshot: inconsistent record lengths")
	}
	if p.Mode > uint8(ModeReadOnly) {
		return nil, fmt.Errorf("malformed snapshot: unknown access mode %d", p.Mode)
	}

	m := &Machine{
		refs:      make([]refInfo, n),
		unitCount: p.UnitCount,
		mode:      AccessMode(p.Mode),
		tracer:    trace.Nop,
	}
	var total uint32
	for i := range m.refs {
		if p.Kinds[i] > uint8(KindSharedReadOnly) {
			return nil, fmt.Errorf("malformed snapshot: r%d has unknown kind %d", i, p.Kinds[i])
		}
		if p.States[i] > uint8(StateDead) {
			return nil, fmt.Errorf("malformed snapshot: r%d has unknown state %d", i, p.States[i])
		}
		m.refs[i] = refInfo{
			Kind:   RefKind(p.Kinds[i]),
			State:  RefState(p.States[i]),
			Parent: Reference(p.Parents[i]),
			Units:  p.Units[i],
			Splits: p.Splits[i],
		}
		if int(p.Parents[i]) >= n {
			return nil, fmt.Errorf("malformed snapshot: r%d parent r%d out of range", i, p.Parents[i])
		}
		total += p.Units[i]
	}
	if total != p.UnitCount {
		return nil, fmt.Errorf("malformed snapshot: held units sum to %d, recorded count is %d", total, p.UnitCount)
	}
	return m, nil
}
