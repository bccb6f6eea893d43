package machine

import (
	"fmt"
	"strconv"

	"fortio.org/safecast"

	"tokentree/internal/trace"
)

// Machine is the token-passing model of one memory location. It owns the
// reference arena, the token ledger, and the permission register; every
// operation is a synchronous transition that either fully commits or rejects
// with no observable side effect.
//
// A Machine models a single linear call sequence. It is not safe for
// concurrent use: run one instance per traced execution.
type Machine struct {
	// refs is the reference arena, indexed by Reference. Entry 0 is the
	// root, which is its own parent.
	refs []refInfo
	// unitCount is the global number of outstanding token units.
	// Invariant: equal to the sum of Units over refs at all times.
	unitCount uint32
	// mode is the stored access mode of the token. Exclusivity is derived
	// from unitCount, never stored.
	mode AccessMode

	tracer trace.Tracer
}

// Init creates a machine in its initial state: a single unique root
// reference holding the only token unit, in read-write mode.
func Init() (Reference, *Machine) {
	m := &Machine{
		refs: []refInfo{{
			Kind:   KindUnique,
			State:  StateBorrowing,
			Parent: RootRef,
			Units:  1,
		}},
		unitCount: 1,
		mode:      ModeReadWrite,
		tracer:    trace.Nop,
	}
	return RootRef, m
}

// SetTracer attaches a tracer; machine operations emit op-scope events
// through it. A nil tracer disables emission.
func (m *Machine) SetTracer(t trace.Tracer) {
	if t == nil {
		t = trace.Nop
	}
	m.tracer = t
}

// CreateRef registers a new reference derived from parent. The new reference
// starts in the Created state with no units; it can only become capable of
// access once its parent lends it a unit. A read-only parent may only spawn
// read-only children, so derivation can never escalate capability.
func (m *Machine) CreateRef(parent Reference, kind RefKind) (Reference, error) {
	eb := errorBuilder{op: "create", ref: parent}
	parentInfo, ok := m.lookup(parent)
	if !ok {
		return 0, eb.unknownReference(parent)
	}
	if parentInfo.Kind == KindSharedReadOnly && kind != KindSharedReadOnly {
		return 0, eb.make(ViolationKind,
			"read-only reference cannot spawn %s child", kind)
	}

	value, err := safecast.Conv[uint32](len(m.refs))
	if err != nil {
		return 0, fmt.Errorf("reference arena overflow: %w", err)
	}
	ref := Reference(value)
	m.refs = append(m.refs, refInfo{
		Kind:   kind,
		State:  StateCreated,
		Parent: parent,
		Units:  0,
	})
	m.emitOp("create", ref, kind.String(), map[string]string{
		"parent": refLabel(parent),
	})
	return ref, nil
}

// Lend transfers one unit from target's parent to target along the
// derivation edge fixed at creation time. The parent must currently hold a
// unit and the target must not be dead. A reference still alive may receive
// further units this way; deadness permanently blocks new grants.
func (m *Machine) Lend(target Reference) error {
	eb := errorBuilder{op: "lend", ref: target}
	targetInfo, ok := m.lookup(target)
	if !ok {
		return eb.unknownReference(target)
	}
	source := targetInfo.Parent
	sourceInfo, _ := m.lookup(source)

	if sourceInfo.Units == 0 {
		return eb.make(ViolationInsufficientTokens,
			"parent r%d holds no unit to lend", source)
	}
	if targetInfo.State == StateDead {
		return eb.make(ViolationDeadTarget,
			"dead reference can never receive a new grant")
	}

	m.refs[source].Units--
	m.refs[target].Units++
	m.refs[target].State = StateBorrowing
	m.emitOp("lend", target, "", map[string]string{
		"from":       refLabel(source),
		"units":      strconv.FormatUint(uint64(m.refs[target].Units), 10),
		"unit_count": strconv.FormatUint(uint64(m.unitCount), 10),
	})
	return nil
}

// Return transfers the entirety of source's holding back to its parent, one
// unit at a time from the caller's perspective but conceptually the whole
// unit: the source must first merge every fragment it split off (splits must
// be zero), so what it returns is everything it owns from this grant. When
// the holding reaches zero the source dies permanently.
//
// A dead reference holding units relayed up by its children may keep
// returning them: deadness blocks grants, not relay traffic.
func (m *Machine) Return(source Reference) error {
	eb := errorBuilder{op: "return", ref: source}
	sourceInfo, ok := m.lookup(source)
	if !ok {
		return eb.unknownReference(source)
	}
	if sourceInfo.Units == 0 {
		return eb.make(ViolationNoTokenToReturn,
			"nothing held to give back")
	}
	if sourceInfo.Splits != 0 {
		return eb.make(ViolationPartialReturn,
			"%d unmerged fragments outstanding", sourceInfo.Splits)
	}

	target := sourceInfo.Parent
	m.refs[source].Units--
	m.refs[target].Units++
	if m.refs[source].Units == 0 {
		m.refs[source].State = StateDead
	}
	m.emitOp("return", source, m.refs[source].State.String(), map[string]string{
		"to":         refLabel(target),
		"unit_count": strconv.FormatUint(uint64(m.unitCount), 10),
	})
	return nil
}

// Split fragments one of source's held units into two, both still owned by
// source. This is how divergent aliasing uses of the same reference are
// modeled; it is the only operation besides Merge that changes the global
// unit count.
func (m *Machine) Split(source Reference) error {
	eb := errorBuilder{op: "split", ref: source}
	sourceInfo, ok := m.lookup(source)
	if !ok {
		return eb.unknownReference(source)
	}
	if sourceInfo.Units == 0 {
		return eb.make(ViolationInsufficientTokens,
			"no unit held to fragment")
	}

	m.refs[source].Units++
	m.refs[source].Splits++
	m.unitCount++
	m.emitOp("split", source, "", map[string]string{
		"units":      strconv.FormatUint(uint64(m.refs[source].Units), 10),
		"unit_count": strconv.FormatUint(uint64(m.unitCount), 10),
	})
	return nil
}

// Merge recombines two of source's held units into one, undoing a Split.
func (m *Machine) Merge(source Reference) error {
	eb := errorBuilder{op: "merge", ref: source}
	sourceInfo, ok := m.lookup(source)
	if !ok {
		return eb.unknownReference(source)
	}
	if sourceInfo.Units < 2 {
		return eb.make(ViolationNothingToMerge,
			"need at least two units, have %d", sourceInfo.Units)
	}

	m.refs[source].Units--
	m.refs[source].Splits--
	m.unitCount--
	m.emitOp("merge", source, "", map[string]string{
		"units":      strconv.FormatUint(uint64(m.refs[source].Units), 10),
		"unit_count": strconv.FormatUint(uint64(m.unitCount), 10),
	})
	return nil
}

// SetAccessMode changes the stored access mode of the token. Only the sole
// holder of the only outstanding unit may do this: the change is audited as
// a write, so it has to pass the same exclusivity gate a write would.
func (m *Machine) SetAccessMode(source Reference, mode AccessMode) error {
	eb := errorBuilder{op: "set-mode", ref: source}
	sourceInfo, ok := m.lookup(source)
	if !ok {
		return eb.unknownReference(source)
	}
	if sourceInfo.Units == 0 || m.unitCount != 1 {
		return eb.make(ViolationNotExclusive,
			"mode change requires sole ownership of the only unit (held=%d, global=%d)",
			sourceInfo.Units, m.unitCount)
	}

	m.mode = mode
	m.emitOp("set-mode", source, mode.String(), nil)
	return nil
}

// UnitCount returns the global number of outstanding token units.
func (m *Machine) UnitCount() uint32 {
	return m.unitCount
}

// Mode returns the stored access mode of the permission register.
func (m *Machine) Mode() AccessMode {
	return m.mode
}

// Exclusivity derives the sharing half of the permission register from the
// live unit count.
func (m *Machine) Exclusivity() Exclusivity {
	if m.unitCount == 1 {
		return Exclusive
	}
	return Shared
}

// NumRefs returns how many references the registry has allocated.
func (m *Machine) NumRefs() int {
	return len(m.refs)
}

// Refs returns a snapshot of every reference record, in allocation order.
func (m *Machine) Refs() []RefSnapshot {
	out := make([]RefSnapshot, len(m.refs))
	for i, info := range m.refs {
		out[i] = RefSnapshot{
			Ref:    Reference(i), //nolint:gosec // arena growth is safecast-checked
			Kind:   info.Kind,
			State:  info.State,
			Parent: info.Parent,
			Units:  info.Units,
			Splits: info.Splits,
		}
	}
	return out
}

// Ref returns the snapshot of a single reference record.
func (m *Machine) Ref(ref Reference) (RefSnapshot, bool) {
	info, ok := m.lookup(ref)
	if !ok {
		return RefSnapshot{}, false
	}
	return RefSnapshot{
		Ref:    ref,
		Kind:   info.Kind,
		State:  info.State,
		Parent: info.Parent,
		Units:  info.Units,
		Splits: info.Splits,
	}, true
}

func (m *Machine) lookup(ref Reference) (refInfo, bool) {
	if int(ref) >= len(m.refs) {
		return refInfo{}, false
	}
	return m.refs[ref], true
}

func (m *Machine) emitOp(name string, ref Reference, detail string, extra map[string]string) {
	if m.tracer == nil || !m.tracer.Enabled() {
		return
	}
	if extra == nil {
		extra = make(map[string]string, 1)
	}
	extra["ref"] = refLabel(ref)
	trace.Point(m.tracer, trace.ScopeOp, name, detail, extra)
}

// emitCheck reports one validator branch input at debug granularity.
func (m *Machine) emitCheck(name, detail string, extra map[string]string) {
	if m.tracer == nil || !m.tracer.Enabled() {
		return
	}
	trace.Point(m.tracer, trace.ScopeCheck, name, detail, extra)
}

func refLabel(ref Reference) string {
	return "r" + strconv.FormatUint(uint64(ref), 10)
}
