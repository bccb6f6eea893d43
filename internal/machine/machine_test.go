package machine_test

import (
	"errors"
	"testing"

	"tokentree/internal/machine"
	"tokentree/internal/testkit"
)

func checkInvariants(t *testing.T, m *machine.Machine) {
	t.Helper()
	if err := testkit.CheckMachineInvariants(m); err != nil {
		t.Fatalf("invariant breach: %v", err)
	}
}

func wantViolation(t *testing.T, err error, code machine.ViolationCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected violation %s, got success", code)
	}
	if got := machine.CodeOf(err); got != code {
		t.Fatalf("expected violation %s, got %s (%v)", code, got, err)
	}
}

func TestInitState(t *testing.T) {
	root, m := machine.Init()

	if root != machine.RootRef {
		t.Fatalf("expected root r0, got r%d", root)
	}
	if m.UnitCount() != 1 {
		t.Fatalf("expected 1 unit, got %d", m.UnitCount())
	}
	if m.Exclusivity() != machine.Exclusive {
		t.Fatalf("expected exclusive initial state, got %s", m.Exclusivity())
	}
	if m.Mode() != machine.ModeReadWrite {
		t.Fatalf("expected read-write initial mode, got %s", m.Mode())
	}

	rs, ok := m.Ref(root)
	if !ok {
		t.Fatalf("root not registered")
	}
	if rs.Kind != machine.KindUnique || rs.State != machine.StateBorrowing || rs.Units != 1 {
		t.Fatalf("unexpected root record: %+v", rs)
	}
	if rs.Parent != root {
		t.Fatalf("root should be its own parent, got r%d", rs.Parent)
	}
	checkInvariants(t, m)
}

func TestCreateRefStartsEmpty(t *testing.T) {
	root, m := machine.Init()

	ref, err := m.CreateRef(root, machine.KindSharedReadWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs, _ := m.Ref(ref)
	if rs.State != machine.StateCreated || rs.Units != 0 {
		t.Fatalf("new reference should be created with no units: %+v", rs)
	}
	if rs.Parent != root {
		t.Fatalf("expected parent r%d, got r%d", root, rs.Parent)
	}
	checkInvariants(t, m)
}

func TestReadOnlySpawnRestriction(t *testing.T) {
	root, m := machine.Init()

	ro, err := m.CreateRef(root, machine.KindSharedReadOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = m.CreateRef(ro, machine.KindUnique)
	wantViolation(t, err, machine.ViolationKind)
	_, err = m.CreateRef(ro, machine.KindSharedReadWrite)
	wantViolation(t, err, machine.ViolationKind)

	if _, err := m.CreateRef(ro, machine.KindSharedReadOnly); err != nil {
		t.Fatalf("read-only child of read-only parent must be allowed: %v", err)
	}
	checkInvariants(t, m)
}

func TestLendMovesUnit(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	if err := m.Lend(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rootRS, _ := m.Ref(root)
	childRS, _ := m.Ref(child)
	if rootRS.Units != 0 || childRS.Units != 1 {
		t.Fatalf("lend should move the unit: root=%d child=%d", rootRS.Units, childRS.Units)
	}
	if childRS.State != machine.StateBorrowing {
		t.Fatalf("lend target should be borrowing, got %s", childRS.State)
	}
	if m.UnitCount() != 1 {
		t.Fatalf("lend must not change the global count, got %d", m.UnitCount())
	}
	checkInvariants(t, m)
}

func TestLendWithoutParentUnit(t *testing.T) {
	root, m := machine.Init()
	a, _ := m.CreateRef(root, machine.KindUnique)
	b, _ := m.CreateRef(root, machine.KindUnique)

	if err := m.Lend(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Root gave its only unit away; it has nothing left for b.
	wantViolation(t, m.Lend(b), machine.ViolationInsufficientTokens)
	checkInvariants(t, m)
}

func TestRelendWhileBorrowing(t *testing.T) {
	// Policy decision: a still-alive reference may receive further units
	// from its parent; only death blocks new grants.
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Lend(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Lend(child); err != nil {
		t.Fatalf("re-lend to a borrowing reference must be allowed: %v", err)
	}
	rs, _ := m.Ref(child)
	if rs.Units != 2 {
		t.Fatalf("expected 2 units after two lends, got %d", rs.Units)
	}
	checkInvariants(t, m)
}

func TestReturnKillsSource(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	if err := m.Lend(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Return(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rs, _ := m.Ref(child)
	if rs.State != machine.StateDead || rs.Units != 0 {
		t.Fatalf("returned reference should be dead and empty: %+v", rs)
	}
	rootRS, _ := m.Ref(root)
	if rootRS.Units != 1 {
		t.Fatalf("unit should be back at root, got %d", rootRS.Units)
	}
	checkInvariants(t, m)
}

func TestDeadCannotReReceive(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	if err := m.Lend(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Return(child); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantViolation(t, m.Lend(child), machine.ViolationDeadTarget)
	checkInvariants(t, m)
}

func TestReturnWithoutUnit(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	wantViolation(t, m.Return(child), machine.ViolationNoTokenToReturn)
	checkInvariants(t, m)
}

func TestWholeUnitReturn(t *testing.T) {
	root, m := machine.Init()

	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Fragments outstanding: the unit cannot go back piecemeal.
	wantViolation(t, m.Return(root), machine.ViolationPartialReturn)

	if err := m.Merge(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Return(root); err != nil {
		t.Fatalf("return must succeed once fragments are merged: %v", err)
	}
	checkInvariants(t, m)
}

func TestSplitMergeRoundTrip(t *testing.T) {
	root, m := machine.Init()

	before, _ := m.Ref(root)
	beforeCount := m.UnitCount()

	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mid, _ := m.Ref(root)
	if mid.Units != before.Units+1 || mid.Splits != before.Splits+1 {
		t.Fatalf("split should add a unit and a fragment: %+v", mid)
	}
	if m.UnitCount() != beforeCount+1 {
		t.Fatalf("split should grow the global count, got %d", m.UnitCount())
	}

	if err := m.Merge(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := m.Ref(root)
	if after.Units != before.Units || after.Splits != before.Splits || m.UnitCount() != beforeCount {
		t.Fatalf("merge should restore the pre-split state: %+v count=%d", after, m.UnitCount())
	}
	checkInvariants(t, m)
}

func TestSplitWithoutUnit(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	wantViolation(t, m.Split(child), machine.ViolationInsufficientTokens)
}

func TestMergeWithSingleUnit(t *testing.T) {
	root, m := machine.Init()

	wantViolation(t, m.Merge(root), machine.ViolationNothingToMerge)
}

func TestDeadRelay(t *testing.T) {
	// A dead reference may still pass along units returned by its
	// children; deadness only blocks new grants from its parent.
	root, m := machine.Init()
	a, _ := m.CreateRef(root, machine.KindSharedReadWrite)
	b, _ := m.CreateRef(a, machine.KindSharedReadWrite)

	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Lend(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Lend(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Lend(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a holds one unit, b holds one; a returns its last unit and dies.
	if err := m.Return(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs, _ := m.Ref(a)
	if rs.State != machine.StateDead {
		t.Fatalf("expected a dead, got %s", rs.State)
	}

	// b returns into the dead a, which relays it up to root.
	if err := m.Return(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs, _ = m.Ref(a)
	if rs.Units != 1 || rs.State != machine.StateDead {
		t.Fatalf("dead relay should hold the returned unit: %+v", rs)
	}
	if err := m.Return(a); err != nil {
		t.Fatalf("dead relay must be able to forward returns: %v", err)
	}
	rs, _ = m.Ref(a)
	if rs.Units != 0 || rs.State != machine.StateDead {
		t.Fatalf("relay should be empty and still dead: %+v", rs)
	}

	// Grants to the dead relay stay forbidden.
	wantViolation(t, m.Lend(a), machine.ViolationDeadTarget)

	if err := m.Merge(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.UnitCount() != 1 {
		t.Fatalf("expected 1 unit at the end, got %d", m.UnitCount())
	}
	checkInvariants(t, m)
}

func TestSetAccessModeExclusivityGate(t *testing.T) {
	root, m := machine.Init()

	if err := m.SetAccessMode(root, machine.ModeReadOnly); err != nil {
		t.Fatalf("sole holder must be able to change the mode: %v", err)
	}
	if m.Mode() != machine.ModeReadOnly {
		t.Fatalf("expected read-only mode, got %s", m.Mode())
	}

	// Two splits: three units outstanding, exclusivity is gone.
	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantViolation(t, m.SetAccessMode(root, machine.ModeReadWrite), machine.ViolationNotExclusive)
	if m.Mode() != machine.ModeReadOnly {
		t.Fatalf("failed change must not touch the register, got %s", m.Mode())
	}
	checkInvariants(t, m)
}

func TestSetAccessModeRequiresHolding(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	// Global count is 1, but child holds nothing.
	wantViolation(t, m.SetAccessMode(child, machine.ModeReadOnly), machine.ViolationNotExclusive)
}

func TestErrorShape(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	err := m.Return(child)
	var me *machine.Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *machine.Error, got %T", err)
	}
	if me.Code != machine.ViolationNoTokenToReturn || me.Op != "return" {
		t.Fatalf("unexpected error contents: %+v", me)
	}
	if me.Code.String() != "TM1004" {
		t.Fatalf("unexpected code format: %s", me.Code)
	}
	if machine.CodeOf(errors.New("plain")) != 0 {
		t.Fatalf("CodeOf should be zero for foreign errors")
	}
}

func TestLifecycleMonotonic(t *testing.T) {
	root, m := machine.Init()
	child, _ := m.CreateRef(root, machine.KindUnique)

	states := []machine.RefState{}
	record := func() {
		rs, _ := m.Ref(child)
		states = append(states, rs.State)
	}

	record()
	_ = m.Lend(child)
	record()
	_ = m.Return(child)
	record()
	_ = m.Lend(child) // rejected: dead
	record()

	for i := 1; i < len(states); i++ {
		if states[i] < states[i-1] {
			t.Fatalf("lifecycle went backwards: %v", states)
		}
	}
	if states[len(states)-1] != machine.StateDead {
		t.Fatalf("dead must be absorbing, got %s", states[len(states)-1])
	}
}
