package machine_test

import (
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"tokentree/internal/machine"
)

func buildSampleMachine(t *testing.T) *machine.Machine {
	t.Helper()
	root, m := machine.Init()
	a, err := m.CreateRef(root, machine.KindSharedReadOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Split(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Lend(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestSnapshotRoundTrip(t *testing.T) {
	m := buildSampleMachine(t)

	data, err := m.EncodeSnapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	restored, err := machine.DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if restored.UnitCount() != m.UnitCount() {
		t.Fatalf("unit count mismatch: %d vs %d", restored.UnitCount(), m.UnitCount())
	}
	if restored.Mode() != m.Mode() {
		t.Fatalf("mode mismatch: %s vs %s", restored.Mode(), m.Mode())
	}
	want := m.Refs()
	got := restored.Refs()
	if len(got) != len(want) {
		t.Fatalf("ref count mismatch: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("r%d mismatch: %+v vs %+v", i, got[i], want[i])
		}
	}

	// The restored machine keeps working.
	if err := restored.Split(machine.RootRef); err != nil {
		t.Fatalf("restored machine rejected a valid split: %v", err)
	}
	if restored.UnitCount() != m.UnitCount()+1 {
		t.Fatalf("split on restored machine should grow the count, got %d", restored.UnitCount())
	}
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	if _, err := machine.DecodeSnapshot([]byte("not msgpack")); err == nil {
		t.Fatalf("expected decode failure")
	}
	if _, err := machine.DecodeSnapshot(nil); err == nil {
		t.Fatalf("expected decode failure on empty input")
	}
}

func TestDecodeSnapshotValidates(t *testing.T) {
	cases := []struct {
		name    string
		payload machine.SnapshotPayload
	}{
		{
			name: "wrong schema",
			payload: machine.SnapshotPayload{
				Schema: 99, UnitCount: 1,
				Kinds: []uint8{0}, States: []uint8{1}, Parents: []uint32{0}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
		{
			name: "count mismatch",
			payload: machine.SnapshotPayload{
				Schema: 1, UnitCount: 5,
				Kinds: []uint8{0}, States: []uint8{1}, Parents: []uint32{0}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
		{
			name: "parent out of range",
			payload: machine.SnapshotPayload{
				Schema: 1, UnitCount: 1,
				Kinds: []uint8{0}, States: []uint8{1}, Parents: []uint32{7}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
		{
			name: "ragged records",
			payload: machine.SnapshotPayload{
				Schema: 1, UnitCount: 1,
				Kinds: []uint8{0, 0}, States: []uint8{1}, Parents: []uint32{0}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
		{
			// A reference with a kind outside the enum would fall outside
			// every access rule; it must never come back from a snapshot.
			name: "unknown kind",
			payload: machine.SnapshotPayload{
				Schema: 1, UnitCount: 1,
				Kinds: []uint8{9}, States: []uint8{1}, Parents: []uint32{0}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
		{
			name: "unknown state",
			payload: machine.SnapshotPayload{
				Schema: 1, UnitCount: 1,
				Kinds: []uint8{0}, States: []uint8{7}, Parents: []uint32{0}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
		{
			name: "unknown mode",
			payload: machine.SnapshotPayload{
				Schema: 1, UnitCount: 1, Mode: 3,
				Kinds: []uint8{0}, States: []uint8{1}, Parents: []uint32{0}, Units: []uint32{1}, Splits: []uint32{0},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := msgpack.Marshal(&tc.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := machine.DecodeSnapshot(data); err == nil {
				t.Fatalf("expected decode failure")
			}
		})
	}
}

func TestDumpShowsRegisterAndRefs(t *testing.T) {
	m := buildSampleMachine(t)

	dump := m.Dump()
	if !strings.Contains(dump, "units=2") {
		t.Fatalf("dump should show the global count:\n%s", dump)
	}
	if !strings.Contains(dump, "shared") || !strings.Contains(dump, "read-write") {
		t.Fatalf("dump should show the permission register:\n%s", dump)
	}
	if !strings.Contains(dump, "shared-ro") || !strings.Contains(dump, "borrowing") {
		t.Fatalf("dump should show per-reference records:\n%s", dump)
	}
	if !strings.Contains(dump, "splits=1") {
		t.Fatalf("dump should show outstanding fragments:\n%s", dump)
	}
}
