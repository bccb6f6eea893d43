package machine

// framePermissions describes what the rest of the hierarchy can currently do
// with its units. When the source holds the only unit there is no frame at
// all; otherwise the frame acts under the stored access mode.
type framePermissions struct {
	Present bool
	Mode    AccessMode
}

func (m *Machine) framePermissions() framePermissions {
	if m.unitCount == 1 {
		return framePermissions{}
	}
	return framePermissions{Present: true, Mode: m.mode}
}

// boundedBy reports whether the frame's capability is at most max. An absent
// frame is below everything; an absent max admits only an absent frame. This
// is the partial order the read/write rules are phrased in: "the frame may
// do no more than max while this access runs".
func (f framePermissions) boundedBy(max framePermissions) bool {
	switch {
	case !f.Present:
		return true
	case !max.Present:
		return false
	case f.Mode == ModeReadOnly:
		return true
	default: // frame read-write
		return max.Mode == ModeReadWrite
	}
}

// String returns the string representation of framePermissions.
func (f framePermissions) String() string {
	if !f.Present {
		return "absent"
	}
	return f.Mode.String()
}

var frameReadOnly = framePermissions{Present: true, Mode: ModeReadOnly}

// UseToken validates one access to the modeled location through source.
// This is where the aliasing discipline's rules live: the decision is a
// function of the reference's kind, its current holding, and the derived
// (exclusivity, access-mode) pair. A nil return means the access is sound
// under the model; any error identifies the exact rule that was broken.
func (m *Machine) UseToken(source Reference, access AccessKind) error {
	eb := errorBuilder{op: "use", ref: source}
	sourceInfo, ok := m.lookup(source)
	if !ok {
		return eb.unknownReference(source)
	}
	if sourceInfo.Units == 0 {
		return eb.make(ViolationNoToken, "no unit held for %s", access)
	}
	// A dead reference that still holds units is only relaying them home;
	// it may never use them.
	if sourceInfo.State == StateDead {
		return eb.make(ViolationDeadReference, "%s through dead reference", access)
	}

	frame := m.framePermissions()
	m.emitCheck("frame", frame.String(), map[string]string{
		"ref":    refLabel(source),
		"kind":   sourceInfo.Kind.String(),
		"access": access.String(),
	})

	switch sourceInfo.Kind {
	case KindSharedReadOnly:
		if access == AccessWrite {
			return eb.make(ViolationReadOnly,
				"read-only reference cannot write")
		}
		// Reading is safe whenever no writer can be concurrently active:
		// either we are exclusive, or every other unit is read-only too.
		if !frame.boundedBy(frameReadOnly) {
			return eb.make(ViolationReadWhileWritable,
				"shared units are write-capable during read-only read")
		}

	case KindSharedReadWrite:
		if access == AccessWrite && m.mode == ModeReadOnly {
			return eb.make(ViolationWriteWhileReadOnly,
				"token is read-only")
		}
		// Reads through a write-capable shared reference are always sound.

	case KindUnique:
		if access == AccessRead {
			if !frame.boundedBy(frameReadOnly) {
				return eb.make(ViolationReadWhileWritable,
					"shared units are write-capable during unique read")
			}
			break
		}
		if m.mode == ModeReadOnly {
			return eb.make(ViolationWriteWhileReadOnly,
				"token is read-only")
		}
		if !frame.boundedBy(framePermissions{}) {
			return eb.make(ViolationWriteWhileShared,
				"unique write requires sole ownership, %d units outstanding", m.unitCount)
		}

	default:
		return eb.make(ViolationKind, "unknown reference kind %d", sourceInfo.Kind)
	}

	m.emitOp("use", source, access.String(), map[string]string{
		"kind": sourceInfo.Kind.String(),
		"mode": m.mode.String(),
		"excl": m.Exclusivity().String(),
	})
	return nil
}
