package capture

// SlotState is the lifecycle of one artifact slot.
type SlotState int

const (
	SlotUnset SlotState = iota
	SlotCaptured
	SlotSubmitted
)

func (s SlotState) String() string {
	switch s {
	case SlotCaptured:
		return "captured"
	case SlotSubmitted:
		return "submitted"
	default:
		return "unset"
	}
}

// Slot holds the latest artifact for one kind.
type Slot struct {
	Kind     Kind
	State    SlotState
	Artifact *Artifact
	// Delivered is meaningful only once State is SlotSubmitted.
	Delivered bool
	// Revision increments on every capture so a late upload outcome for an
	// overwritten artifact can be recognised.
	Revision int
}

// Slots is the set of capture slots. It is not safe for concurrent use; the
// orchestrator guards it with its own lock.
type Slots struct {
	slots map[Kind]*Slot
}

// NewSlots returns every slot in the Unset state.
func NewSlots() *Slots {
	s := &Slots{slots: make(map[Kind]*Slot, len(Kinds))}
	s.Reset()
	return s
}

// Reset clears every slot back to Unset.
func (s *Slots) Reset() {
	for _, k := range Kinds {
		s.slots[k] = &Slot{Kind: k}
	}
}

// Put stores a freshly captured artifact, overwriting any earlier one, and
// returns the new revision.
func (s *Slots) Put(a *Artifact) int {
	slot := s.slots[a.Kind]
	slot.Artifact = a
	slot.State = SlotCaptured
	slot.Delivered = false
	slot.Revision++
	return slot.Revision
}

// MarkSubmitted records the outcome of an upload of revision. It returns
// false when the slot has since been recaptured or cleared.
func (s *Slots) MarkSubmitted(kind Kind, revision int, delivered bool) bool {
	slot, ok := s.slots[kind]
	if !ok || slot.Revision != revision || slot.State != SlotCaptured {
		return false
	}
	slot.State = SlotSubmitted
	slot.Delivered = delivered
	return true
}

// Get returns a copy of the slot for kind.
func (s *Slots) Get(kind Kind) Slot {
	if slot, ok := s.slots[kind]; ok {
		return *slot
	}
	return Slot{Kind: kind}
}

// Has reports whether kind holds an artifact, submitted or not.
func (s *Slots) Has(kind Kind) bool {
	slot, ok := s.slots[kind]
	return ok && slot.Artifact != nil
}

// Snapshot returns copies of every slot in flow order.
func (s *Slots) Snapshot() []Slot {
	out := make([]Slot, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, *s.slots[k])
	}
	return out
}
