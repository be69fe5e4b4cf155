package unity

import "fmt"

// builderState tracks the Builder lifecycle so misuse after Finalize is
// observable as an error instead of silent state corruption.
type builderState int

const (
	building builderState = iota
	finalized
)

func (s builderState) String() string {
	switch s {
	case building:
		return "building"
	case finalized:
		return "finalized"
	default:
		return fmt.Sprintf("builderState(%d)", int(s))
	}
}

// Builder turns a flat sequence of files into an ordered list of finalized
// Accumulator groups according to a size policy.
//
// Splitting policy:
//   - A positive split threshold rolls the current group over once its
//     EffectiveSize strictly exceeds the threshold. Groups may legitimately
//     land exactly at the threshold.
//   - A threshold <= 0 disables splitting for the lifetime of the builder:
//     one global group holds everything.
//
// Rollover is purely size-triggered. Files are consumed in caller order; the
// caller is responsible for supplying a deterministic order.
type Builder struct {
	current   *Accumulator
	completed []*Accumulator
	threshold int64
	state     builderState
}

// NewBuilder creates a Builder with the given split threshold in bytes.
func NewBuilder(splitThresholdBytes int64) *Builder {
	return &Builder{
		current:   &Accumulator{},
		threshold: splitThresholdBytes,
	}
}

// AddMember adds a file for physical inclusion in the current group, rolling
// the group over if the size policy says so.
//
// Returns an error only when the builder has already been finalized; that is
// a caller contract violation, not a data condition.
func (b *Builder) AddMember(f SourceFile) error {
	if b.state != building {
		return fmt.Errorf("unity builder: AddMember after finalize (state %s)", b.state)
	}
	b.current.AddMember(f)
	b.rolloverIfNeeded()
	return nil
}

// AddReserved adds a size-only reservation to the current group. The same
// overflow check applies as for AddMember, so reserving a file instead of
// including it leaves the boundaries of all other groups unchanged.
func (b *Builder) AddReserved(f SourceFile) error {
	if b.state != building {
		return fmt.Errorf("unity builder: AddReserved after finalize (state %s)", b.state)
	}
	b.current.AddReserved(f)
	b.rolloverIfNeeded()
	return nil
}

// rolloverIfNeeded finalizes the current group once it strictly exceeds the
// threshold. Disabled when the threshold is non-positive.
func (b *Builder) rolloverIfNeeded() {
	if b.threshold <= 0 {
		return
	}
	if b.current.EffectiveSize > b.threshold {
		b.flushCurrent()
		b.current = &Accumulator{}
	}
}

// flushCurrent appends the current group to the completed list unless it has
// no members. A group with reservations but nothing to physically compile is
// discarded: no aggregate is ever emitted empty.
func (b *Builder) flushCurrent() {
	if len(b.current.Members) == 0 {
		return
	}
	b.completed = append(b.completed, b.current)
}

// Finalize flushes any non-empty in-progress group and returns the completed
// groups in production order. The builder is invalidated: every subsequent
// call, including a second Finalize, returns an error.
func (b *Builder) Finalize() ([]*Accumulator, error) {
	if b.state != building {
		return nil, fmt.Errorf("unity builder: Finalize called twice (state %s)", b.state)
	}
	b.flushCurrent()
	b.current = nil
	b.state = finalized
	return b.completed, nil
}
