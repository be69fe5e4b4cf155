package unity

// Accumulator collects one in-progress group of source files together with a
// parallel virtual size counter.
//
// Members are files whose content is physically included in the generated
// aggregate. Reserved files contribute only a size reservation: they keep the
// group's effective size identical to what it would have been had the file
// been included, so excluding a file from physical inclusion cannot shift the
// split boundaries of every following group and spuriously invalidate
// previously-compiled aggregates.
//
// Invariant: EffectiveSize >= RealSize at all times.
type Accumulator struct {
	// Members are the files included in the generated aggregate, in the
	// order they were added.
	Members []SourceFile

	// Reserved are the files counted toward splitting but excluded from
	// physical inclusion, in the order they were added.
	Reserved []SourceFile

	// RealSize is the sum of member sizes in bytes.
	RealSize int64

	// EffectiveSize is RealSize plus the sum of reserved sizes in bytes.
	EffectiveSize int64
}

// AddMember appends a file to the group's members and grows both size
// counters. It never fails.
func (a *Accumulator) AddMember(f SourceFile) {
	a.Members = append(a.Members, f)
	a.RealSize += f.Size
	a.EffectiveSize += f.Size
}

// AddReserved appends a file to the group's reservations, growing only the
// effective size. It never fails.
func (a *Accumulator) AddReserved(f SourceFile) {
	a.Reserved = append(a.Reserved, f)
	a.EffectiveSize += f.Size
}
