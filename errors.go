package oap

import (
	"errors"
	"fmt"
)

// Conditions that are counted rather than allowed to stop a run.
var (
	ErrMalformedHeader    = errors.New("malformed particle header")
	ErrIncompleteParticle = errors.New("incomplete particle at end of stream")
	ErrStuckBitRecord     = errors.New("record probably has a stuck bit")
)

// Diagnostics counts the non-fatal conditions seen while decoding one probe.
type Diagnostics struct {
	Records             int
	ChecksumErrors      int
	SkippedRecords      int // dropped by the bad-checksum or minimum-packet filters
	MalformedHeaders    int
	IncompleteParticles int
	StuckBitRecords     int
	NonSequentialIDs    int
	Continuations       int
	FlushPackets        int // NL packets
	HousekeepingPackets int
	MaskPackets         int
	Overloads           int
	Overflows           int // slices cut short by an over-long run
	DiscardedBytes      int // bytes dropped before the first sync
	Particles           int
	Accepted            int
}

// Add accumulates the counts of o into d.
func (d *Diagnostics) Add(o Diagnostics) {
	d.Records += o.Records
	d.ChecksumErrors += o.ChecksumErrors
	d.SkippedRecords += o.SkippedRecords
	d.MalformedHeaders += o.MalformedHeaders
	d.IncompleteParticles += o.IncompleteParticles
	d.StuckBitRecords += o.StuckBitRecords
	d.NonSequentialIDs += o.NonSequentialIDs
	d.Continuations += o.Continuations
	d.FlushPackets += o.FlushPackets
	d.HousekeepingPackets += o.HousekeepingPackets
	d.MaskPackets += o.MaskPackets
	d.Overloads += o.Overloads
	d.Overflows += o.Overflows
	d.DiscardedBytes += o.DiscardedBytes
	d.Particles += o.Particles
	d.Accepted += o.Accepted
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("records=%d checksum=%d skipped=%d particles=%d accepted=%d "+
		"malformed=%d incomplete=%d stuckbit=%d nonseq=%d continuation=%d "+
		"nl=%d hk=%d mk=%d overload=%d overflow=%d discarded=%d",
		d.Records, d.ChecksumErrors, d.SkippedRecords, d.Particles, d.Accepted,
		d.MalformedHeaders, d.IncompleteParticles, d.StuckBitRecords, d.NonSequentialIDs, d.Continuations,
		d.FlushPackets, d.HousekeepingPackets, d.MaskPackets, d.Overloads, d.Overflows, d.DiscardedBytes)
}
