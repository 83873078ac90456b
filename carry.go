package oap

import "github.com/airborne-oap/oap/codec"

// AssemblerCarry is the state one probe channel carries from one physical
// record to the next. Each channel of each probe has its own.
type AssemblerCarry struct {
	codec.State // residual bytes, decoder alignment and slice cursor

	PrevTimeWord uint64
	HaveTime     bool
	PrevID       uint16
	HaveID       bool

	particle *Particle // particle still being assembled
	synced   bool      // a boundary has been seen, so the open particle is whole
}

// Reset discards all carried state.
func (c *AssemblerCarry) Reset() {
	*c = AssemblerCarry{}
}

// Pending reports whether a partly assembled particle is being carried.
func (c *AssemblerCarry) Pending() bool {
	return c.particle != nil && !c.particle.Empty()
}
