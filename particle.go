package oap

import (
	"fmt"
	"strings"

	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
)

// Channel identifies the horizontal or vertical array of a two-channel probe.
type Channel int

// Probe channels
const (
	Horizontal Channel = iota
	Vertical
)

func (c Channel) String() string {
	switch c {
	case Horizontal:
		return "H"
	case Vertical:
		return "V"
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// Edge flag bits. EdgeFirst (high nibble) is set when any slice shadows the
// first active diode, EdgeLast (low nibble) when any slice shadows the last
// one. A particle touching both ends carries EdgeFirst|EdgeLast == 0xFF.
const (
	EdgeFirst byte = 0xF0 // first active diode shadowed
	EdgeLast  byte = 0x0F // last active diode shadowed
)

// RejectReason records why a particle was rejected.
type RejectReason int

// Reasons a particle is rejected
const (
	Accepted RejectReason = iota
	RejectZeroArea
	RejectStuckBit
	RejectEdge
	RejectAreaRatio
	RejectOversize
	RejectDOF
)

var rejectNames = [...]string{"accepted", "zero-area", "stuck-bit", "edge", "area-ratio", "oversize", "dof"}

func (r RejectReason) String() string {
	if r >= 0 && int(r) < len(rejectNames) {
		return rejectNames[r]
	}
	return fmt.Sprintf("RejectReason(%d)", int(r))
}

// Particle is one assembled particle image and its derived geometry.
type Particle struct {
	Probe        string
	Channel      Channel
	ID           uint16
	Slices       []codec.Bitmap
	TimeWord     uint64 // raw timing word, masked
	DeltaTime    uint64 // ticks since the previous particle on this channel
	Interarrival float64 // DeltaTime in seconds
	DOF          bool   // the timing slice carried the depth-of-field reject flag
	Continuation bool   // same ID as the previous particle on this channel
	RecordTime   framer.Timestamp
	LiveTime     float64 // seconds

	W, H   int
	Area   int
	X1, X2 int
	Edge   byte

	Reject bool
	Reason RejectReason
	Bin    int

	first, last int
}

// NewParticle returns an empty particle for probe d on channel ch. Particles
// of a two-channel SPEC probe carry the record id of their channel.
func NewParticle(d ProbeDescriptor, ch Channel) *Particle {
	p := &Particle{Probe: d.ForChannel(ch).ID, Channel: ch}
	p.first, p.last = d.Active()
	return p
}

// AddSlice appends one slice and updates the particle geometry. Only diodes in
// the active window count toward H and Area.
func (p *Particle) AddSlice(b codec.Bitmap) {
	p.Slices = append(p.Slices, b)
	p.W++
	if h := b.LongestRunRange(p.first, p.last); h > p.H {
		p.H = h
	}
	p.Area += b.CountRange(p.first, p.last)
	if b.Shadowed(p.first) {
		p.X1++
		p.Edge |= EdgeFirst
	}
	if b.Shadowed(p.last) {
		p.X2++
		p.Edge |= EdgeLast
	}
}

// AddSyncSlice appends a sync slice that counts as one slice of a single
// shadowed pixel.
func (p *Particle) AddSyncSlice(b codec.Bitmap) {
	p.Slices = append(p.Slices, b)
	p.W++
	p.H = max(p.H, 1)
	p.Area++
}

// Empty reports whether the particle has no slices.
func (p *Particle) Empty() bool {
	return len(p.Slices) == 0
}

// Ascii renders the particle one slice per line.
func (p *Particle) Ascii() string {
	var sb strings.Builder
	for _, s := range p.Slices {
		sb.WriteString(s.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (p *Particle) String() string {
	return fmt.Sprintf("%s id=%d t=%d dt=%d w=%d h=%d a=%d x1=%d x2=%d edge=%02x bin=%d %v",
		p.Probe, p.ID, p.TimeWord, p.DeltaTime, p.W, p.H, p.Area, p.X1, p.X2, p.Edge, p.Bin, p.Reason)
}
