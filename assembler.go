package oap

import (
	"fmt"

	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
)

// Words with a fixed meaning in SPEC raw image records.
const (
	SyncWord         uint16 = 0x3253 // "2S" particle packet
	FlushWord        uint16 = 0x4e4c // "NL": the rest of the record is filler
	housekeepingLen         = 82     // words in an HK packet, tag included
	maskLen                 = 27     // words in an MK packet, tag included
	packetHeaderLen         = 5
	timingLen               = 3
	countMask        uint16 = 0x0FFF
	noTimingFlag     uint16 = 0x1000
	packetHeaderSize        = 2 * packetHeaderLen
)

// Assembler turns the physical records of one probe into particles. Run-word
// probes are read as SPEC particle packets, which carry their own channel;
// other variants are read as rows on the probe's channel. Every channel keeps
// its own AssemblerCarry, so Assemblers for different probes share nothing.
type Assembler struct {
	Probe ProbeDescriptor

	params  codec.Params
	carry   [2]AssemblerCarry
	diag    Diagnostics
	pending []byte // packet bytes not yet attributable to a channel
	skip    int    // bytes of an embedded HK or MK packet still to skip
	record  framer.Timestamp
	tas     float64
}

// NewAssembler returns an Assembler for probe d.
func NewAssembler(d ProbeDescriptor) (*Assembler, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{Probe: d, params: d.Params()}, nil
}

// Carry returns the carry state of channel ch.
func (a *Assembler) Carry(ch Channel) *AssemblerCarry {
	return &a.carry[ch&1]
}

// Diagnostics returns the counts accumulated so far.
func (a *Assembler) Diagnostics() Diagnostics {
	d := a.diag
	for i := range a.carry {
		d.Overflows += a.carry[i].Overflows
		d.DiscardedBytes += a.carry[i].Discarded
	}
	return d
}

// SetTAS sets the true airspeed (m/s) used for live time and TAS-clocked probes.
func (a *Assembler) SetTAS(tas float64) {
	a.tas = tas
}

// Feed decodes one physical record and returns the particles it completes.
func (a *Assembler) Feed(rec *framer.Record) ([]*Particle, error) {
	if rec.TAS > 0 {
		a.tas = float64(rec.TAS)
	}
	return a.FeedPayload(rec.Payload, rec.Timestamp)
}

// FeedPayload decodes one record payload stamped with ts.
func (a *Assembler) FeedPayload(payload []byte, ts framer.Timestamp) ([]*Particle, error) {
	a.record = ts
	a.diag.Records++
	if a.Probe.Variant == codec.VariantRunWord {
		return a.feedPackets(payload), nil
	}
	return a.feedRows(payload)
}

// Finish ends the stream. Particles still being assembled are discarded and
// counted; the error wraps ErrIncompleteParticle when there were any.
func (a *Assembler) Finish() error {
	n := 0
	for i := range a.carry {
		if a.carry[i].Pending() {
			n++
		}
		a.carry[i].particle = nil
	}
	if w, err := framer.NewCursor(a.pending, a.params.Order).Uint16(); err == nil && w == SyncWord {
		n++
	}
	a.pending = nil
	a.diag.IncompleteParticles += n
	if n > 0 {
		return fmt.Errorf("probe %s: %d discarded: %w", a.Probe.ID, n, ErrIncompleteParticle)
	}
	return nil
}

// Resync drops everything carried from earlier records, as after a gap in
// the data. Particles being assembled are counted as incomplete. Timing and
// ID history is kept.
func (a *Assembler) Resync() {
	for i := range a.carry {
		c := &a.carry[i]
		if c.Pending() {
			a.diag.IncompleteParticles++
		}
		ov, disc := c.State.Overflows, c.State.Discarded
		c.State.Reset()
		c.State.Overflows, c.State.Discarded = ov, disc
		c.particle = nil
		c.synced = false
	}
	if w, err := framer.NewCursor(a.pending, a.params.Order).Uint16(); err == nil && w == SyncWord {
		a.diag.IncompleteParticles++
	}
	a.pending = nil
	a.skip = 0
}

func readWords(c *framer.Cursor, n int) ([]uint16, error) {
	out := make([]uint16, n)
	for i := range out {
		w, err := c.Uint16()
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// feedPackets scans SPEC image words for particle packets. A packet cut off by
// the end of the record is kept and completed from the start of the next.
func (a *Assembler) feedPackets(payload []byte) []*Particle {
	buf := payload
	if len(a.pending) > 0 {
		buf = append(a.pending, payload...)
		a.pending = nil
	}
	c := framer.NewCursor(buf, a.params.Order)
	if a.skip > 0 {
		n := min(a.skip, c.Remaining())
		c.Skip(n)
		a.skip -= n
	}

	var out []*Particle
	for c.Remaining() >= 2 {
		start := c.Offset()
		w, _ := c.Uint16At(start)
		switch w {
		case SyncWord:
			if c.Remaining() < packetHeaderSize {
				a.pending = append([]byte(nil), buf[start:]...)
				return out
			}
			hdr, _ := readWords(c, packetHeaderLen)
			nh, nv := hdr[1]&countMask, hdr[2]&countMask
			if (nh == 0) == (nv == 0) {
				a.malformed(start, hdr)
				c.Seek(start + 2)
				continue
			}
			ch, ctl := Horizontal, hdr[1]
			if nh == 0 {
				ch, ctl = Vertical, hdr[2]
			}
			n := int(ctl & countMask)
			timing := ctl&noTimingFlag == 0
			if timing && n < timingLen {
				a.malformed(start, hdr)
				c.Seek(start + 2)
				continue
			}
			if c.Remaining() < 2*n {
				a.pending = append([]byte(nil), buf[start:]...)
				return out
			}
			bodyLen := n
			if timing {
				bodyLen -= timingLen
			}
			body, _ := c.Bytes(2 * bodyLen)
			var tw uint64
			if timing {
				t, _ := readWords(c, timingLen)
				tw = (uint64(t[0]) | uint64(t[1])<<16 | uint64(t[2])<<32) & a.Probe.TimingMask()
			}
			if p := a.packet(ch, hdr[3], body, timing, tw); p != nil {
				out = append(out, p)
			}

		case FlushWord:
			a.diag.FlushPackets++
			return out

		case framer.TagHousekeeping, framer.TagMask:
			size := 2 * housekeepingLen
			if w == framer.TagMask {
				size = 2 * maskLen
				a.diag.MaskPackets++
			} else {
				a.diag.HousekeepingPackets++
			}
			n := min(size, c.Remaining())
			c.Skip(n)
			a.skip = size - n

		default:
			c.Skip(2)
		}
	}
	if c.Remaining() > 0 {
		a.pending = append([]byte(nil), buf[c.Offset():]...)
	}
	return out
}

func (a *Assembler) malformed(offset int, hdr []uint16) {
	a.diag.MalformedHeaders++
	ProblemLogger.Printf("probe %s: %v at word %d: H=0x%04x V=0x%04x",
		a.Probe.ID, ErrMalformedHeader, offset/2, hdr[1], hdr[2])
}

// packet decodes one particle packet's body onto channel ch. Packets without
// a timing word are continued by the next packet with the same ID.
func (a *Assembler) packet(ch Channel, id uint16, body []byte, timing bool, tw uint64) *Particle {
	c := a.Carry(ch)
	continuation := false
	if c.HaveID {
		switch {
		case id == c.PrevID:
			continuation = true
			a.diag.Continuations++
		case id != 0 && id != c.PrevID+1:
			a.diag.NonSequentialIDs++
			ProblemLogger.Printf("probe %s%s: non-sequential particle ID: prev=%d, this=%d",
				a.Probe.ID, ch, c.PrevID, id)
		}
	}
	c.PrevID, c.HaveID = id, true

	p := c.particle
	if p == nil || !continuation {
		if c.Pending() {
			a.diag.IncompleteParticles++
		}
		p = NewParticle(a.Probe, ch)
		p.ID = id
	}
	p.Continuation = p.Continuation || continuation

	dec, err := codec.NewDecoder(codec.VariantRunWord, a.params, &c.State, body)
	if err != nil {
		ProblemLogger.Printf("probe %s: %v", a.Probe.ID, err)
		return nil
	}
	for {
		row, st := dec.Next()
		if st == codec.StatusNeedMore {
			break
		}
		if row.IsImage() {
			p.AddSlice(row.Bits)
		}
	}

	if !timing {
		c.particle = p
		return nil
	}
	c.particle = nil
	return a.complete(c, p, tw)
}

// complete stamps a finished particle with its timing.
func (a *Assembler) complete(c *AssemblerCarry, p *Particle, tw uint64) *Particle {
	p.TimeWord = tw
	switch {
	case a.Probe.ElapsedTiming:
		p.DeltaTime = tw
	case c.HaveTime:
		p.DeltaTime = a.Probe.Delta(c.PrevTimeWord, tw)
	}
	c.PrevTimeWord, c.HaveTime = tw, true
	p.Interarrival = a.Probe.TicksToSeconds(p.DeltaTime, a.tas)
	p.RecordTime = a.record
	if a.tas > 0 {
		p.LiveTime = float64(p.W+3) * a.Probe.Resolution * 1e-6 / a.tas
	}
	a.diag.Particles++
	return p
}

// feedRows runs the row state machine over one record on the probe's channel.
func (a *Assembler) feedRows(payload []byte) ([]*Particle, error) {
	c := a.Carry(a.Probe.Channel)
	dec, err := codec.NewDecoder(a.Probe.Variant, a.params, &c.State, payload)
	if err != nil {
		return nil, err
	}
	if hv, ok := dec.(*codec.HVPSDecoder); ok && hv.Housekeeping() {
		a.diag.HousekeepingPackets++
		return nil, nil
	}
	var out []*Particle
	for {
		row, st := dec.Next()
		if st == codec.StatusNeedMore {
			return out, nil
		}
		var p *Particle
		if a.Probe.TimingLeads {
			p = a.leadingRow(c, row)
		} else {
			p = a.trailingRow(c, row)
		}
		if p != nil {
			out = append(out, p)
		}
	}
}

func (a *Assembler) newRowParticle(c *AssemblerCarry) *Particle {
	p := NewParticle(a.Probe, a.Probe.Channel)
	c.PrevID++
	p.ID = c.PrevID
	return p
}

// closeOpen completes the open particle of a leading-timing probe, whose
// timing word was stored when it opened.
func (a *Assembler) closeOpen(c *AssemblerCarry) *Particle {
	p := c.particle
	c.particle = nil
	if p == nil || p.Empty() {
		return nil
	}
	return a.complete(c, p, p.TimeWord)
}

// leadingRow handles PMS2D and HVPS rows, where the timing row opens a particle.
func (a *Assembler) leadingRow(c *AssemblerCarry, r codec.Row) *Particle {
	switch r.Kind {
	case codec.RowTiming:
		done := a.closeOpen(c)
		p := a.newRowParticle(c)
		p.TimeWord, p.DOF = r.Value, r.DOF
		c.particle = p
		return done
	case codec.RowSync:
		if c.particle == nil {
			return nil
		}
		if c.particle.Empty() && a.Probe.SyncIsSlice {
			c.particle.AddSyncSlice(r.Bits)
			return nil
		}
		return a.closeOpen(c)
	case codec.RowBlank:
		return a.closeOpen(c)
	case codec.RowOverload:
		a.diag.Overloads++
		c.particle = nil
		return nil
	}
	if c.particle != nil && r.IsImage() {
		c.particle.AddSlice(r.Bits)
	}
	return nil
}

// trailingRow handles Fast2D, CIP and 2DS rows, where the timing row closes
// the particle before it. Slices before the first timing row belong to a
// particle whose start was not recorded and are dropped.
func (a *Assembler) trailingRow(c *AssemblerCarry, r codec.Row) *Particle {
	switch r.Kind {
	case codec.RowTiming:
		var done *Particle
		if p := c.particle; c.synced && p != nil && !p.Empty() {
			p.DOF = r.DOF
			done = a.complete(c, p, r.Value)
		} else {
			c.PrevTimeWord, c.HaveTime = r.Value, true
		}
		c.synced = true
		c.particle = a.newRowParticle(c)
		return done
	case codec.RowOverload:
		a.diag.Overloads++
		c.particle = a.newRowParticle(c)
		return nil
	case codec.RowSync, codec.RowBlank:
		return nil
	}
	if c.particle == nil {
		c.particle = a.newRowParticle(c)
	}
	if r.IsImage() {
		c.particle.AddSlice(r.Bits)
	}
	return nil
}
