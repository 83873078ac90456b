package oap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
	"github.com/airborne-oap/oap/getbytes"
)

// Emitter consumes classified particles, in channel and time order.
type Emitter interface {
	Emit(p *Particle) error
	// FlushRecord ends the current output record. Emitters that do not build
	// canonical records return nil.
	FlushRecord() (*canon.Record, error)
}

// RecordWriter accepts finished canonical records.
type RecordWriter interface {
	WriteRecord(rec *canon.Record) error
}

// MultiEmitter sends each particle to every emitter in turn.
type MultiEmitter []Emitter

// Emit passes p to every emitter and joins their errors.
func (m MultiEmitter) Emit(p *Particle) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushRecord flushes every emitter and returns the first record produced.
func (m MultiEmitter) FlushRecord() (*canon.Record, error) {
	var first *canon.Record
	var errs []error
	for _, e := range m {
		rec, err := e.FlushRecord()
		if err != nil {
			errs = append(errs, err)
		}
		if first == nil {
			first = rec
		}
	}
	return first, errors.Join(errs...)
}

// CanonicalEmitter packs the particles of one probe channel into 4096-byte
// canonical records. A record is flushed before a particle would overflow it;
// a particle bigger than a whole record is split across records. Unused bytes
// are padded with clear slices (0xFF), or zero words for HVPS.
//
// Each particle is written in its family's canonical form, then its timing:
//
//	2DS     image slices, 16-byte sync/timing slice
//	Fast2D  image slices, 8-byte sync/timing slice carrying the DOF flag
//	CIP     image slices, 8x0xAA sync slice, time-of-day slice
//	PMS2D   blank slice, timing slice, sync slice, image slices
//	HVPS    timing word pair, run words
//
// The trailing-timing families also open the stream with one timing slice
// holding the time word before the first particle, so the first particle
// decodes whole.
type CanonicalEmitter struct {
	Probe ProbeDescriptor // canonical descriptor of the channel
	Out   RecordWriter    // receives each finished record; may be nil

	buf     []byte
	fill    byte
	align   int
	ts      framer.Timestamp
	tas     float64
	started bool
	flushed int
}

// NewCanonicalEmitter returns an emitter for probe channel d writing to out.
func NewCanonicalEmitter(d ProbeDescriptor, out RecordWriter) *CanonicalEmitter {
	d = d.Canonical()
	e := &CanonicalEmitter{
		Probe: d,
		Out:   out,
		buf:   make([]byte, 0, framer.ImagePayloadSize),
		fill:  canon.BlankByte,
		align: d.Params().BytesPerSlice(),
	}
	if d.Variant == codec.VariantHVPS {
		e.fill = 0x00
		e.align = 2
	}
	return e
}

// SetTAS sets the true airspeed stamped on records that follow.
func (e *CanonicalEmitter) SetTAS(tas float64) {
	e.tas = tas
}

// RecordsFlushed returns the number of records produced.
func (e *CanonicalEmitter) RecordsFlushed() int {
	return e.flushed
}

// Buffered returns the number of payload bytes waiting in the current record.
func (e *CanonicalEmitter) Buffered() int {
	return len(e.buf)
}

func (e *CanonicalEmitter) order() binary.ByteOrder {
	if e.Probe.Order == nil {
		return binary.BigEndian
	}
	return e.Probe.Order
}

// previousTime is the time word of the particle before p.
func (e *CanonicalEmitter) previousTime(p *Particle) uint64 {
	if p.DeltaTime <= p.TimeWord {
		return p.TimeWord - p.DeltaTime
	}
	return p.TimeWord + e.Probe.Modulus() - p.DeltaTime
}

func (e *CanonicalEmitter) encode(p *Particle) ([]byte, error) {
	d := e.Probe
	var out []byte
	opening := !e.started
	switch d.Family {
	case codec.FamilyTwoDS:
		if opening {
			out = append(out, codec.TwoDSTimingSlice(e.previousTime(p))...)
		}
		for _, s := range p.Slices {
			out = append(out, s.Inverted(true)...)
		}
		return append(out, codec.TwoDSTimingSlice(p.TimeWord)...), nil

	case codec.FamilyFast2D:
		if opening {
			out = append(out, codec.Fast2DTimingSlice(e.previousTime(p), d.TimingMask(), d.DofMask, false)...)
		}
		for _, s := range p.Slices {
			out = append(out, s.Inverted(false)...)
		}
		return append(out, codec.Fast2DTimingSlice(p.TimeWord, d.TimingMask(), d.DofMask, p.DOF)...), nil

	case codec.FamilyCIP:
		if opening {
			out = append(out, codec.DMTSyncSlice()...)
			out = append(out, codec.CIPTimeSlice(e.previousTime(p), d.DofMask, false)...)
		}
		for _, s := range p.Slices {
			out = append(out, s.Inverted(true)...)
		}
		out = append(out, codec.DMTSyncSlice()...)
		return append(out, codec.CIPTimeSlice(p.TimeWord, d.DofMask, p.DOF)...), nil

	case codec.FamilyPMS2D:
		blank := codec.NewBitmap(d.NDiodes).Inverted(false)
		out = append(out, blank...)
		out = append(out, codec.PMS2DTimingSlice(uint32(p.TimeWord))...)
		slices := p.Slices
		sync := codec.FromInverted(getbytes.FromUint32(binary.BigEndian, codec.PMS2DSync), false)
		if len(slices) > 0 && slices[0].Equal(sync) {
			slices = slices[1:]
		}
		for _, s := range slices {
			out = append(out, s.Inverted(false)...)
		}
		return out, nil

	case codec.FamilyHVPS:
		words := codec.EncodeHVPS([]codec.HVPSParticle{{Timing: uint32(p.TimeWord), Slices: p.Slices}})
		return getbytes.FromSliceUint16(e.order(), words), nil
	}
	return nil, fmt.Errorf("probe %s: no canonical form for %s data", d.ID, d.Family)
}

// Emit appends p to the current record.
func (e *CanonicalEmitter) Emit(p *Particle) error {
	if p.Probe != e.Probe.ID {
		return fmt.Errorf("canonical emitter for %s given a particle of %s", e.Probe.ID, p.Probe)
	}
	blob, err := e.encode(p)
	if err != nil {
		return err
	}
	e.started = true
	capacity := cap(e.buf)
	if len(e.buf) > 0 && len(e.buf)+len(blob) > capacity {
		if _, err := e.FlushRecord(); err != nil {
			return err
		}
	}
	if len(e.buf) == 0 {
		e.ts = p.RecordTime
	}
	for len(e.buf)+len(blob) > capacity {
		n := (capacity - len(e.buf)) / e.align * e.align
		e.buf = append(e.buf, blob[:n]...)
		blob = blob[n:]
		if _, err := e.FlushRecord(); err != nil {
			return err
		}
		e.ts = p.RecordTime
	}
	e.buf = append(e.buf, blob...)
	if len(e.buf) == capacity {
		_, err = e.FlushRecord()
	}
	return err
}

// FlushRecord pads and returns the current record, passing it to Out. It
// returns nil when nothing is buffered.
func (e *CanonicalEmitter) FlushRecord() (*canon.Record, error) {
	if len(e.buf) == 0 {
		return nil, nil
	}
	rec := canon.NewRecord(e.Probe.ID, e.ts, e.tas, e.fill)
	copy(rec.Payload, e.buf)
	e.buf = e.buf[:0]
	e.flushed++
	if e.Out != nil {
		if err := e.Out.WriteRecord(rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}
