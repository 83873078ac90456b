package oap

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
	"github.com/airborne-oap/oap/getbytes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	recs []*canon.Record
	err  error
}

func (s *recordSink) WriteRecord(rec *canon.Record) error {
	s.recs = append(s.recs, rec)
	return s.err
}

// shape is the part of a particle that survives a trip through canonical records.
type shape struct {
	TimeWord  uint64
	DeltaTime uint64
	DOF       bool
	Slices    []codec.Bitmap
}

func shapes(ps []*Particle) []shape {
	out := make([]shape, len(ps))
	for i, p := range ps {
		out[i] = shape{p.TimeWord, p.DeltaTime, p.DOF, p.Slices}
	}
	return out
}

func decodeRecords(t *testing.T, d ProbeDescriptor, recs []*canon.Record) []*Particle {
	t.Helper()
	a := newTestAssembler(t, d)
	var out []*Particle
	for _, rec := range recs {
		ps, err := a.Feed(rec)
		require.NoError(t, err)
		out = append(out, ps...)
	}
	return out
}

// made builds a particle of probe d from slices given as diode runs.
func made(d ProbeDescriptor, tw, dt uint64, dof bool, runs ...[]int) *Particle {
	p := particleOf(d, runs...)
	p.TimeWord, p.DeltaTime, p.DOF = tw, dt, dof
	p.RecordTime = testTime
	return p
}

func emitAll(t *testing.T, e *CanonicalEmitter, ps []*Particle) {
	t.Helper()
	for _, p := range ps {
		require.NoError(t, e.Emit(p))
	}
	_, err := e.FlushRecord()
	require.NoError(t, err)
}

func TestCanonicalRoundTripSPEC(t *testing.T) {
	sh := StandardProbes["SH"]
	var words []uint16
	words = append(words, packet(Horizontal, 1, []codec.Bitmap{image(128, 20, 6), image(128, 18, 10)}, 1000, true)...)
	words = append(words, packet(Vertical, 1, []codec.Bitmap{image(128, 60, 2)}, 1200, true)...)
	words = append(words, packet(Horizontal, 2, []codec.Bitmap{image(128, 100, 28), image(128, 99, 29), image(128, 0, 128)}, 1500, true)...)
	words = append(words, packet(Horizontal, 3, []codec.Bitmap{image(128, 64, 1)}, 90000, true)...)
	a := newTestAssembler(t, sh)
	ps, err := a.FeedPayload(wordBytes(words), testTime)
	require.NoError(t, err)
	require.Len(t, ps, 4)

	var hs []*Particle
	for _, p := range ps {
		if p.Channel == Horizontal {
			hs = append(hs, p)
		}
	}
	sink := &recordSink{}
	e := NewCanonicalEmitter(sh.ForChannel(Horizontal), sink)
	e.SetTAS(180)
	emitAll(t, e, hs)
	require.Len(t, sink.recs, 1)
	rec := sink.recs[0]
	assert.Equal(t, "SH", rec.ProbeName())
	assert.Equal(t, int16(180), rec.TAS)
	assert.Equal(t, testTime, rec.Timestamp)
	assert.Equal(t, framer.ImagePayloadSize, len(rec.Payload))

	got := decodeRecords(t, sh.Canonical(), sink.recs)
	if diff := cmp.Diff(shapes(hs), shapes(got)); diff != "" {
		t.Errorf("2DS round trip differs (-want +got):\n%s", diff)
	}
	for _, p := range got {
		assert.Equal(t, "SH", p.Probe)
	}

	// The V channel is written under its own record id.
	v := NewCanonicalEmitter(sh.ForChannel(Vertical), nil)
	require.NoError(t, v.Emit(ps[1]))
	rec, err = v.FlushRecord()
	require.NoError(t, err)
	assert.Equal(t, "SV", rec.ProbeName())
	if err := v.Emit(hs[0]); err == nil {
		t.Errorf("SV emitter accepted an SH particle")
	}
}

func TestCanonicalRoundTripFast2D(t *testing.T) {
	d := StandardProbes["C4"]
	ps := []*Particle{
		made(d, 5000, 0, false, []int{20, 3}, []int{19, 5}),
		made(d, 17000, 12000, true, []int{40, 10}),
		made(d, 18000, 1000, false, []int{16, 48}, []int{16, 48}, []int{30, 2}),
	}
	sink := &recordSink{}
	emitAll(t, NewCanonicalEmitter(d, sink), ps)
	got := decodeRecords(t, d, sink.recs)
	if diff := cmp.Diff(shapes(ps), shapes(got)); diff != "" {
		t.Errorf("Fast2D round trip differs (-want +got):\n%s", diff)
	}
}

func TestCanonicalRoundTripFast2DWideTiming(t *testing.T) {
	d := StandardProbes["C4_v2"]
	tw := uint64(1<<41 + 12345)
	ps := []*Particle{
		made(d, tw, 0, false, []int{20, 3}),
		made(d, tw+3000, 3000, false, []int{10, 8}, []int{11, 6}),
	}
	sink := &recordSink{}
	emitAll(t, NewCanonicalEmitter(d, sink), ps)
	got := decodeRecords(t, d, sink.recs)
	if diff := cmp.Diff(shapes(ps), shapes(got)); diff != "" {
		t.Errorf("Fast2D v2 round trip differs (-want +got):\n%s", diff)
	}
}

func TestCanonicalRoundTripCIP(t *testing.T) {
	d := StandardProbes["C8"]
	base := uint64(12*3600e6 + 17)
	ps := []*Particle{
		made(d, base, 0, false, []int{20, 3}, []int{19, 5}),
		made(d, base+250, 250, true, []int{0, 10}, []int{2, 20}),
		made(d, base+1250, 1000, false, []int{50, 14}),
	}
	sink := &recordSink{}
	e := NewCanonicalEmitter(d, sink)
	assert.Equal(t, codec.VariantBitmap, e.Probe.Variant, "CIP is written uncompressed")
	emitAll(t, e, ps)
	got := decodeRecords(t, d.Canonical(), sink.recs)
	if diff := cmp.Diff(shapes(ps), shapes(got)); diff != "" {
		t.Errorf("CIP round trip differs (-want +got):\n%s", diff)
	}
}

func TestCanonicalRoundTripPMS2D(t *testing.T) {
	d := StandardProbes["C1"]
	sync := codec.FromInverted(getbytes.FromUint32(binary.BigEndian, codec.PMS2DSync), false)
	var ps []*Particle
	for i, runs := range [][][]int{
		{{8, 4}, {6, 7}},
		{{0, 2}},
		{{10, 12}, {9, 14}, {10, 12}},
	} {
		p := NewParticle(d, Horizontal)
		p.AddSyncSlice(sync)
		for _, r := range runs {
			p.AddSlice(image(32, r...))
		}
		p.TimeWord = uint64(400 * (i + 1))
		p.DeltaTime = p.TimeWord
		ps = append(ps, p)
	}
	sink := &recordSink{}
	emitAll(t, NewCanonicalEmitter(d, sink), ps)
	got := decodeRecords(t, d, sink.recs)
	if diff := cmp.Diff(shapes(ps), shapes(got)); diff != "" {
		t.Errorf("PMS2D round trip differs (-want +got):\n%s", diff)
	}
	for i := range got {
		assert.Equal(t, ps[i].Area, got[i].Area)
	}
}

func TestCanonicalRoundTripHVPS(t *testing.T) {
	d := StandardProbes["H1"]
	ps := []*Particle{
		made(d, 3000, 3000, false, []int{100, 10}, []int{98, 14}),
		made(d, 120, 120, false, []int{150, 3}),
		made(d, 77, 77, false, []int{60, 2, 70, 5}),
	}
	sink := &recordSink{}
	emitAll(t, NewCanonicalEmitter(d, sink), ps)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, byte(0), sink.recs[0].Payload[framer.ImagePayloadSize-1], "HVPS pads with zero words")

	a := newTestAssembler(t, d)
	got, err := a.Feed(sink.recs[0])
	require.NoError(t, err)
	// The last particle has no timing word after it to close it.
	if diff := cmp.Diff(shapes(ps[:2]), shapes(got)); diff != "" {
		t.Errorf("HVPS round trip differs (-want +got):\n%s", diff)
	}
	assert.True(t, a.Carry(Horizontal).Pending())
}

func TestCanonicalEmitterRecords(t *testing.T) {
	d := StandardProbes["C4"]
	sink := &recordSink{}
	e := NewCanonicalEmitter(d, sink)
	rec, err := e.FlushRecord()
	assert.NoError(t, err)
	assert.Nil(t, rec, "nothing buffered")

	slices := func(n int) [][]int {
		out := make([][]int, n)
		for i := range out {
			out[i] = []int{20 + i%30, 3}
		}
		return out
	}
	a := made(d, 1000, 0, false, slices(10)...)
	b := made(d, 2000, 1000, false, slices(500)...)
	c := made(d, 3000, 1000, false, slices(10)...)

	require.NoError(t, e.Emit(a))
	assert.Equal(t, 8+80+8, e.Buffered(), "opening timing slice, image, timing slice")
	require.NoError(t, e.Emit(b))
	assert.Equal(t, 1, e.RecordsFlushed(), "b does not fit after a")
	assert.Equal(t, 4000+8, e.Buffered())
	require.NoError(t, e.Emit(c))
	assert.Equal(t, 2, e.RecordsFlushed(), "an exactly full record is flushed")
	assert.Equal(t, 0, e.Buffered())

	got := decodeRecords(t, d, sink.recs)
	if diff := cmp.Diff(shapes([]*Particle{a, b, c}), shapes(got)); diff != "" {
		t.Errorf("records differ (-want +got):\n%s", diff)
	}
}

func TestCanonicalEmitterSplitsLargeParticle(t *testing.T) {
	d := StandardProbes["SH"].Canonical()
	p := NewParticle(d, Horizontal)
	for i := 0; i < 300; i++ {
		p.AddSlice(image(128, 10+i%50, 5))
	}
	p.TimeWord = 7000
	sink := &recordSink{}
	emitAll(t, NewCanonicalEmitter(d, sink), []*Particle{p})
	require.Len(t, sink.recs, 2)

	got := decodeRecords(t, d, sink.recs)
	require.Len(t, got, 1)
	assert.Equal(t, 300, got[0].W)
	if diff := cmp.Diff(shapes([]*Particle{p}), shapes(got)); diff != "" {
		t.Errorf("split particle differs (-want +got):\n%s", diff)
	}
}

func TestCanonicalEmitterWriteError(t *testing.T) {
	d := StandardProbes["C4"]
	failed := errors.New("disk full")
	e := NewCanonicalEmitter(d, &recordSink{err: failed})
	require.NoError(t, e.Emit(made(d, 10, 0, false, []int{20, 2})))
	_, err := e.FlushRecord()
	assert.ErrorIs(t, err, failed)
}

type countingEmitter struct {
	particles, flushes int
}

func (c *countingEmitter) Emit(*Particle) error {
	c.particles++
	return nil
}

func (c *countingEmitter) FlushRecord() (*canon.Record, error) {
	c.flushes++
	return nil, nil
}

func TestMultiEmitter(t *testing.T) {
	d := StandardProbes["C4"]
	counter := &countingEmitter{}
	sink := &recordSink{}
	m := MultiEmitter{counter, NewCanonicalEmitter(d, sink)}
	require.NoError(t, m.Emit(made(d, 10, 0, false, []int{20, 2})))
	rec, err := m.FlushRecord()
	require.NoError(t, err)
	require.NotNil(t, rec, "record of the canonical emitter")
	assert.Equal(t, "C4", rec.ProbeName())
	assert.Equal(t, 1, counter.particles)
	assert.Equal(t, 1, counter.flushes)
	assert.Len(t, sink.recs, 1)

	other := made(StandardProbes["C5"], 10, 0, false, []int{20, 2})
	assert.Error(t, m.Emit(other))
	assert.Equal(t, 2, counter.particles, "every emitter sees the particle")
}
