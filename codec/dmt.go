package codec

import (
	"bytes"
	"encoding/binary"
)

// dmtSync is the sync slice of DMT probes.
var dmtSync = []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}

// DMT control byte fields.
const (
	dmtDummy     byte = 0x20
	dmtZeroFill  byte = 0x80
	dmtOnesFill  byte = 0x40
	dmtCountMask byte = 0x1F
	dmtMaxRun         = 32
)

// DMTDecoder decodes DMT byte run-length data. Output is realigned to slice
// boundaries at the first sync slice by dropping its offset modulo the slice
// width; bytes that do not fill a whole slice are left in State.Residual for
// the next record.
type DMTDecoder struct {
	p     Params
	state *State
	buf   []byte
	pos   int
}

// NewDMTDecoder uncompresses chunk, prefixed by any residual bytes in st.
func NewDMTDecoder(p Params, st *State, chunk []byte) *DMTDecoder {
	d := &DMTDecoder{p: p, state: st}
	width := p.BytesPerSlice()
	out := append([]byte(nil), st.Residual...)
	st.Residual = nil
	out = uncompressDMT(out, chunk, st)

	if !st.Aligned {
		idx := bytes.Index(out, dmtSync)
		if idx < 0 {
			keep := min(len(out), len(dmtSync)-1)
			st.Discarded += len(out) - keep
			st.Residual = append([]byte(nil), out[len(out)-keep:]...)
			return d
		}
		skew := idx % width
		st.Discarded += skew
		out = out[skew:]
		st.Aligned = true
	}
	n := len(out) / width * width
	st.Residual = append([]byte(nil), out[n:]...)
	d.buf = out[:n]
	return d
}

// uncompressDMT appends the expansion of src to dst. A raw copy that runs past
// the end of src is finished from the next chunk through st.Literal.
func uncompressDMT(dst, src []byte, st *State) []byte {
	for i := 0; i < len(src); {
		if st.Literal > 0 {
			n := min(st.Literal, len(src)-i)
			dst = append(dst, src[i:i+n]...)
			i += n
			st.Literal -= n
			continue
		}
		b := src[i]
		i++
		n := int(b&dmtCountMask) + 1
		switch {
		case b&dmtDummy != 0:
		case b&0xE0 == 0:
			st.Literal = n
		case b&dmtZeroFill != 0:
			dst = append(dst, make([]byte, n)...)
		case b&dmtOnesFill != 0:
			dst = append(dst, bytes.Repeat([]byte{0xFF}, n)...)
		}
	}
	return dst
}

// Next returns the next slice, or StatusNeedMore when the aligned output is used up.
func (d *DMTDecoder) Next() (Row, Status) {
	width := d.p.BytesPerSlice()
	if d.pos+width > len(d.buf) {
		return Row{}, StatusNeedMore
	}
	raw := d.buf[d.pos : d.pos+width]
	d.pos += width

	if d.state.ExpectTiming {
		d.state.ExpectTiming = false
		return Row{
			Kind:  RowTiming,
			Value: CIPTimeWord(binary.LittleEndian.Uint64(raw)),
			DOF:   raw[len(raw)-1]&d.p.DofMask != 0,
		}, StatusOK
	}
	if bytes.Equal(raw, dmtSync) {
		d.state.ExpectTiming = true
		return Row{Kind: RowSync}, StatusOK
	}
	if allBytes(raw, 0xFF) {
		return Row{Kind: RowBlank, Bits: NewBitmap(d.p.NDiodes)}, StatusOK
	}
	return Row{Kind: RowImage, Bits: FromInverted(raw, true)}, StatusOK
}

// CIPTimeWord converts a DMT time slice to microseconds since midnight.
func CIPTimeWord(slice uint64) uint64 {
	hour := (slice >> 35) & 0x1F
	minute := (slice >> 29) & 0x3F
	second := (slice >> 23) & 0x3F
	msec := (slice >> 13) & 0x3FF
	usec := slice & 0x1FFF // 125 ns units
	return (hour*3600+minute*60+second)*1000000 + msec*1000 + usec/8
}

// CIPTimeSlice builds the wire form of a DMT time slice for a time of day in
// microseconds. The DOF flag is stored in the last byte.
func CIPTimeSlice(usec uint64, dofMask byte, dof bool) []byte {
	sec := usec / 1000000
	rem := usec % 1000000
	var v uint64
	v |= (sec / 3600 % 24) << 35
	v |= (sec / 60 % 60) << 29
	v |= (sec % 60) << 23
	v |= (rem / 1000) << 13
	v |= (rem % 1000) * 8
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	if dof {
		out[7] |= dofMask
	} else {
		out[7] &^= dofMask
	}
	return out
}

// DMTSyncSlice returns a copy of the DMT sync slice.
func DMTSyncSlice() []byte {
	return append([]byte(nil), dmtSync...)
}

// CompressDMT run-length encodes uncompressed DMT bytes. Runs of two or more
// 0x00 or 0xFF bytes become fill codes; everything else is copied raw.
func CompressDMT(raw []byte) []byte {
	var out, lit []byte
	flush := func() {
		for len(lit) > 0 {
			n := min(len(lit), dmtMaxRun)
			out = append(out, byte(n-1))
			out = append(out, lit[:n]...)
			lit = lit[n:]
		}
	}
	for i := 0; i < len(raw); {
		b := raw[i]
		run := 1
		for i+run < len(raw) && raw[i+run] == b && run < dmtMaxRun {
			run++
		}
		if (b == 0x00 || b == 0xFF) && run >= 2 {
			flush()
			code := dmtOnesFill
			if b == 0x00 {
				code = dmtZeroFill
			}
			out = append(out, code|byte(run-1))
			i += run
			continue
		}
		lit = append(lit, b)
		i++
	}
	flush()
	return out
}

func allBytes(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}
