package codec

import (
	"bytes"
	"encoding/binary"
)

// Sync and marker constants for uncompressed slice families.
const (
	PMS2DSync       uint32 = 0x55000000
	pms2dTimingBits byte   = 0x55
	pms2dTimingMask uint32 = 0x00ffffff
)

var (
	fast2DSync     = []byte{0xAA, 0xAA}
	fast2DOverload = []byte{0x55, 0x55, 0xAA}
	twoDSSync      = []byte{0xAA, 0xAA, 0xAA}
)

// BitmapDecoder splits an uncompressed payload into slices of p.NDiodes bits,
// stored inverted (a clear bit is a shadowed diode), and recognizes the sync,
// timing and overload slices of p.Family.
type BitmapDecoder struct {
	p     Params
	state *State
	buf   []byte
	pos   int
}

// NewBitmapDecoder returns a decoder over one uncompressed payload.
func NewBitmapDecoder(p Params, st *State, payload []byte) *BitmapDecoder {
	buf := payload
	if len(st.Residual) > 0 {
		buf = append(append([]byte(nil), st.Residual...), payload...)
		st.Residual = nil
	}
	return &BitmapDecoder{p: p, state: st, buf: buf}
}

// Next returns the next row.
func (d *BitmapDecoder) Next() (Row, Status) {
	width := d.p.BytesPerSlice()
	if d.pos+width > len(d.buf) {
		if d.pos < len(d.buf) {
			// A slice cut by the end of the record is finished by the next.
			d.state.Residual = append([]byte(nil), d.buf[d.pos:]...)
			d.pos = len(d.buf)
		}
		return Row{}, StatusNeedMore
	}
	raw := d.buf[d.pos : d.pos+width]
	var next []byte
	if d.pos+2*width <= len(d.buf) {
		next = d.buf[d.pos+width : d.pos+2*width]
	}

	switch d.p.Family {
	case FamilyPMS2D:
		prevBlank := d.state.PrevBlank
		if prevBlank && raw[0]&pms2dTimingBits == pms2dTimingBits && !isPMS2DSync(raw) {
			if next == nil {
				// Cannot tell yet whether a sync follows.
				d.state.Residual = append([]byte(nil), raw...)
				d.pos += width
				return Row{}, StatusNeedMore
			}
			if isPMS2DSync(next) {
				d.pos += width
				d.state.PrevBlank = false
				t := binary.BigEndian.Uint32(raw) & pms2dTimingMask
				if t == pms2dTimingMask {
					t = 0
				}
				return Row{Kind: RowTiming, Value: uint64(t)}, StatusOK
			}
		}
		d.pos += width
		d.state.PrevBlank = allBytes(raw, 0xFF)
		switch {
		case isPMS2DSync(raw):
			return Row{Kind: RowSync, Bits: FromInverted(raw, false)}, StatusOK
		case d.state.PrevBlank:
			return Row{Kind: RowBlank, Bits: NewBitmap(d.p.NDiodes)}, StatusOK
		}
		return Row{Kind: RowImage, Bits: FromInverted(raw, false)}, StatusOK

	case FamilyFast2D:
		d.pos += width
		switch {
		case bytes.HasPrefix(raw, fast2DOverload):
			return Row{Kind: RowOverload}, StatusOK
		case bytes.HasPrefix(raw, fast2DSync):
			return Row{
				Kind:  RowTiming,
				Value: d.mask(binary.BigEndian.Uint64(raw)),
				DOF:   raw[2]&d.p.DofMask != 0,
			}, StatusOK
		}

	case FamilyTwoDS:
		d.pos += width
		if bytes.HasSuffix(raw, twoDSSync) {
			return Row{Kind: RowTiming, Value: d.mask(binary.LittleEndian.Uint64(raw))}, StatusOK
		}
		if allBytes(raw, 0xFF) {
			return Row{Kind: RowBlank, Bits: NewBitmap(d.p.NDiodes)}, StatusOK
		}
		return Row{Kind: RowImage, Bits: FromInverted(raw, true)}, StatusOK

	case FamilyCIP:
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

	default:
		d.pos += width
	}

	if allBytes(raw, 0xFF) {
		return Row{Kind: RowBlank, Bits: NewBitmap(d.p.NDiodes)}, StatusOK
	}
	return Row{Kind: RowImage, Bits: FromInverted(raw, false)}, StatusOK
}

func (d *BitmapDecoder) mask(v uint64) uint64 {
	if d.p.TimingMask == 0 {
		return v
	}
	return v & d.p.TimingMask
}

func isPMS2DSync(raw []byte) bool {
	return len(raw) == 4 && binary.BigEndian.Uint32(raw) == PMS2DSync
}

// TwoDSTimingSlice builds the 16-byte sync/timing slice written after each
// particle in canonical 2DS records.
func TwoDSTimingSlice(ticks uint64) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out, ticks&0x0000ffffffffffff)
	copy(out[13:], twoDSSync)
	return out
}

// Fast2DTimingSlice builds a Fast2D sync/timing slice for a tick count masked
// to timingMask: 40 bits, or 42 bits for the v2 electronics.
func Fast2DTimingSlice(ticks, timingMask uint64, dofMask byte, dof bool) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, ticks&timingMask)
	copy(out, fast2DSync)
	if dof {
		out[2] |= dofMask
	}
	return out
}

// PMS2DTimingSlice builds the slice pair that opens a PMS2D particle: a timing
// slice carrying the 24-bit elapsed count, then the sync slice.
func PMS2DTimingSlice(ticks uint32) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out, 0xff000000|ticks&pms2dTimingMask)
	binary.BigEndian.PutUint32(out[4:], PMS2DSync)
	return out
}
