package codec

import "github.com/airborne-oap/oap/getbytes"

// HVPS word fields.
const (
	HVPSHousekeeping uint16 = 0xcaaa // first word of a housekeeping record
	hvpsTimingFlag   uint16 = 0x8000
	hvpsSliceStart   uint16 = 0x4000
	hvpsLowerHalf    uint16 = 0x4000 // literal word: slice starts in the lower half of the array
	hvpsTopBits      uint16 = 0xc000
	hvpsHalfArray           = 128
)

// HVPSDecoder decodes HVPS image words. A pair of words with bit 15 set is a
// timing word; other words describe slices as unshaded/shaded run counts.
// A timing word left alone at the end of a record is carried to the next one.
type HVPSDecoder struct {
	p            Params
	state        *State
	words        []uint16
	pos          int
	housekeeping bool
}

// NewHVPSDecoder returns a decoder over one HVPS record payload.
func NewHVPSDecoder(p Params, st *State, payload []byte) *HVPSDecoder {
	d := &HVPSDecoder{p: p, state: st}
	words := bytesToWords(payload, p.order())
	if len(words) > 0 && words[0] == HVPSHousekeeping {
		d.housekeeping = true
		return d
	}
	if len(st.Residual) >= 2 {
		words = append(bytesToWords(st.Residual[:2], p.order()), words...)
	}
	st.Residual = nil
	d.words = words
	return d
}

// Housekeeping reports whether the record was an HVPS housekeeping record.
// Such records carry no image data and leave the carry untouched.
func (d *HVPSDecoder) Housekeeping() bool {
	return d.housekeeping
}

// Next returns the next timing or slice row.
func (d *HVPSDecoder) Next() (Row, Status) {
	for d.pos < len(d.words) {
		w := d.words[d.pos]
		if w&hvpsTimingFlag != 0 {
			if d.pos+1 >= len(d.words) {
				d.state.Residual = getbytes.FromUint16(d.p.order(), w)
				d.pos++
				return Row{}, StatusNeedMore
			}
			w1 := d.words[d.pos+1]
			if w1&hvpsTimingFlag == 0 {
				// A lone timing word cannot be decoded; skip it.
				d.pos++
				continue
			}
			d.pos += 2
			t := (uint64(w)<<14)&0x0fffc000 | uint64(w1&0x3fff)
			if d.p.TimingMask != 0 {
				t &= d.p.TimingMask
			}
			return Row{Kind: RowTiming, Value: t}, StatusOK
		}
		if w == 0 {
			d.pos++
			continue
		}
		return d.slice(), StatusOK
	}
	return Row{}, StatusNeedMore
}

func (d *HVPSDecoder) slice() Row {
	bits := NewBitmap(d.p.NDiodes)
	w := d.words[d.pos]
	d.pos++
	cursor := 0
	if w == hvpsLowerHalf {
		cursor = hvpsHalfArray
		if d.pos < len(d.words) && d.words[d.pos]&hvpsTimingFlag == 0 {
			w = d.words[d.pos]
			d.pos++
		} else {
			w = 0
		}
	}
	cursor = d.run(bits, cursor, w)
	for d.pos < len(d.words) && d.words[d.pos]&hvpsTopBits == 0 {
		cursor = d.run(bits, cursor, d.words[d.pos])
		d.pos++
	}
	return Row{Kind: RowImage, Bits: bits}
}

// run applies one word's unshaded gap then shaded run at cursor.
func (d *HVPSDecoder) run(bits Bitmap, cursor int, w uint16) int {
	unshaded := int(w & 0x7f)
	shaded := int((w & 0x3f80) >> 7)
	cursor += unshaded
	if bits.SetRun(cursor, shaded) < shaded {
		d.state.Overflows++
		d.p.warnf("HVPS word 0x%04x overflows the %d-diode slice at diode %d", w, d.p.NDiodes, cursor)
	}
	return cursor + shaded
}

// HVPSParticle is one timing word and the slices that follow it.
type HVPSParticle struct {
	Timing uint32
	Slices []Bitmap
}

// EncodeHVPS encodes particles as HVPS words: a timing pair, then each slice.
func EncodeHVPS(parts []HVPSParticle) []uint16 {
	var out []uint16
	for _, p := range parts {
		out = append(out, hvpsTimingFlag|uint16(p.Timing>>14)&0x3fff, hvpsTimingFlag|uint16(p.Timing)&0x3fff)
		for _, s := range p.Slices {
			out = append(out, encodeHVPSSlice(s)...)
		}
	}
	return out
}

func encodeHVPSSlice(s Bitmap) []uint16 {
	n := s.Len()
	var words []uint16
	i := 0
	for i < n {
		clear := 0
		for i < n && !s.Shadowed(i) {
			clear++
			i++
		}
		shaded := 0
		for i < n && s.Shadowed(i) {
			shaded++
			i++
		}
		if shaded == 0 {
			break
		}
		if len(words) == 0 && clear >= hvpsHalfArray {
			words = append(words, hvpsLowerHalf)
			clear -= hvpsHalfArray
		}
		for clear > maxRunCount {
			words = appendHVPSWord(words, maxRunCount, 0)
			clear -= maxRunCount
		}
		for shaded > maxRunCount {
			words = appendHVPSWord(words, clear, maxRunCount)
			clear = 0
			shaded -= maxRunCount
		}
		words = appendHVPSWord(words, clear, shaded)
	}
	if len(words) == 0 {
		return []uint16{hvpsSliceStart | 1}
	}
	return words
}

// appendHVPSWord appends a run word. The first word of a slice, or the word
// after the lower-half marker, carries the slice-start bit.
func appendHVPSWord(words []uint16, unshaded, shaded int) []uint16 {
	w := uint16(shaded)<<7 | uint16(unshaded)
	if len(words) == 0 || (len(words) == 1 && words[0] == hvpsLowerHalf) {
		w |= hvpsSliceStart
	}
	return append(words, w)
}
