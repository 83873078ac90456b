package codec

import "github.com/airborne-oap/oap/getbytes"

// Sentinel run words.
const (
	WordFullyShadowed uint16 = 0x4000 // whole slice shadowed
	WordUncompressed  uint16 = 0x7FFF // next NDiodes/16 words are a literal inverted slice
	runFirstWord      uint16 = 0x4000
	runCountMask      uint16 = 0x7f
	runShadowedShift         = 7
	maxRunCount              = 127
)

// RunWordDecoder decodes run-length words. Each word carries a clear count in
// bits 0-6 and a shadowed count in bits 7-13; bit 14 starts a new slice. Bit 15
// is not used by the decoder. Slices do not span records.
type RunWordDecoder struct {
	words  []uint16
	pos    int
	n      int
	open   Bitmap
	cursor int
	queue  []Row
	state  *State
	p      Params
}

// NewRunWordDecoder returns a decoder over words for a p.NDiodes array.
func NewRunWordDecoder(p Params, st *State, words []uint16) *RunWordDecoder {
	return &RunWordDecoder{words: words, n: p.NDiodes, state: st, p: p}
}

func (d *RunWordDecoder) closeSlice() {
	if d.open == nil {
		return
	}
	d.queue = append(d.queue, Row{Kind: RowImage, Bits: d.open})
	d.state.Cursor = d.cursor
	d.open = nil
	d.cursor = 0
}

func (d *RunWordDecoder) openSlice() {
	d.open = NewBitmap(d.n)
	d.cursor = 0
}

// Next returns the next slice. The slice still open when the words run out is
// returned before StatusNeedMore.
func (d *RunWordDecoder) Next() (Row, Status) {
	for len(d.queue) == 0 {
		if d.pos >= len(d.words) {
			d.closeSlice()
			if len(d.queue) == 0 {
				return Row{}, StatusNeedMore
			}
			break
		}
		d.step()
	}
	r := d.queue[0]
	d.queue = d.queue[1:]
	return r, StatusOK
}

func (d *RunWordDecoder) step() {
	w := d.words[d.pos]
	d.pos++
	switch w {
	case WordFullyShadowed:
		d.closeSlice()
		d.queue = append(d.queue, Row{Kind: RowFullyShadowed, Bits: FullBitmap(d.n)})
		d.state.Cursor = d.n
		return
	case WordUncompressed:
		d.closeSlice()
		nw := d.n / 16
		bits := NewBitmap(d.n)
		for j := 0; j < nw; j++ {
			if d.pos >= len(d.words) {
				d.state.Overflows++
				d.p.warnf("Uncompressed slice cut short after %d of %d words", j, nw)
				break
			}
			lit := ^d.words[d.pos]
			d.pos++
			bits[2*j] = byte(lit >> 8)
			bits[2*j+1] = byte(lit)
		}
		d.queue = append(d.queue, Row{Kind: RowUncompressed, Bits: bits})
		d.state.Cursor = d.n
		return
	}

	if w&runFirstWord != 0 {
		d.closeSlice()
		d.openSlice()
	} else if d.open == nil {
		d.openSlice()
	}
	clear := int(w & runCountMask)
	shadowed := int((w >> runShadowedShift) & runCountMask)
	if d.cursor+clear+shadowed > d.n {
		d.open.SetRun(d.cursor+clear, shadowed)
		d.p.warnf("Run word 0x%04x at word %d overflows the %d-diode slice at diode %d", w, d.pos-1, d.n, d.cursor)
		d.cursor = d.n
		d.state.Overflows++
		d.closeSlice()
		return
	}
	d.cursor += clear
	d.open.SetRun(d.cursor, shadowed)
	d.cursor += shadowed
	if d.cursor == d.n {
		d.closeSlice()
	}
}

// EncodeRunWords encodes slices as run-length words. Each bitmap must have a
// length that is a multiple of 16 diodes. The literal form is used whenever it
// is shorter than the run form.
func EncodeRunWords(slices []Bitmap) []uint16 {
	var out []uint16
	for _, s := range slices {
		out = append(out, encodeRunSlice(s)...)
	}
	return out
}

func encodeRunSlice(s Bitmap) []uint16 {
	n := s.Len()
	if s.IsFull() {
		return []uint16{WordFullyShadowed}
	}
	var words []uint16
	emit := func(clear, shadowed int) {
		w := uint16(shadowed)<<runShadowedShift | uint16(clear)
		if len(words) == 0 {
			w |= runFirstWord
			if w == WordUncompressed || w == WordFullyShadowed {
				// Split so the first word cannot collide with a sentinel.
				words = append(words, runFirstWord|uint16(clear))
				words = append(words, uint16(shadowed)<<runShadowedShift)
				return
			}
		}
		words = append(words, w)
	}

	i := 0
	for i < n {
		clear := 0
		for i < n && !s.Shadowed(i) {
			clear++
			i++
		}
		shadowed := 0
		for i < n && s.Shadowed(i) {
			shadowed++
			i++
		}
		if shadowed == 0 {
			break // trailing clear diodes are implicit
		}
		for clear > maxRunCount {
			emit(maxRunCount, 0)
			clear -= maxRunCount
		}
		for shadowed > maxRunCount {
			emit(clear, maxRunCount)
			clear = 0
			shadowed -= maxRunCount
		}
		emit(clear, shadowed)
	}
	if len(words) == 0 {
		words = append(words, runFirstWord|1)
	}

	if n%16 == 0 && len(words) > 1+n/16 {
		lit := make([]uint16, 0, 1+n/16)
		lit = append(lit, WordUncompressed)
		inv := s.Inverted(false)
		for j := 0; j+1 < len(inv); j += 2 {
			lit = append(lit, uint16(inv[j])<<8|uint16(inv[j+1]))
		}
		return lit
	}
	return words
}

// RunWordBytes encodes slices as run-length words serialized in p's word order.
func RunWordBytes(p Params, slices []Bitmap) []byte {
	return getbytes.FromSliceUint16(p.order(), EncodeRunWords(slices))
}
