package codec

import (
	"math/bits"
	"strings"
)

// Bitmap is the shadow state of one slice across the diode array. Diode 0 is
// the most significant bit of byte 0; a set bit means the diode was shadowed.
type Bitmap []byte

// NewBitmap returns an all-clear bitmap for nDiodes diodes.
func NewBitmap(nDiodes int) Bitmap {
	return make(Bitmap, (nDiodes+7)/8)
}

// FullBitmap returns an all-shadowed bitmap for nDiodes diodes.
func FullBitmap(nDiodes int) Bitmap {
	b := NewBitmap(nDiodes)
	b.SetRun(0, nDiodes)
	return b
}

// Len returns the number of diodes.
func (b Bitmap) Len() int {
	return 8 * len(b)
}

// Set marks diode i shadowed. Out-of-range diodes are ignored.
func (b Bitmap) Set(i int) {
	if i < 0 || i >= b.Len() {
		return
	}
	b[i>>3] |= 0x80 >> (i & 7)
}

// SetRun marks n diodes shadowed starting at diode start and returns how many
// fell inside the array.
func (b Bitmap) SetRun(start, n int) int {
	set := 0
	for i := start; i < start+n; i++ {
		if i >= 0 && i < b.Len() {
			b[i>>3] |= 0x80 >> (i & 7)
			set++
		}
	}
	return set
}

// Shadowed reports whether diode i is shadowed.
func (b Bitmap) Shadowed(i int) bool {
	if i < 0 || i >= b.Len() {
		return false
	}
	return b[i>>3]&(0x80>>(i&7)) != 0
}

// Count returns the number of shadowed diodes.
func (b Bitmap) Count() int {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n
}

// CountRange returns the number of shadowed diodes in [first, last].
func (b Bitmap) CountRange(first, last int) int {
	n := 0
	for i := first; i <= last; i++ {
		if b.Shadowed(i) {
			n++
		}
	}
	return n
}

// LongestRun returns the length of the longest contiguous shadowed run.
func (b Bitmap) LongestRun() int {
	return b.LongestRunRange(0, b.Len()-1)
}

// LongestRunRange returns the longest contiguous shadowed run within [first, last].
func (b Bitmap) LongestRunRange(first, last int) int {
	best, run := 0, 0
	for i := first; i <= last; i++ {
		if b.Shadowed(i) {
			run++
			best = max(best, run)
		} else {
			run = 0
		}
	}
	return best
}

// Extent returns the first and last shadowed diodes. ok is false for a clear slice.
func (b Bitmap) Extent() (first, last int, ok bool) {
	first, last = -1, -1
	for i := 0; i < b.Len(); i++ {
		if b.Shadowed(i) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last, first >= 0
}

// IsClear reports whether no diode is shadowed.
func (b Bitmap) IsClear() bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// IsFull reports whether every diode is shadowed.
func (b Bitmap) IsFull() bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}

// Equal reports whether two bitmaps hold the same diodes.
func (b Bitmap) Equal(o Bitmap) bool {
	if len(b) != len(o) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of b.
func (b Bitmap) Clone() Bitmap {
	return append(Bitmap(nil), b...)
}

// Inverted returns the probe's on-the-wire form: a clear bit means shadowed.
// If reverse is set the bytes are returned last-first.
func (b Bitmap) Inverted(reverse bool) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		if reverse {
			out[len(b)-1-i] = ^v
		} else {
			out[i] = ^v
		}
	}
	return out
}

// FromInverted builds a bitmap from wire bytes in which a clear bit means
// shadowed. If reverse is set the last byte holds diode 0.
func FromInverted(raw []byte, reverse bool) Bitmap {
	b := make(Bitmap, len(raw))
	for i, v := range raw {
		if reverse {
			b[len(raw)-1-i] = ^v
		} else {
			b[i] = ^v
		}
	}
	return b
}

// String draws the slice with '*' for shadowed and '.' for clear diodes.
func (b Bitmap) String() string {
	var sb strings.Builder
	sb.Grow(b.Len())
	for i := 0; i < b.Len(); i++ {
		if b.Shadowed(i) {
			sb.WriteByte('*')
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
