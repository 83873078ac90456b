// Package codec decodes the image encodings of optical-array probes into
// shadow-bitmap slices and control markers.
package codec

import (
	"encoding/binary"
	"fmt"
	"log"
	"strings"
)

// Variant selects an image encoding.
type Variant int

// Image encodings
const (
	VariantBitmap  Variant = iota // uncompressed inverted slices (PMS2D, Fast2D, canonical 2DS)
	VariantRunWord                // 16-bit run-length words (SPEC 2DS/3V-CPI raw)
	VariantDMT                    // DMT byte run-length (CIP/PIP)
	VariantHVPS                   // HVPS shaded/unshaded words with timing pairs
)

var variantNames = [...]string{"bitmap", "runword", "dmt", "hvps"}

func (v Variant) String() string {
	if v >= 0 && int(v) < len(variantNames) {
		return variantNames[v]
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant converts a variant name to a Variant.
func ParseVariant(s string) (Variant, error) {
	for i, name := range variantNames {
		if strings.EqualFold(s, name) {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("unknown codec variant %q", s)
}

// SyncFamily selects how sync and timing slices are recognized in bitmap data.
type SyncFamily int

// Sync families
const (
	FamilyNone   SyncFamily = iota
	FamilyPMS2D                // 32 diodes; timing slice then 0x55000000 sync slice
	FamilyFast2D               // 64 diodes; sync bytes aa aa lead a combined sync/timing slice
	FamilyTwoDS                // 128 diodes; aa aa aa at the far end of a 16-byte sync/timing slice
	FamilyCIP                  // 64 diodes; 8x0xAA sync slice then a time-of-day slice
	FamilyHVPS                 // 256 diodes; timing word pairs
)

var familyNames = [...]string{"none", "pms2d", "fast2d", "2ds", "cip", "hvps"}

func (f SyncFamily) String() string {
	if f >= 0 && int(f) < len(familyNames) {
		return familyNames[f]
	}
	return fmt.Sprintf("SyncFamily(%d)", int(f))
}

// Params are the per-probe constants a decoder needs.
type Params struct {
	NDiodes    int
	Family     SyncFamily
	Order      binary.ByteOrder // word order for word-based encodings; nil means big-endian
	TimingMask uint64
	DofMask    byte
	// Active diode window. Diodes outside it are physically masked; both zero
	// means the whole array.
	ActiveFirst int
	ActiveLast  int
	Logger      *log.Logger // receives overflow warnings when non-nil
}

// BytesPerSlice returns the width of one slice on the wire.
func (p Params) BytesPerSlice() int {
	return p.NDiodes / 8
}

// Active returns the active diode window, defaulting to the whole array.
func (p Params) Active() (first, last int) {
	if p.ActiveFirst == 0 && p.ActiveLast == 0 {
		return 0, p.NDiodes - 1
	}
	return p.ActiveFirst, p.ActiveLast
}

func (p Params) warnf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

func (p Params) order() binary.ByteOrder {
	if p.Order == nil {
		return binary.BigEndian
	}
	return p.Order
}

// State is the decoder state that must survive from one record to the next on
// a single probe channel. The zero value is ready to use.
type State struct {
	Residual     []byte // undecoded tail bytes carried to the next record
	Aligned      bool   // DMT output is on 8-byte slice boundaries
	Literal      int    // DMT raw-copy bytes still owed by the previous record
	ExpectTiming bool   // CIP: the next slice is a time slice
	PrevBlank    bool   // PMS2D: the last slice of the previous record was blank
	Cursor       int    // bit position where the last run-word slice ended
	Overflows    int    // slices cut short because runs exceeded the diode count
	Discarded    int    // bytes dropped while looking for the first DMT sync
}

// Reset returns the state to its zero value.
func (s *State) Reset() {
	*s = State{}
}

// NewDecoder returns the decoder for variant v over one record's payload.
// Carry-over between records goes through st, which must belong to a single
// probe channel.
func NewDecoder(v Variant, p Params, st *State, payload []byte) (Decoder, error) {
	if p.NDiodes <= 0 || p.NDiodes%8 != 0 {
		return nil, fmt.Errorf("diode count %d is not a positive multiple of 8", p.NDiodes)
	}
	if st == nil {
		return nil, fmt.Errorf("nil decoder state")
	}
	switch v {
	case VariantBitmap:
		return NewBitmapDecoder(p, st, payload), nil
	case VariantRunWord:
		return NewRunWordDecoder(p, st, bytesToWords(payload, p.order())), nil
	case VariantDMT:
		return NewDMTDecoder(p, st, payload), nil
	case VariantHVPS:
		return NewHVPSDecoder(p, st, payload), nil
	}
	return nil, fmt.Errorf("unknown codec variant %v", v)
}

func bytesToWords(b []byte, order binary.ByteOrder) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = order.Uint16(b[2*i:])
	}
	return out
}
