package framer

import (
	"encoding/binary"
	"fmt"
)

// LayoutKind distinguishes the physical record formats a Reader understands.
type LayoutKind int

// Known record formats
const (
	LayoutSPEC      LayoutKind = iota // SPEC raw: 8 int16 time words, payload, uint16 checksum
	LayoutCanonical                   // NCAR .2d P2d record: 2-byte id, 9 int16 fields, 4096 data bytes
)

// Record-type tags found in the first payload word of SPEC records.
const (
	TagHousekeeping uint16 = 0x484b // "HK"
	TagMask         uint16 = 0x4d4b // "MK"
)

// Sizes of the fixed parts of each record layout, in bytes.
const (
	SPECHeaderSize      = 16
	SPECTrailerSize     = 2
	CanonicalHeaderSize = 20
	ImagePayloadSize    = 4096

	HousekeepingPayloadSize = 164
	MaskPayloadSize         = 54
)

// Layout describes the shape of one physical record.
type Layout struct {
	Kind        LayoutKind
	Order       binary.ByteOrder
	PayloadSize int            // default payload size
	TagSizes    map[uint16]int // payload size by leading payload tag
}

// SPECLayout returns the layout of SPEC raw image files: every record holds
// a 4096-byte payload, whatever its first word.
func SPECLayout(order binary.ByteOrder) Layout {
	if order == nil {
		order = binary.BigEndian
	}
	return Layout{
		Kind:        LayoutSPEC,
		Order:       order,
		PayloadSize: ImagePayloadSize,
	}
}

// SPECHousekeepingLayout returns the layout of SPEC housekeeping files, whose
// housekeeping (HK) and mask (MK) records are sized by their leading tag.
func SPECHousekeepingLayout(order binary.ByteOrder) Layout {
	l := SPECLayout(order)
	l.TagSizes = map[uint16]int{
		TagHousekeeping: HousekeepingPayloadSize,
		TagMask:         MaskPayloadSize,
	}
	return l
}

// CanonicalLayout returns the layout of the canonical .2d record.
func CanonicalLayout() Layout {
	return Layout{
		Kind:        LayoutCanonical,
		Order:       binary.BigEndian,
		PayloadSize: ImagePayloadSize,
	}
}

// HeaderSize is the number of bytes before the payload.
func (l Layout) HeaderSize() int {
	if l.Kind == LayoutCanonical {
		return CanonicalHeaderSize
	}
	return SPECHeaderSize
}

// TrailerSize is the number of bytes after the payload.
func (l Layout) TrailerSize() int {
	if l.Kind == LayoutCanonical {
		return 0
	}
	return SPECTrailerSize
}

// payloadSizeFor returns the payload size implied by a record's leading tag.
func (l Layout) payloadSizeFor(tag uint16) int {
	if n, ok := l.TagSizes[tag]; ok {
		return n
	}
	return l.PayloadSize
}

func (l Layout) order() binary.ByteOrder {
	if l.Order == nil {
		return binary.BigEndian
	}
	return l.Order
}

// decodeHeader fills the header fields of rec from hdr.
func (l Layout) decodeHeader(hdr []byte, rec *Record) error {
	c := NewCursor(hdr, l.order())
	if l.Kind == LayoutCanonical {
		id, err := c.Bytes(2)
		if err != nil {
			return err
		}
		copy(rec.ProbeID[:], id)
		var f [9]int16
		for i := range f {
			if f[i], err = c.Int16(); err != nil {
				return err
			}
		}
		rec.Hour, rec.Minute, rec.Second = int(f[0]), int(f[1]), int(f[2])
		rec.Year, rec.Month, rec.Day = int(f[3]), int(f[4]), int(f[5])
		rec.TAS = f[6]
		rec.Millisecond = int(f[7])
		rec.Overload = f[8]
		return nil
	}
	var f [8]int16
	for i := range f {
		v, err := c.Int16()
		if err != nil {
			return err
		}
		f[i] = v
	}
	rec.Year, rec.Month, rec.DayOfWeek, rec.Day = int(f[0]), int(f[1]), int(f[2]), int(f[3])
	rec.Hour, rec.Minute, rec.Second, rec.Millisecond = int(f[4]), int(f[5]), int(f[6]), int(f[7])
	return nil
}

// Marshal encodes a record in this layout. For the SPEC layout the trailing
// checksum is computed from the payload.
func (l Layout) Marshal(rec *Record) ([]byte, error) {
	order := l.order()
	if l.Kind == LayoutCanonical && len(rec.Payload) != l.PayloadSize {
		return nil, fmt.Errorf("canonical payload is %d bytes, want %d", len(rec.Payload), l.PayloadSize)
	}
	out := make([]byte, 0, l.HeaderSize()+len(rec.Payload)+l.TrailerSize())
	var word [2]byte
	put16 := func(v int) {
		order.PutUint16(word[:], uint16(int16(v)))
		out = append(out, word[:]...)
	}
	if l.Kind == LayoutCanonical {
		out = append(out, rec.ProbeID[:]...)
		for _, v := range []int{rec.Hour, rec.Minute, rec.Second, rec.Year, rec.Month, rec.Day,
			int(rec.TAS), rec.Millisecond, int(rec.Overload)} {
			put16(v)
		}
		return append(out, rec.Payload...), nil
	}
	for _, v := range []int{rec.Year, rec.Month, rec.DayOfWeek, rec.Day,
		rec.Hour, rec.Minute, rec.Second, rec.Millisecond} {
		put16(v)
	}
	out = append(out, rec.Payload...)
	put16(int(int16(Checksum(rec.Payload, order))))
	return out, nil
}
