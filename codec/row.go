package codec

import "fmt"

// RowKind tags a decoded slice row as image data or a control marker.
type RowKind int

// Row kinds
const (
	RowImage         RowKind = iota // ordinary shadow bitmap
	RowBlank                        // no diode shadowed, between particles
	RowFullyShadowed                // every diode shadowed
	RowUncompressed                 // literal bitmap copied from the stream
	RowSync                         // particle boundary marker
	RowOverload                     // probe overload marker
	RowTiming                       // timing word; Value holds the ticks
)

var rowKindNames = [...]string{"Image", "Blank", "FullyShadowed", "Uncompressed", "Sync", "Overload", "Timing"}

func (k RowKind) String() string {
	if k >= 0 && int(k) < len(rowKindNames) {
		return rowKindNames[k]
	}
	return fmt.Sprintf("RowKind(%d)", int(k))
}

// Row is one decoded slice or control marker.
type Row struct {
	Kind  RowKind
	Bits  Bitmap // shadow bitmap for image rows
	Value uint64 // timing ticks for RowTiming rows
	DOF   bool   // depth-of-field flag carried by a timing row
}

// IsImage reports whether the row carries particle image data.
func (r Row) IsImage() bool {
	return r.Kind == RowImage || r.Kind == RowFullyShadowed || r.Kind == RowUncompressed
}

// Status is returned by decoders alongside each row.
type Status int

// Decoder statuses
const (
	StatusOK       Status = iota // a row was returned
	StatusNeedMore               // input exhausted; supply the next record
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNeedMore:
		return "NeedMore"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Decoder yields the rows of one record's payload.
type Decoder interface {
	Next() (Row, Status)
}

// Rows drains a decoder into a slice.
func Rows(d Decoder) []Row {
	var out []Row
	for {
		r, st := d.Next()
		if st != StatusOK {
			return out
		}
		out = append(out, r)
	}
}
