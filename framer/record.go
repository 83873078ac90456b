package framer

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Timestamp is the acquisition-system time stamped on a physical record.
type Timestamp struct {
	Year        int
	Month       int
	DayOfWeek   int // SPEC layout only
	Day         int
	Hour        int
	Minute      int
	Second      int
	Millisecond int
}

// Time converts the timestamp to a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.Date(ts.Year, time.Month(ts.Month), ts.Day, ts.Hour, ts.Minute, ts.Second,
		ts.Millisecond*int(time.Millisecond), time.UTC)
}

// TimestampOf returns the timestamp of t in UTC, truncated to milliseconds.
func TimestampOf(t time.Time) Timestamp {
	t = t.UTC()
	return Timestamp{
		Year:        t.Year(),
		Month:       int(t.Month()),
		DayOfWeek:   int(t.Weekday()),
		Day:         t.Day(),
		Hour:        t.Hour(),
		Minute:      t.Minute(),
		Second:      t.Second(),
		Millisecond: t.Nanosecond() / int(time.Millisecond),
	}
}

// SecondsOfDay returns the time of day in seconds, including milliseconds.
func (ts Timestamp) SecondsOfDay() float64 {
	return float64(ts.Hour*3600+ts.Minute*60+ts.Second) + float64(ts.Millisecond)/1000
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%02d.%03d", ts.Year, ts.Month, ts.Day,
		ts.Hour, ts.Minute, ts.Second, ts.Millisecond)
}

// Record is one physical record read by a Reader. Records are not modified after
// Next returns them.
type Record struct {
	Timestamp
	Tag      uint16 // first payload word, e.g. 0x484b for SPEC housekeeping
	Payload  []byte
	Checksum uint16 // recorded checksum (SPEC layout)
	Valid    bool   // checksum matched, or the layout carries none
	Offset   int64  // byte offset of the record in its stream

	// Canonical layout header fields
	ProbeID  [2]byte
	TAS      int16
	Overload int16

	order binary.ByteOrder
}

// Err returns ErrChecksumMismatch for a record whose checksum failed, else nil.
func (r *Record) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("record at offset %d: %w", r.Offset, ErrChecksumMismatch)
}

// Words returns the payload as 16-bit words in the record's byte order.
func (r *Record) Words() []uint16 {
	return NewCursor(r.Payload, r.Order()).Words()
}

// Order returns the byte order of the record's multi-byte fields.
func (r *Record) Order() binary.ByteOrder {
	if r.order == nil {
		return binary.BigEndian
	}
	return r.order
}

// ProbeName returns the two-character probe id of a canonical record.
func (r *Record) ProbeName() string {
	return string(r.ProbeID[:])
}

// Checksum is the 16-bit wraparound sum of the payload words. A trailing odd
// byte is ignored.
func Checksum(payload []byte, order binary.ByteOrder) uint16 {
	var sum uint16
	for i := 0; i+1 < len(payload); i += 2 {
		sum += order.Uint16(payload[i:])
	}
	return sum
}

// VerifyChecksum reports whether payload sums to want.
func VerifyChecksum(payload []byte, order binary.ByteOrder, want uint16) bool {
	return Checksum(payload, order) == want
}
