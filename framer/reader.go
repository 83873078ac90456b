// Package framer reads fixed-size physical records from probe data files and
// validates their checksums. It knows nothing of particles or image encodings.
package framer

import (
	"errors"
	"fmt"
	"io"
	"log"
)

// ErrTruncatedRecord is returned when the stream ends part way through a record.
// It wraps io.ErrUnexpectedEOF and, like io.EOF, ends a read loop.
var ErrTruncatedRecord = fmt.Errorf("truncated record: %w", io.ErrUnexpectedEOF)

// ErrChecksumMismatch marks a record whose payload does not sum to its checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Reader returns sequential physical records from an io.Reader.
type Reader struct {
	Logger *log.Logger // receives checksum warnings when non-nil

	r              io.Reader
	layout         Layout
	offset         int64
	recordsRead    int
	checksumErrors int
}

// NewReader returns a Reader of records in the given layout.
func NewReader(r io.Reader, layout Layout) *Reader {
	return &Reader{r: r, layout: layout}
}

// Layout returns the record layout the Reader expects.
func (rd *Reader) Layout() Layout {
	return rd.layout
}

// RecordsRead returns how many complete records Next has returned.
func (rd *Reader) RecordsRead() int {
	return rd.recordsRead
}

// ChecksumErrors returns how many records failed checksum verification.
func (rd *Reader) ChecksumErrors() int {
	return rd.checksumErrors
}

// Offset returns the stream offset of the next record.
func (rd *Reader) Offset() int64 {
	return rd.offset
}

// readFull reads exactly len(buf) bytes. A clean end before any byte is io.EOF
// only when atStart is set; every other short read is ErrTruncatedRecord.
func (rd *Reader) readFull(buf []byte, atStart bool) error {
	n, err := io.ReadFull(rd.r, buf)
	rd.offset += int64(n)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && n == 0 && atStart {
		return io.EOF
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncatedRecord
	}
	return err
}

// Next reads one record. It returns io.EOF at a clean end of stream and
// ErrTruncatedRecord when the stream ends inside a record. A checksum mismatch
// is not an error: the record comes back with Valid false.
func (rd *Reader) Next() (*Record, error) {
	l := rd.layout
	rec := &Record{Offset: rd.offset, order: l.order()}

	hdr := make([]byte, l.HeaderSize())
	if err := rd.readFull(hdr, true); err != nil {
		return nil, err
	}
	if err := l.decodeHeader(hdr, rec); err != nil {
		return nil, err
	}

	var tag [2]byte
	if err := rd.readFull(tag[:], false); err != nil {
		return nil, err
	}
	rec.Tag = l.order().Uint16(tag[:])
	size := l.PayloadSize
	if l.Kind == LayoutSPEC {
		size = l.payloadSizeFor(rec.Tag)
	}
	if size < 2 {
		return nil, fmt.Errorf("layout payload size %d is too small", size)
	}
	rec.Payload = make([]byte, size)
	copy(rec.Payload, tag[:])
	if err := rd.readFull(rec.Payload[2:], false); err != nil {
		return nil, err
	}

	rec.Valid = true
	if l.TrailerSize() > 0 {
		trailer := make([]byte, l.TrailerSize())
		if err := rd.readFull(trailer, false); err != nil {
			return nil, err
		}
		rec.Checksum = l.order().Uint16(trailer)
		if !VerifyChecksum(rec.Payload, l.order(), rec.Checksum) {
			rec.Valid = false
			rd.checksumErrors++
			if rd.Logger != nil {
				rd.Logger.Printf("Checksum mismatch in record at offset %d (%v): sum 0x%04x, recorded 0x%04x",
					rec.Offset, rec.Timestamp, Checksum(rec.Payload, l.order()), rec.Checksum)
			}
		}
	}
	rd.recordsRead++
	return rec, nil
}
