package framer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read would run past the end of a Cursor's buffer.
var ErrShortBuffer = errors.New("read past end of buffer")

// Cursor reads fixed-width fields from a byte slice by explicit offset and byte
// order. Every read is bounds-checked; a failed read leaves the offset unchanged.
type Cursor struct {
	buf   []byte
	off   int
	order binary.ByteOrder
}

// NewCursor returns a Cursor positioned at the start of buf. A nil order
// means big-endian.
func NewCursor(buf []byte, order binary.ByteOrder) *Cursor {
	if order == nil {
		order = binary.BigEndian
	}
	return &Cursor{buf: buf, order: order}
}

// Offset returns the current read position in bytes.
func (c *Cursor) Offset() int {
	return c.off
}

// Len returns the total buffer length in bytes.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Seek moves the read position to an absolute byte offset.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("seek to %d in buffer of %d bytes: %w", off, len(c.buf), ErrShortBuffer)
	}
	c.off = off
	return nil
}

// Skip advances the read position by n bytes.
func (c *Cursor) Skip(n int) error {
	return c.Seek(c.off + n)
}

func (c *Cursor) need(n int) error {
	if n < 0 || c.off+n > len(c.buf) {
		return fmt.Errorf("need %d bytes at offset %d, have %d: %w", n, c.off, c.Remaining(), ErrShortBuffer)
	}
	return nil
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// Uint16 reads a 16-bit word in the cursor's byte order.
func (c *Cursor) Uint16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := c.order.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

// Int16 reads a signed 16-bit word in the cursor's byte order.
func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

// Uint32 reads a 32-bit word in the cursor's byte order.
func (c *Cursor) Uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := c.order.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

// Uint64 reads a 64-bit word in the cursor's byte order.
func (c *Cursor) Uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := c.order.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// Bytes returns the next n bytes. The result is a copy.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[c.off:c.off+n])
	c.off += n
	return out, nil
}

// Uint16At reads the 16-bit word at an absolute byte offset without moving the cursor.
func (c *Cursor) Uint16At(off int) (uint16, error) {
	if off < 0 || off+2 > len(c.buf) {
		return 0, fmt.Errorf("word at offset %d in buffer of %d bytes: %w", off, len(c.buf), ErrShortBuffer)
	}
	return c.order.Uint16(c.buf[off:]), nil
}

// Words reads all remaining whole 16-bit words. A trailing odd byte is left unread.
func (c *Cursor) Words() []uint16 {
	n := c.Remaining() / 2
	out := make([]uint16, n)
	for i := range out {
		out[i] = c.order.Uint16(c.buf[c.off:])
		c.off += 2
	}
	return out
}
