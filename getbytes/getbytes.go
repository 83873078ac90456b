// Package getbytes converts between word slices and byte slices. Every
// conversion copies and names its byte order; nothing aliases memory.
package getbytes

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FromSliceUint16 converts a []uint16 to []byte in the given byte order
func FromSliceUint16(order binary.ByteOrder, d []uint16) []byte {
	out := make([]byte, 2*len(d))
	for i, v := range d {
		order.PutUint16(out[2*i:], v)
	}
	return out
}

// FromSliceUint32 converts a []uint32 to []byte in the given byte order
func FromSliceUint32(order binary.ByteOrder, d []uint32) []byte {
	out := make([]byte, 4*len(d))
	for i, v := range d {
		order.PutUint32(out[4*i:], v)
	}
	return out
}

// FromSliceUint64 converts a []uint64 to []byte in the given byte order
func FromSliceUint64(order binary.ByteOrder, d []uint64) []byte {
	out := make([]byte, 8*len(d))
	for i, v := range d {
		order.PutUint64(out[8*i:], v)
	}
	return out
}

// FromSliceFloat32 converts a []float32 to little-endian []byte
func FromSliceFloat32(d []float32) []byte {
	out := make([]byte, 4*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// FromSliceFloat64 converts a []float64 to little-endian []byte
func FromSliceFloat64(d []float64) []byte {
	out := make([]byte, 8*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// FromUint16 converts a uint16 to []byte in the given byte order
func FromUint16(order binary.ByteOrder, d uint16) []byte {
	return FromSliceUint16(order, []uint16{d})
}

// FromUint32 converts a uint32 to []byte in the given byte order
func FromUint32(order binary.ByteOrder, d uint32) []byte {
	return FromSliceUint32(order, []uint32{d})
}

// FromUint64 converts a uint64 to []byte in the given byte order
func FromUint64(order binary.ByteOrder, d uint64) []byte {
	return FromSliceUint64(order, []uint64{d})
}

// FromFloat32 converts a float32 to little-endian []byte
func FromFloat32(d float32) []byte {
	return FromSliceFloat32([]float32{d})
}

// FromFloat64 converts a float64 to little-endian []byte
func FromFloat64(d float64) []byte {
	return FromSliceFloat64([]float64{d})
}

// ToSliceUint16 converts a []byte of even length to []uint16
func ToSliceUint16(order binary.ByteOrder, b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 2", len(b))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = order.Uint16(b[2*i:])
	}
	return out, nil
}

// ToSliceUint64 converts a []byte whose length is a multiple of 8 to []uint64
func ToSliceUint64(order binary.ByteOrder, b []byte) ([]uint64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 8", len(b))
	}
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = order.Uint64(b[8*i:])
	}
	return out, nil
}
