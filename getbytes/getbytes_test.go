package getbytes

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
)

func TestFromGetBytes(t *testing.T) {
	encodedStr := hex.EncodeToString(FromSliceUint16(binary.LittleEndian, []uint16{0xABCD, 0xEF01, 0x2345, 0x6789}))
	if expectStr := "cdab01ef45238967"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceUint16(binary.BigEndian, []uint16{0xABCD, 0xEF01}))
	if expectStr := "abcdef01"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceUint32(binary.LittleEndian, []uint32{0xABCDEF01, 0x23456789}))
	if expectStr := "01efcdab89674523"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceUint64(binary.LittleEndian, []uint64{0xABCDEF0123456789}))
	if expectStr := "8967452301efcdab"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceUint64(binary.BigEndian, []uint64{0xABCDEF0123456789}))
	if expectStr := "abcdef0123456789"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceFloat32([]float32{1, 2}))
	if expectStr := "0000803f00000040"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	encodedStr = hex.EncodeToString(FromSliceFloat64([]float64{2}))
	if expectStr := "0000000000000040"; encodedStr != expectStr {
		t.Errorf("want %v, have %v", expectStr, encodedStr)
	}
	if len(FromUint16(binary.BigEndian, 1)) != 2 {
		t.Error("wrong length")
	}
	if len(FromUint64(binary.BigEndian, 1)) != 8 {
		t.Error("wrong length")
	}
	if len(FromFloat32(1)) != 4 {
		t.Error("wrong length")
	}
	if len(FromFloat64(1)) != 8 {
		t.Error("wrong length")
	}
	if len(FromSliceUint16(binary.BigEndian, nil)) != 0 {
		t.Error("empty slice should give empty bytes")
	}
}

func TestToSlices(t *testing.T) {
	words := []uint16{0x3253, 0x0007, 0x0000, 0xffff}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		back, err := ToSliceUint16(order, FromSliceUint16(order, words))
		if err != nil {
			t.Fatalf("ToSliceUint16(%v) error: %v", order, err)
		}
		for i := range words {
			if back[i] != words[i] {
				t.Errorf("ToSliceUint16(%v)[%d] = 0x%x, want 0x%x", order, i, back[i], words[i])
			}
		}
	}
	if _, err := ToSliceUint16(binary.BigEndian, []byte{1, 2, 3}); err == nil {
		t.Error("ToSliceUint16 on odd length should error")
	}
	u64, err := ToSliceUint64(binary.LittleEndian, FromSliceUint64(binary.LittleEndian, []uint64{0xAAAAAA0000001234}))
	if err != nil || u64[0] != 0xAAAAAA0000001234 {
		t.Errorf("ToSliceUint64 = %x, %v, want aaaaaa0000001234, nil", u64, err)
	}
	if _, err := ToSliceUint64(binary.LittleEndian, make([]byte, 12)); err == nil {
		t.Error("ToSliceUint64 on length 12 should error")
	}
}
