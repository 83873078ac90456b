package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmap(t *testing.T) {
	b := NewBitmap(32)
	if b.Len() != 32 {
		t.Fatalf("NewBitmap(32).Len() = %d, want 32", b.Len())
	}
	assert.True(t, b.IsClear())
	b.Set(0)
	b.Set(31)
	b.Set(99)
	if n := b.SetRun(10, 5); n != 5 {
		t.Errorf("SetRun(10,5) = %d, want 5", n)
	}
	if n := b.SetRun(30, 5); n != 2 {
		t.Errorf("SetRun(30,5) = %d, want 2 (clipped)", n)
	}
	assert.Equal(t, 8, b.Count())
	assert.Equal(t, 5, b.LongestRun())
	assert.Equal(t, 2, b.LongestRunRange(28, 31))
	assert.Equal(t, 3, b.CountRange(0, 11))
	first, last, ok := b.Extent()
	assert.True(t, ok)
	assert.Equal(t, 0, first)
	assert.Equal(t, 31, last)
	assert.Equal(t, "*.........*****...............**", b.String())
	assert.False(t, b.IsFull())
	assert.True(t, FullBitmap(64).IsFull())
	assert.Equal(t, 64, FullBitmap(64).Count())

	_, _, ok = NewBitmap(16).Extent()
	assert.False(t, ok)

	inv := b.Inverted(false)
	assert.Equal(t, byte(0x7f), inv[0])
	assert.True(t, FromInverted(inv, false).Equal(b))
	rev := b.Inverted(true)
	assert.Equal(t, inv[0], rev[3])
	assert.True(t, FromInverted(rev, true).Equal(b))

	c := b.Clone()
	c.Set(5)
	assert.False(t, b.Shadowed(5))
	assert.False(t, b.Equal(c))
	assert.False(t, b.Equal(NewBitmap(64)))
}

func TestVariantNames(t *testing.T) {
	for _, v := range []Variant{VariantBitmap, VariantRunWord, VariantDMT, VariantHVPS} {
		got, err := ParseVariant(v.String())
		if err != nil || got != v {
			t.Errorf("ParseVariant(%q) = %v, %v, want %v", v.String(), got, err, v)
		}
	}
	if _, err := ParseVariant("fax"); err == nil {
		t.Error("ParseVariant(\"fax\") should fail")
	}
	assert.Equal(t, "Timing", RowTiming.String())
	assert.Equal(t, "RowKind(42)", RowKind(42).String())
	assert.Equal(t, "NeedMore", StatusNeedMore.String())
	assert.Equal(t, "2ds", FamilyTwoDS.String())
}

func TestNewDecoderDispatch(t *testing.T) {
	var st State
	p := Params{NDiodes: 64, Family: FamilyCIP}
	for v, want := range map[Variant]string{
		VariantBitmap:  "*codec.BitmapDecoder",
		VariantRunWord: "*codec.RunWordDecoder",
		VariantDMT:     "*codec.DMTDecoder",
		VariantHVPS:    "*codec.HVPSDecoder",
	} {
		d, err := NewDecoder(v, p, &st, nil)
		if err != nil {
			t.Errorf("NewDecoder(%v) error: %v", v, err)
			continue
		}
		assert.Equal(t, want, typeName(d))
		if _, status := d.Next(); status != StatusNeedMore {
			t.Errorf("%v decoder on empty payload returned %v, want NeedMore", v, status)
		}
	}
	if _, err := NewDecoder(Variant(9), p, &st, nil); err == nil {
		t.Error("NewDecoder with unknown variant should fail")
	}
	if _, err := NewDecoder(VariantBitmap, Params{NDiodes: 12}, &st, nil); err == nil {
		t.Error("NewDecoder with 12 diodes should fail")
	}
	if _, err := NewDecoder(VariantBitmap, p, nil, nil); err == nil {
		t.Error("NewDecoder with nil state should fail")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *BitmapDecoder:
		return "*codec.BitmapDecoder"
	case *RunWordDecoder:
		return "*codec.RunWordDecoder"
	case *DMTDecoder:
		return "*codec.DMTDecoder"
	case *HVPSDecoder:
		return "*codec.HVPSDecoder"
	}
	return "?"
}
