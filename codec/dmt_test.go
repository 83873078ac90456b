package codec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cipParams = Params{NDiodes: 64, Family: FamilyCIP, DofMask: 0x01}

func cipImage(runs ...int) Bitmap {
	b := NewBitmap(64)
	for i := 0; i+1 < len(runs); i += 2 {
		b.SetRun(runs[i], runs[i+1])
	}
	return b
}

// cipStream returns uncompressed DMT bytes with some leading skew and the rows
// they should decode to.
func cipStream() ([]byte, []Row) {
	var raw []byte
	var rows []Row
	raw = append(raw, 0x01, 0x02, 0x03, 0x04, 0x05)
	times := []uint64{(12*3600+34*60+56)*1000000 + 789123, (12*3600+34*60+56)*1000000 + 790001}
	images := [][]Bitmap{
		{cipImage(20, 10), cipImage(18, 14), cipImage(0, 64), cipImage(22, 6, 40, 3)},
		{cipImage(63, 1)},
	}
	for i, t := range times {
		raw = append(raw, DMTSyncSlice()...)
		rows = append(rows, Row{Kind: RowSync})
		raw = append(raw, CIPTimeSlice(t, 0x01, i == 1)...)
		rows = append(rows, Row{Kind: RowTiming, Value: t, DOF: i == 1})
		for _, img := range images[i] {
			raw = append(raw, img.Inverted(true)...)
			rows = append(rows, Row{Kind: RowImage, Bits: img})
		}
		raw = append(raw, bytes.Repeat([]byte{0xFF}, 8)...)
		rows = append(rows, Row{Kind: RowBlank, Bits: NewBitmap(64)})
	}
	raw = append(raw, 0xFF, 0x00, 0x37)
	return raw, rows
}

func TestCIPTimeWord(t *testing.T) {
	us := uint64((23*3600+59*60+59)*1000000 + 999999)
	slice := CIPTimeSlice(us, 0x01, true)
	assert.Equal(t, byte(0x01), slice[7]&0x01)
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(slice[i])
	}
	assert.Equal(t, us, CIPTimeWord(v))
}

func TestDMTUncompress(t *testing.T) {
	var st State
	// raw copy of 3, zero fill of 2, dummy, ones fill of 4
	got := uncompressDMT(nil, []byte{0x02, 0x11, 0x22, 0x33, 0x81, 0x20, 0x43}, &st)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}, got)
	assert.Equal(t, 0, st.Literal)

	// A raw copy split across chunks.
	got = uncompressDMT(nil, []byte{0x03, 0xA1}, &st)
	assert.Equal(t, 3, st.Literal)
	got = uncompressDMT(got, []byte{0xA2, 0xA3, 0xA4, 0x40}, &st)
	assert.Equal(t, []byte{0xA1, 0xA2, 0xA3, 0xA4, 0xFF}, got)
}

func TestDMTDecode(t *testing.T) {
	raw, want := cipStream()
	comp := CompressDMT(raw)
	require.Less(t, len(comp), len(raw))

	var st State
	got := Rows(NewDMTDecoder(cipParams, &st, comp))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DMT rows mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, st.Aligned)
	assert.Equal(t, 5, st.Discarded)
	assert.Equal(t, []byte{0xFF, 0x00, 0x37}, st.Residual)
}

func TestDMTResidualCarry(t *testing.T) {
	raw, _ := cipStream()
	comp := CompressDMT(raw)
	var whole State
	want := Rows(NewDMTDecoder(cipParams, &whole, comp))

	for k := 0; k <= len(comp); k++ {
		var st State
		got := Rows(NewDMTDecoder(cipParams, &st, comp[:k]))
		if len(st.Residual) > 7 && st.Aligned {
			t.Errorf("split %d: %d residual bytes after alignment, want at most 7", k, len(st.Residual))
		}
		got = append(got, Rows(NewDMTDecoder(cipParams, &st, comp[k:]))...)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("split at %d of %d differs (-one chunk +two chunks):\n%s", k, len(comp), diff)
		}
		if !bytes.Equal(st.Residual, whole.Residual) {
			t.Errorf("split %d: residual %x, want %x", k, st.Residual, whole.Residual)
		}
	}
}

func TestDMTKeepsWholeSlicesBeforeSync(t *testing.T) {
	raw, want := cipStream()
	lead := cipImage(10, 4)
	skewed := append([]byte{0x01, 0x02, 0x03}, lead.Inverted(true)...)
	skewed = append(skewed, raw[5:]...)

	var st State
	got := Rows(NewDMTDecoder(cipParams, &st, CompressDMT(skewed)))
	want = append([]Row{{Kind: RowImage, Bits: lead}}, want...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DMT rows mismatch (-want +got):\n%s", diff)
	}
	if st.Discarded != 3 {
		t.Errorf("Discarded = %d, want 3", st.Discarded)
	}
}

func TestDMTNoSync(t *testing.T) {
	var st State
	rows := Rows(NewDMTDecoder(cipParams, &st, CompressDMT(bytes.Repeat([]byte{0x12, 0xAA}, 40))))
	assert.Empty(t, rows)
	assert.False(t, st.Aligned)
	assert.Len(t, st.Residual, 7)
	assert.Equal(t, 73, st.Discarded)
}

func TestCompressDMT(t *testing.T) {
	raw := append(bytes.Repeat([]byte{0}, 40), 0x12, 0xFF, 0x34)
	raw = append(raw, bytes.Repeat([]byte{0xFF}, 5)...)
	comp := CompressDMT(raw)
	assert.Equal(t, []byte{0x9F, 0x87, 0x02, 0x12, 0xFF, 0x34, 0x44}, comp)
	var st State
	assert.Equal(t, raw, uncompressDMT(nil, comp, &st))
}
