package canon

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airborne-oap/oap/framer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{
		Project:      "SOCRATES",
		Platform:     "N677F",
		FlightNumber: "rf01",
		FlightDate:   "01/15/2018",
		Probes: []ProbeEntry{
			{ID: "SH", Type: "2DS", Resolution: 10, NDiodes: 128, ClockFreq: 20, Suffix: "_2H", Encoding: EncodingBitmap},
			{ID: "H1", Type: "HVPS", Resolution: 150, NDiodes: 256, Suffix: "_HVPS", Encoding: EncodingHVPS},
		},
	}
}

func TestNewRecord(t *testing.T) {
	ts := framer.Timestamp{Year: 2018, Month: 1, Day: 15, Hour: 23, Minute: 1, Second: 2, Millisecond: 500}
	rec := NewRecord("SH", ts, 141.6, BlankByte)
	if rec.ProbeName() != "SH" {
		t.Errorf("ProbeName() = %q, want SH", rec.ProbeName())
	}
	if rec.TAS != 142 {
		t.Errorf("TAS = %d, want 142", rec.TAS)
	}
	if len(rec.Payload) != framer.ImagePayloadSize {
		t.Errorf("len(Payload) = %d, want %d", len(rec.Payload), framer.ImagePayloadSize)
	}
	for i, b := range rec.Payload {
		if b != BlankByte {
			t.Fatalf("Payload[%d] = 0x%x, want 0x%x", i, b, BlankByte)
		}
	}
	b, err := Marshal(rec)
	require.NoError(t, err)
	assert.Len(t, b, framer.CanonicalHeaderSize+framer.ImagePayloadSize)
	assert.Equal(t, []byte("SH"), b[:2])

	rec.Payload = rec.Payload[:100]
	_, err = Marshal(rec)
	assert.Error(t, err)
}

func TestHeaderText(t *testing.T) {
	h := testHeader()
	h.Version = 1
	h.Project = "A&B"
	s, err := h.HeaderText()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	assert.Equal(t, `<OAP version="1">`, lines[1])
	assert.Equal(t, " <Project>A&amp;B</Project>", lines[3])
	assert.Contains(t, s, `<probe id="SH" type="2DS" resolution="10" nDiodes="128" clockFreq="20" suffix="_2H" encoding="bitmap">`)
	assert.NotContains(t, s, "serialnumber")
	assert.Equal(t, "</OAP>", lines[len(lines)-1])
}

func TestWriteRead(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "test.2d")
	w := NewWriter(fileName, testHeader())
	if w.RunID == "" {
		t.Errorf("NewWriter left RunID empty")
	}
	if err := w.WriteHeader(); err == nil {
		t.Errorf("WriteHeader() before CreateFile succeeded, want error")
	}
	require.NoError(t, w.CreateFile())
	if err := w.WriteRecord(NewRecord("SH", framer.Timestamp{}, 100, BlankByte)); err == nil {
		t.Errorf("WriteRecord() before WriteHeader succeeded, want error")
	}
	require.NoError(t, w.WriteHeader())
	if err := w.WriteHeader(); err == nil {
		t.Errorf("second WriteHeader() succeeded, want error")
	}

	ts := framer.Timestamp{Year: 2018, Month: 1, Day: 15, Hour: 23, Minute: 59, Second: 58, Millisecond: 999}
	var want []*Record
	for i := 0; i < 5; i++ {
		id := "SH"
		if i%2 == 1 {
			id = "H1"
		}
		rec := NewRecord(id, ts, 120, byte(i))
		rec.Payload[0] = 0x55
		rec.Overload = int16(i)
		want = append(want, rec)
		require.NoError(t, w.WriteRecord(rec))
	}
	if w.RecordsWritten() != 5 {
		t.Errorf("RecordsWritten() = %d, want 5", w.RecordsWritten())
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	r, err := OpenReader(fileName)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, "SOCRATES", r.Project)
	assert.Equal(t, "N677F", r.Platform)
	assert.Equal(t, "rf01", r.FlightNumber)
	assert.Equal(t, "01/15/2018", r.FlightDate)
	assert.Equal(t, w.RunID, r.RunID)
	assert.Equal(t, "airborne-oap", r.Source)
	require.Len(t, r.Probes, 2)
	h1, ok := r.Probe("H1")
	require.True(t, ok)
	assert.Equal(t, 150, h1.Resolution)
	assert.Equal(t, EncodingHVPS, h1.Encoding)
	if _, ok := r.Probe("C8"); ok {
		t.Errorf("Probe(C8) found, want missing")
	}
	text, _ := w.HeaderText()
	assert.Equal(t, int64(len(text)), r.HeaderLength)

	for i, wr := range want {
		rec, err := r.Next()
		require.NoError(t, err, "record %d", i)
		if rec.ProbeName() != wr.ProbeName() {
			t.Errorf("record %d ProbeName() = %q, want %q", i, rec.ProbeName(), wr.ProbeName())
		}
		assert.Equal(t, wr.Timestamp, rec.Timestamp)
		assert.Equal(t, wr.TAS, rec.TAS)
		assert.Equal(t, wr.Overload, rec.Overload)
		assert.True(t, bytes.Equal(wr.Payload, rec.Payload), "record %d payload differs", i)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
	assert.Equal(t, 5, r.RecordsRead())
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(strings.NewReader("not a header\n"))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = NewReader(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = NewReader(strings.NewReader("<OAP version=\"1\">\n <Project>x</Project>\n"))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = NewReader(strings.NewReader("<OAP version=\"1\">\n <probe id=\"SH\" type=\n</OAP>\n"))
	assert.Error(t, err)

	_, err = OpenReader(filepath.Join(t.TempDir(), "missing.2d"))
	assert.Error(t, err)
}

func TestReaderTruncatedRecord(t *testing.T) {
	h := testHeader()
	h.Version = 1
	text, err := h.HeaderText()
	require.NoError(t, err)
	rec, err := Marshal(NewRecord("SH", framer.Timestamp{}, 0, BlankByte))
	require.NoError(t, err)
	data := append([]byte(text), rec...)
	data = append(data, rec[:100]...)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, framer.ErrTruncatedRecord)
}
