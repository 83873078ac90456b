package main

import (
	"bytes"
	"encoding/binary"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
	"github.com/airborne-oap/oap/getbytes"
	"github.com/airborne-oap/oap/internal/oapdb"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var recordTime = framer.Timestamp{Year: 2019, Month: 7, Day: 4, Hour: 18, Minute: 30, Second: 1}

func slice(start, n int) codec.Bitmap {
	b := codec.NewBitmap(128)
	b.SetRun(start, n)
	return b
}

// writeSPEC writes nh H particles and a V particle after every other H
// particle as a big-endian SPEC raw file, and returns its name.
func writeSPEC(t *testing.T, nh int) string {
	t.Helper()
	var words []uint16
	var vid uint16
	for i := 0; i < nh; i++ {
		s := []codec.Bitmap{slice(20+i%50, 4+i%9), slice(21+i%50, 6)}
		words = append(words, oap.EncodeParticlePacket(oap.Horizontal, uint16(i+1), s, uint64(500*(i+1)), true)...)
		if i%2 == 0 {
			vid++
			words = append(words, oap.EncodeParticlePacket(oap.Vertical, vid, s[1:], uint64(500*(i+1)+3), true)...)
		}
	}
	layout := framer.SPECLayout(binary.BigEndian)
	per := framer.ImagePayloadSize / 2
	var raw []byte
	for i := 0; i*per < len(words); i++ {
		chunk := make([]uint16, per)
		copy(chunk, words[i*per:])
		ts := recordTime
		ts.Second += i
		b, err := layout.Marshal(&framer.Record{Timestamp: ts, Payload: getbytes.FromSliceUint16(binary.BigEndian, chunk)})
		require.NoError(t, err)
		raw = append(raw, b...)
	}
	name := filepath.Join(t.TempDir(), "base190704_183001.2DS")
	require.NoError(t, os.WriteFile(name, raw, 0644))
	return name
}

func testConfig(t *testing.T) *decodeConfig {
	return &decodeConfig{
		Probe:     "SH",
		Order:     binary.BigEndian,
		Options:   oap.Options{Policy: oap.PolicyBasic},
		Probes:    oap.StandardProbes,
		OutputDir: t.TempDir(),
		Project:   "TESTPROJ",
		DB:        oapdb.DummyDBConnection(),
	}
}

func npyRows(t *testing.T, name string) int {
	t.Helper()
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	var m mat.Dense
	require.NoError(t, npyio.Read(f, &m))
	r, _ := m.Dims()
	return r
}

func TestDecodeSPEC(t *testing.T) {
	const nh = 300
	nv := (nh + 1) / 2
	cfg := testConfig(t)
	run, err := decodeFile(cfg, writeSPEC(t, nh))
	require.NoError(t, err)
	assert.Equal(t, nh+nv, run.Diagnostics.Particles)
	assert.Equal(t, 0, run.Diagnostics.MalformedHeaders)
	assert.DirExists(t, run.Directory)

	outs := run.outputs()
	require.Len(t, outs, 5, "canonical file plus a particle table and histogram per channel")
	assert.Equal(t, nh, npyRows(t, outs[1].name))
	assert.Equal(t, nv, npyRows(t, outs[2].name))
	assert.Equal(t, run.Diagnostics.Records, npyRows(t, outs[3].name))
	assert.FileExists(t, outs[4].name)
	assert.FileExists(t, run.ws.StateFilename)

	rd, err := canon.OpenReader(outs[0].name)
	require.NoError(t, err)
	assert.Equal(t, "TESTPROJ", rd.Project)
	assert.Equal(t, run.RunID, rd.RunID)
	require.Len(t, rd.Probes, 2)
	assert.Equal(t, "SH", rd.Probes[0].ID)
	assert.Equal(t, "SV", rd.Probes[1].ID)
	assert.Equal(t, canon.EncodingBitmap, rd.Probes[0].Encoding)
	rd.Close()

	// The canonical output decodes to the same particles.
	cfg.Probe = ""
	again, err := decodeFile(cfg, outs[0].name)
	require.NoError(t, err)
	assert.NotEqual(t, run.Directory, again.Directory)
	assert.Equal(t, nh+nv, again.Diagnostics.Particles)
	assert.Equal(t, run.Diagnostics.Accepted, again.Diagnostics.Accepted)
	assert.Equal(t, 0, again.Diagnostics.SkippedRecords)
	assert.Equal(t, nh, npyRows(t, again.outputs()[1].name))
}

func TestDecodeErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Probe = ""
	_, err := decodeFile(cfg, writeSPEC(t, 3))
	assert.Error(t, err, "raw input without a probe")

	cfg.Probe = "XX"
	_, err = decodeFile(cfg, writeSPEC(t, 3))
	assert.Error(t, err, "unknown probe")

	cfg.Probe = "SH"
	_, err = decodeFile(cfg, filepath.Join(t.TempDir(), "missing.2DS"))
	assert.Error(t, err)

	notCanonical := filepath.Join(t.TempDir(), "junk.2d")
	require.NoError(t, os.WriteFile(notCanonical, []byte("not a header\n"), 0644))
	run, err := decodeFile(cfg, notCanonical)
	require.Error(t, err)
	_, err = os.Stat(run.writer.FileName())
	assert.True(t, os.IsNotExist(err), "no canonical file is left without a header")
}

func TestDecodeWarnsOnChecksumMismatch(t *testing.T) {
	name := writeSPEC(t, 20)
	raw, err := os.ReadFile(name)
	require.NoError(t, err)
	// Corrupt the zero padding at the end of the last payload.
	raw[len(raw)-framer.SPECTrailerSize-1] ^= 0x01
	require.NoError(t, os.WriteFile(name, raw, 0644))

	var logbuf bytes.Buffer
	saved := oap.ProblemLogger
	oap.ProblemLogger = log.New(&logbuf, "", 0)
	defer func() { oap.ProblemLogger = saved }()

	run, err := decodeFile(testConfig(t), name)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Diagnostics.ChecksumErrors)
	assert.Contains(t, logbuf.String(), "Checksum mismatch")
}

func TestDBStatsMessage(t *testing.T) {
	pr := oap.NewProcessor(oap.Options{})
	s, err := pr.AddProbe(oap.StandardProbes["SH"])
	require.NoError(t, err)
	sink := &dbStats{runID: "01RUN", probe: oap.StandardProbes["SH"].ForChannel(oap.Vertical)}
	sink.attach(pr)
	assert.Same(t, s, sink.stream)

	rs := &oap.RecordStats{Probe: "SV", Time: recordTime, Particles: 9, Accepted: 4, TotalArea: 70, MeanBar: 0.5}
	msg := sink.message(rs)
	assert.Equal(t, "01RUN", msg.RunID)
	assert.Equal(t, "SV", msg.ProbeID)
	assert.Equal(t, "V", msg.Channel)
	assert.Equal(t, recordTime.Time(), msg.RecordTime)
	assert.Equal(t, 9, msg.Particles)
	assert.Equal(t, 70, msg.TotalArea)
	assert.True(t, msg.ChecksumOK)

	bad := &framer.Record{Timestamp: recordTime, Payload: make([]byte, framer.ImagePayloadSize)}
	require.NoError(t, pr.ProcessRecord(s, bad))
	assert.False(t, sink.message(rs).ChecksumOK, "record after a checksum failure")
	assert.True(t, sink.message(rs).ChecksumOK)
}
