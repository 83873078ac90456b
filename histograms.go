package oap

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// StatsSink receives the statistics of each physical record.
type StatsSink interface {
	WriteStats(rs *RecordStats) error
}

// Leading columns of each histogram matrix row; the size bins follow.
var HistogramColumns = [...]string{"time", "particles", "accepted", "tbar", "livetime"}

// HistogramSink keeps the size histogram of every record of one probe and
// writes them as one matrix, a row per record, to a .npy file on Close.
type HistogramSink struct {
	Probe string

	filename string
	nBins    int
	data     []float64
	rows     int
}

// NewHistogramSink returns a sink for nBins-bin histograms written to filename.
func NewHistogramSink(probe, filename string, nBins int) *HistogramSink {
	return &HistogramSink{Probe: probe, filename: filename, nBins: nBins}
}

// WriteStats appends the histogram of one record.
func (h *HistogramSink) WriteStats(rs *RecordStats) error {
	if rs.Probe != h.Probe {
		return fmt.Errorf("histogram sink for %s given stats of %s", h.Probe, rs.Probe)
	}
	if len(rs.Histogram) != h.nBins {
		return fmt.Errorf("probe %s histogram has %d bins, want %d", rs.Probe, len(rs.Histogram), h.nBins)
	}
	h.data = append(h.data, rs.Time.SecondsOfDay(), float64(rs.Particles), float64(rs.Accepted),
		rs.TBarElapsed, rs.LiveTime)
	for _, n := range rs.Histogram {
		h.data = append(h.data, float64(n))
	}
	h.rows++
	return nil
}

// Rows returns the number of records kept.
func (h *HistogramSink) Rows() int {
	return h.rows
}

// Filename returns the path the matrix is written to.
func (h *HistogramSink) Filename() string {
	return h.filename
}

// Matrix returns the records as a matrix, or nil when there are none.
func (h *HistogramSink) Matrix() *mat.Dense {
	if h.rows == 0 {
		return nil
	}
	return mat.NewDense(h.rows, len(HistogramColumns)+h.nBins, h.data)
}

// Totals returns the histogram summed over all records.
func (h *HistogramSink) Totals() []float64 {
	out := make([]float64, h.nBins)
	m := h.Matrix()
	if m == nil {
		return out
	}
	for i := range out {
		out[i] = mat.Sum(m.ColView(len(HistogramColumns) + i))
	}
	return out
}

// Close writes the matrix to the sink's file. Nothing is written when no
// record was kept.
func (h *HistogramSink) Close() error {
	m := h.Matrix()
	if m == nil {
		return nil
	}
	f, err := os.Create(h.filename)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", h.filename, err)
	}
	return f.Close()
}
