package oap

import (
	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/npyappend"
)

// ParticleColumns names the columns of a ParticleRow.
var ParticleColumns = [...]string{
	"time", "channel", "id", "timeword", "interarrival", "w", "h", "area",
	"x1", "x2", "edge", "bin", "reason", "dof", "livetime",
}

// ParticleRow is one particle in a particle table.
type ParticleRow [len(ParticleColumns)]float64

// NewParticleRow returns the table row of p. Time is the record's seconds of day.
func NewParticleRow(p *Particle) ParticleRow {
	dof := 0.0
	if p.DOF {
		dof = 1
	}
	return ParticleRow{
		p.RecordTime.SecondsOfDay(), float64(p.Channel), float64(p.ID), float64(p.TimeWord),
		p.Interarrival, float64(p.W), float64(p.H), float64(p.Area),
		float64(p.X1), float64(p.X2), float64(p.Edge), float64(p.Bin), float64(p.Reason),
		dof, p.LiveTime,
	}
}

// ParticleTable writes one row per particle to a .npy file.
type ParticleTable struct {
	npy *npyappend.NpyAppender[ParticleRow]
}

// NewParticleTable creates the .npy file filename.
func NewParticleTable(filename string) (*ParticleTable, error) {
	npy, err := npyappend.NewNpyAppender[ParticleRow](filename)
	if err != nil {
		return nil, err
	}
	return &ParticleTable{npy: npy}, nil
}

// Emit appends p to the table.
func (t *ParticleTable) Emit(p *Particle) error {
	return t.npy.Append(NewParticleRow(p))
}

// FlushRecord rewrites the file header with the current row count.
func (t *ParticleTable) FlushRecord() (*canon.Record, error) {
	return nil, t.npy.RefreshHeader()
}

// Rows returns the number of particles written.
func (t *ParticleTable) Rows() int {
	return t.npy.Rows()
}

// Filename returns the path of the table.
func (t *ParticleTable) Filename() string {
	return t.npy.Filename()
}

// Close writes the final header and closes the file.
func (t *ParticleTable) Close() error {
	return t.npy.Close()
}
