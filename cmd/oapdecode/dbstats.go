package main

import (
	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/internal/oapdb"
)

// dbStats sends the statistics of each record of one probe channel to the
// run database.
type dbStats struct {
	db    *oapdb.Connection
	runID string
	probe oap.ProbeDescriptor

	stream         *oap.ProbeStream
	checksumErrors int
}

// attach finds the stream of the probe channel, whose checksum count marks
// records that failed their checksum.
func (s *dbStats) attach(pr *oap.Processor) {
	for _, st := range pr.Streams() {
		for _, out := range st.Channels {
			if out != nil && out.Probe.ID == s.probe.ID {
				s.stream = st
			}
		}
	}
}

func (s *dbStats) message(rs *oap.RecordStats) *oapdb.RecordStatsMessage {
	ok := true
	if s.stream != nil {
		n := s.stream.Diagnostics().ChecksumErrors
		ok = n == s.checksumErrors
		s.checksumErrors = n
	}
	return &oapdb.RecordStatsMessage{
		RunID:       s.runID,
		ProbeID:     rs.Probe,
		Channel:     s.probe.Channel.String(),
		RecordTime:  rs.Time.Time(),
		Particles:   rs.Particles,
		Accepted:    rs.Accepted,
		TotalArea:   rs.TotalArea,
		TBarElapsed: rs.TBarElapsed,
		MinBar:      rs.MinBar,
		MaxBar:      rs.MaxBar,
		MeanBar:     rs.MeanBar,
		StuckBit:    rs.StuckBit,
		ChecksumOK:  ok,
	}
}

// WriteStats queues one record's statistics.
func (s *dbStats) WriteStats(rs *oap.RecordStats) error {
	s.db.RecordStats(s.message(rs))
	return nil
}
