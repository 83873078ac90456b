package oap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
)

// Options configure a Processor.
type Options struct {
	Policy           Policy
	AreaRatioReject  float64
	StuckBitDiodes   int     // 0 means DefaultStuckBitDiodes
	DropBadChecksums bool    // skip records whose checksum fails rather than decode them
	MinPackets       int     // SPEC raw: skip records with fewer particle packets than this; 0 keeps all
	TAS              float64 // m/s, for records that do not carry their own
}

// ChannelOutput holds the classifier and sinks of one probe channel.
type ChannelOutput struct {
	Probe      ProbeDescriptor
	Classifier *Classifier
	Emitter    Emitter
	Stats      []StatsSink
}

// ProbeStream decodes the records of one probe.
type ProbeStream struct {
	Probe     ProbeDescriptor
	Assembler *Assembler
	Channels  [2]*ChannelOutput // nil for a channel the probe lacks

	diag Diagnostics
}

// Diagnostics returns the counts of the stream.
func (s *ProbeStream) Diagnostics() Diagnostics {
	d := s.Assembler.Diagnostics()
	d.Add(s.diag)
	return d
}

// Processor runs records through the assembler, classifier and sinks of each
// probe. Records are handled one at a time, in the order read.
type Processor struct {
	Options
	// Setup, when set, is called once for each new probe channel to attach
	// its emitter and statistics sinks.
	Setup func(out *ChannelOutput) error

	streams map[string]*ProbeStream
	diag    Diagnostics
}

// NewProcessor returns a Processor with options opts.
func NewProcessor(opts Options) *Processor {
	return &Processor{Options: opts, streams: make(map[string]*ProbeStream)}
}

// AddProbe registers probe d under its record id and returns its stream.
func (pr *Processor) AddProbe(d ProbeDescriptor) (*ProbeStream, error) {
	if _, ok := pr.streams[d.ID]; ok {
		return nil, fmt.Errorf("probe %s added twice", d.ID)
	}
	a, err := NewAssembler(d)
	if err != nil {
		return nil, err
	}
	a.SetTAS(pr.TAS)
	s := &ProbeStream{Probe: d, Assembler: a}
	channels := []Channel{d.Channel}
	if d.Variant == codec.VariantRunWord {
		channels = []Channel{Horizontal, Vertical}
	}
	for _, ch := range channels {
		cd := d.ForChannel(ch)
		c := NewClassifier(cd, pr.Policy)
		c.AreaRatioReject = pr.AreaRatioReject
		if pr.StuckBitDiodes > 0 {
			c.StuckBitDiodes = pr.StuckBitDiodes
		}
		out := &ChannelOutput{Probe: cd, Classifier: c}
		if pr.Setup != nil {
			if err := pr.Setup(out); err != nil {
				return nil, err
			}
		}
		s.Channels[ch] = out
	}
	pr.streams[d.ID] = s
	return s, nil
}

// Stream returns the stream of probe id.
func (pr *Processor) Stream(id string) (*ProbeStream, bool) {
	s, ok := pr.streams[id]
	return s, ok
}

// Streams returns every stream, sorted by probe id.
func (pr *Processor) Streams() []*ProbeStream {
	out := make([]*ProbeStream, 0, len(pr.streams))
	for _, s := range pr.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Probe.ID < out[j].Probe.ID })
	return out
}

// Diagnostics returns the counts summed over every stream.
func (pr *Processor) Diagnostics() Diagnostics {
	d := pr.diag
	for _, s := range pr.streams {
		d.Add(s.Diagnostics())
	}
	return d
}

// CountPackets returns the number of SPEC particle packet sync words at word
// boundaries of payload.
func CountPackets(payload []byte, order binary.ByteOrder) int {
	n := 0
	for _, w := range framer.NewCursor(payload, order).Words() {
		if w == SyncWord {
			n++
		}
	}
	return n
}

// ProcessRecord decodes one record of stream s and passes its particles and
// record statistics to the channel sinks.
func (pr *Processor) ProcessRecord(s *ProbeStream, rec *framer.Record) error {
	if !rec.Valid {
		s.diag.ChecksumErrors++
		if pr.DropBadChecksums {
			s.diag.SkippedRecords++
			s.Assembler.Resync()
			return nil
		}
	}
	if pr.MinPackets > 0 && s.Probe.Variant == codec.VariantRunWord &&
		CountPackets(rec.Payload, rec.Order()) < pr.MinPackets {
		s.diag.SkippedRecords++
		s.Assembler.Resync()
		return nil
	}

	particles, err := s.Assembler.Feed(rec)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range particles {
		out := s.Channels[p.Channel]
		if out == nil {
			continue
		}
		out.Classifier.Classify(p)
		if !p.Reject {
			s.diag.Accepted++
		}
		if out.Emitter != nil {
			if err := out.Emitter.Emit(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	stuck := s.stuckBit()
	if stuck {
		s.diag.StuckBitRecords++
	}
	for _, out := range s.Channels {
		if out == nil || out.Classifier.rec.particles == 0 {
			continue
		}
		rs := out.Classifier.EndRecord(rec.Timestamp)
		rs.StuckBit = stuck
		for _, sink := range out.Stats {
			if err := sink.WriteStats(&rs); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// stuckBit reports whether the record just classified, taken over every
// channel, has fewer than two particles or too few distinct shadowed diodes.
func (s *ProbeStream) stuckBit() bool {
	particles, diodes, minDiodes := 0, 0, 0
	var seen codec.Bitmap
	first, last := 0, 0
	for _, out := range s.Channels {
		if out == nil {
			continue
		}
		c := out.Classifier
		particles += c.rec.particles
		minDiodes = c.StuckBitDiodes
		if seen == nil {
			seen = c.rec.seen.Clone()
			first, last = c.first, c.last
			continue
		}
		for i := range seen {
			if i < len(c.rec.seen) {
				seen[i] |= c.rec.seen[i]
			}
		}
	}
	if seen != nil {
		diodes = seen.CountRange(first, last)
	}
	return particles < 2 || diodes < minDiodes
}

// RecordReader is a source of records, such as a framer.Reader or canon.Reader.
type RecordReader interface {
	Next() (*framer.Record, error)
}

// next reads a record, folding a truncated final record into io.EOF.
func (pr *Processor) next(rd RecordReader) (*framer.Record, error) {
	rec, err := rd.Next()
	if errors.Is(err, framer.ErrTruncatedRecord) {
		ProblemLogger.Printf("%v; ending input", err)
		return nil, io.EOF
	}
	return rec, err
}

// ReadSPEC decodes every record from rd as data of the single stream s.
func (pr *Processor) ReadSPEC(rd RecordReader, s *ProbeStream) error {
	for {
		rec, err := pr.next(rd)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := pr.ProcessRecord(s, rec); err != nil {
			return err
		}
	}
}

// AddCanonicalProbes adds a stream for each probe in the header of a
// canonical file whose id is in probes, using the header's encoding.
func (pr *Processor) AddCanonicalProbes(hdr *canon.Header, probes map[string]ProbeDescriptor) error {
	for _, entry := range hdr.Probes {
		d, ok := probes[entry.ID]
		if !ok {
			ProblemLogger.Printf("probe %s (%s) in header is not known; its records will be skipped", entry.ID, entry.Type)
			continue
		}
		d, err := d.WithEncoding(entry.Encoding)
		if err != nil {
			return err
		}
		if _, err := pr.AddProbe(d); err != nil {
			return err
		}
	}
	return nil
}

// ReadCanonical decodes every record from rd, routing each to the stream of
// its probe id. Records of unknown probes are counted as skipped.
func (pr *Processor) ReadCanonical(rd RecordReader) error {
	for {
		rec, err := pr.next(rd)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s, ok := pr.streams[rec.ProbeName()]
		if !ok {
			pr.diag.SkippedRecords++
			continue
		}
		if err := pr.ProcessRecord(s, rec); err != nil {
			return err
		}
	}
}

// Finish ends every stream, discarding particles still being assembled, and
// flushes each channel's emitter. Discarded particles are logged and counted,
// not returned as errors.
func (pr *Processor) Finish() error {
	var errs []error
	for _, s := range pr.Streams() {
		if err := s.Assembler.Finish(); err != nil {
			if !errors.Is(err, ErrIncompleteParticle) {
				errs = append(errs, err)
			}
			ProblemLogger.Print(err)
		}
		for _, out := range s.Channels {
			if out == nil || out.Emitter == nil {
				continue
			}
			if _, err := out.Emitter.FlushRecord(); err != nil {
				errs = append(errs, err)
			}
		}
		UpdateLogger.Printf("probe %s: %v", s.Probe.ID, s.Diagnostics())
	}
	return errors.Join(errs...)
}
