package main

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/framer"
	"github.com/airborne-oap/oap/internal/oapdb"
	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"
)

// decodeConfig holds the settings shared by every input file.
type decodeConfig struct {
	Probe       string           // probe name of SPEC raw input
	Order       binary.ByteOrder // byte order of SPEC raw input
	Options     oap.Options
	Probes      map[string]oap.ProbeDescriptor
	OutputDir   string
	Project     string
	Publish     bool
	PublishPort int
	Images      bool
	Verbose     bool
	DB          *oapdb.Connection
}

// decodeRun is one input file decoded into one new output directory.
type decodeRun struct {
	RunID       string
	Input       string
	Directory   string
	Diagnostics oap.Diagnostics

	cfg       *decodeConfig
	ws        oap.WritingState
	processor *oap.Processor
	writer    *canon.Writer
	tables    []*oap.ParticleTable
	hists     []*oap.HistogramSink
	dbsinks   []*dbStats
	publisher *oap.Publisher
}

func isCanonical(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".2d")
}

// decodeFile decodes input, a canonical file or SPEC raw data of cfg.Probe,
// into a new run directory under cfg.OutputDir.
func decodeFile(cfg *decodeConfig, input string) (*decodeRun, error) {
	canonical := isCanonical(input)
	var d oap.ProbeDescriptor
	if !canonical {
		if cfg.Probe == "" {
			return nil, fmt.Errorf("%s is not a canonical .2d file and no probe was named", input)
		}
		var ok bool
		if d, ok = cfg.Probes[cfg.Probe]; !ok {
			return nil, fmt.Errorf("unknown probe %q", cfg.Probe)
		}
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	run := &decodeRun{RunID: ulid.Make().String(), Input: input, cfg: cfg}
	if err := run.start(); err != nil {
		return nil, err
	}
	msg := &oapdb.RunMessage{
		ID:        run.RunID,
		InputFile: input,
		Directory: run.Directory,
		Policy:    cfg.Options.Policy.String(),
		Start:     time.Now(),
	}

	readErr := run.read(f, canonical, d)
	finishErr := run.processor.Finish()
	closeErr := run.close()
	run.Diagnostics = run.processor.Diagnostics()

	ids := make([]string, len(run.writer.Probes))
	for i, p := range run.writer.Probes {
		ids[i] = p.ID
	}
	msg.Probes = strings.Join(ids, ",")
	msg.Records = run.Diagnostics.Records
	msg.Particles = run.Diagnostics.Particles
	cfg.DB.RecordRun(msg)
	run.recordFiles(msg.Start)
	cfg.DB.FinishRun(msg)

	oap.UpdateLogger.Printf("%s run %s in %s: %v", input, run.RunID, run.Directory, run.Diagnostics)
	if cfg.Verbose {
		for _, s := range run.processor.Streams() {
			fmt.Printf("probe %s\n%s", s.Probe.ID, spew.Sdump(s.Diagnostics()))
		}
	}
	if err := errors.Join(readErr, finishErr, closeErr); err != nil {
		return run, err
	}
	return run, nil
}

// start opens the run directory and the outputs that do not depend on the probes.
func (run *decodeRun) start() error {
	if err := run.ws.Start(run.cfg.OutputDir); err != nil {
		return err
	}
	run.Directory = run.ws.ComputeState().Directory
	run.writer = canon.NewWriter(run.ws.Filename("canonical", "2d"), canon.Header{
		Source:  "oapdecode " + oap.Build.Version,
		Project: run.cfg.Project,
		RunID:   run.RunID,
	})
	if err := run.writer.CreateFile(); err != nil {
		run.ws.Stop()
		return err
	}
	if run.cfg.Publish {
		pub, err := oap.NewPublisher(run.cfg.PublishPort, run.RunID)
		if err != nil {
			run.writer.Close()
			run.ws.Stop()
			return fmt.Errorf("publisher: %w", err)
		}
		pub.Images = run.cfg.Images
		run.publisher = pub
	}
	run.processor = oap.NewProcessor(run.cfg.Options)
	run.processor.Setup = run.setup
	return nil
}

// setup attaches the output sinks of one probe channel.
func (run *decodeRun) setup(out *oap.ChannelOutput) error {
	id := out.Probe.ID
	run.writer.Probes = append(run.writer.Probes, out.Probe.Entry("_"+id))
	ce := oap.NewCanonicalEmitter(out.Probe, run.writer)
	ce.SetTAS(run.cfg.Options.TAS)
	table, err := oap.NewParticleTable(run.ws.Filename("particles_"+id, "npy"))
	if err != nil {
		return err
	}
	run.tables = append(run.tables, table)
	hist := oap.NewHistogramSink(id, run.ws.Filename("histograms_"+id, "npy"), out.Classifier.NBins())
	run.hists = append(run.hists, hist)

	emitters := oap.MultiEmitter{ce, table}
	out.Stats = []oap.StatsSink{hist}
	if run.publisher != nil {
		emitters = append(emitters, run.publisher)
		out.Stats = append(out.Stats, run.publisher)
	}
	if run.cfg.DB.IsConnected() {
		s := &dbStats{db: run.cfg.DB, runID: run.RunID, probe: out.Probe}
		run.dbsinks = append(run.dbsinks, s)
		out.Stats = append(out.Stats, s)
	}
	out.Emitter = emitters
	return nil
}

// read adds the probes of the input, writes the output header and decodes
// every record.
func (run *decodeRun) read(r io.Reader, canonical bool, d oap.ProbeDescriptor) error {
	pr := run.processor
	if canonical {
		rd, err := canon.NewReader(r)
		if err != nil {
			return err
		}
		if run.writer.Project == "" {
			run.writer.Project = rd.Header.Project
		}
		run.writer.Platform = rd.Header.Platform
		run.writer.FlightNumber = rd.Header.FlightNumber
		run.writer.FlightDate = rd.Header.FlightDate
		if err := pr.AddCanonicalProbes(&rd.Header, run.cfg.Probes); err != nil {
			return err
		}
		if err := run.begin(); err != nil {
			return err
		}
		return pr.ReadCanonical(rd)
	}

	s, err := pr.AddProbe(d)
	if err != nil {
		return err
	}
	if err := run.begin(); err != nil {
		return err
	}
	rd := framer.NewReader(r, framer.SPECLayout(run.cfg.Order))
	rd.Logger = oap.ProblemLogger
	return pr.ReadSPEC(rd, s)
}

// begin writes the canonical header once every probe is known.
func (run *decodeRun) begin() error {
	for _, sink := range run.dbsinks {
		sink.attach(run.processor)
	}
	if err := run.writer.WriteHeader(); err != nil {
		return err
	}
	return run.ws.SetStateLabel(time.Now(), "DECODE")
}

// close finishes every output file and the run directory.
func (run *decodeRun) close() error {
	var errs []error
	if run.writer.HeaderWritten() {
		errs = append(errs, run.writer.Close())
	} else {
		// Nothing was decoded; leave no headerless file behind.
		run.writer.Close()
		os.Remove(run.writer.FileName())
	}
	for _, t := range run.tables {
		errs = append(errs, t.Close())
	}
	for _, h := range run.hists {
		errs = append(errs, h.Close())
	}
	if run.publisher != nil {
		errs = append(errs, run.publisher.Close())
		if n := run.publisher.Dropped(); n > 0 {
			oap.ProblemLogger.Printf("run %s: %d published messages dropped", run.RunID, n)
		}
	}
	errs = append(errs, run.ws.Stop())
	return errors.Join(errs...)
}

// outputFile describes one file written by a run.
type outputFile struct {
	name, kind string
	records    int
}

func (run *decodeRun) outputs() []outputFile {
	out := []outputFile{{run.writer.FileName(), "canonical", run.writer.RecordsWritten()}}
	for _, t := range run.tables {
		out = append(out, outputFile{t.Filename(), "particles", t.Rows()})
	}
	for _, h := range run.hists {
		out = append(out, outputFile{h.Filename(), "histograms", h.Rows()})
	}
	return out
}

// recordFiles sends an entry for each output file that exists to the database.
func (run *decodeRun) recordFiles(start time.Time) {
	if !run.cfg.DB.IsConnected() {
		return
	}
	for _, o := range run.outputs() {
		size, sum, err := fileDigest(o.name)
		if err != nil {
			if !os.IsNotExist(err) {
				oap.ProblemLogger.Printf("run %s: %v", run.RunID, err)
			}
			continue
		}
		run.cfg.DB.RecordFile(&oapdb.FileMessage{
			RunID:    run.RunID,
			Filename: o.name,
			Filetype: o.kind,
			Start:    start,
			End:      time.Now(),
			Records:  o.records,
			Size:     size,
			SHA256:   sum,
		})
	}
}

func fileDigest(name string) (int64, string, error) {
	f, err := os.Open(name)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
