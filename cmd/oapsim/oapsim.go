package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
	"github.com/airborne-oap/oap/getbytes"
	"gonum.org/v1/gonum/stat/distuv"
)

// simConfig describes a synthetic SPEC raw file.
type simConfig struct {
	Probe      oap.ProbeDescriptor
	Particles  int     // H particles to generate
	Rate       float64 // mean particles per second
	MedianDiam float64 // micrometers
	Sigma      float64 // log-normal shape parameter of the diameter
	VFraction  float64 // chance that a V particle follows each H particle
	HKEvery    int     // records between housekeeping packets; 0 for none
	Seed       uint64
	Start      time.Time
	Order      binary.ByteOrder
}

// simulator builds the word stream and cuts it into records.
type simulator struct {
	cfg     simConfig
	out     io.Writer
	layout  framer.Layout
	words   []uint16
	ticks   uint64
	ids     [2]uint16
	records int
	hkDue   bool
	sizes   distuv.LogNormal
	gaps    distuv.Exponential
	uniform *rand.Rand
}

func newSimulator(cfg simConfig, out io.Writer) *simulator {
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	return &simulator{
		cfg:     cfg,
		out:     out,
		layout:  framer.SPECLayout(cfg.Order),
		sizes:   distuv.LogNormal{Mu: math.Log(cfg.MedianDiam), Sigma: cfg.Sigma, Src: src},
		gaps:    distuv.Exponential{Rate: cfg.Rate, Src: src},
		uniform: rand.New(src),
	}
}

// image draws a round particle of diameter diam micrometers centered at
// diode c. Parts outside the array are clipped.
func image(nDiodes int, res, diam float64, c int) []codec.Bitmap {
	r := max(diam/res/2, 0.5)
	n := max(1, int(math.Round(2*r)))
	slices := make([]codec.Bitmap, n)
	for i := range slices {
		y := (float64(i) + 0.5) - float64(n)/2
		half := math.Sqrt(max(r*r-y*y, 0.25))
		lo := max(0, int(math.Round(float64(c)-half)))
		hi := min(nDiodes, int(math.Round(float64(c)+half)))
		b := codec.NewBitmap(nDiodes)
		if hi > lo {
			b.SetRun(lo, hi-lo)
		} else {
			b.Set(min(max(c, 0), nDiodes-1))
		}
		slices[i] = b
	}
	return slices
}

func (s *simulator) particle(ch oap.Channel) {
	d := s.cfg.Probe
	diam := min(s.sizes.Rand(), d.Resolution*float64(d.NDiodes))
	c := s.uniform.IntN(d.NDiodes)
	s.ids[ch]++
	tw := s.ticks & d.TimingMask()
	s.words = append(s.words, oap.EncodeParticlePacket(ch, s.ids[ch], image(d.NDiodes, d.Resolution, diam, c), tw, true)...)
}

// flush writes whole records from the word stream; with final set the last
// partial record is written too, closed by a flush packet.
func (s *simulator) flush(final bool) error {
	per := framer.ImagePayloadSize / 2
	for len(s.words) >= per || (final && len(s.words) > 0) {
		chunk := make([]uint16, per)
		n := copy(chunk, s.words)
		if n < per {
			chunk[n] = oap.FlushWord
		}
		s.words = s.words[n:]
		elapsed := time.Duration(float64(s.ticks) / s.cfg.Probe.ClockHz * float64(time.Second))
		rec := &framer.Record{
			Timestamp: framer.TimestampOf(s.cfg.Start.Add(elapsed)),
			Payload:   getbytes.FromSliceUint16(s.cfg.Order, chunk),
		}
		b, err := s.layout.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := s.out.Write(b); err != nil {
			return err
		}
		s.records++
		if s.cfg.HKEvery > 0 && s.records%s.cfg.HKEvery == 0 {
			s.hkDue = true
		}
	}
	return nil
}

// simulate writes cfg.Particles H particles, with V particles mixed in, as
// SPEC raw records to out. It returns the number of records written.
func simulate(cfg simConfig, out io.Writer) (int, error) {
	if cfg.Probe.Variant != codec.VariantRunWord {
		return 0, fmt.Errorf("probe %s is not a SPEC run-length probe", cfg.Probe.ID)
	}
	if cfg.Rate <= 0 || cfg.MedianDiam <= 0 || cfg.Probe.ClockHz <= 0 {
		return 0, fmt.Errorf("rate, median diameter and clock must be positive")
	}
	s := newSimulator(cfg, out)
	for i := 0; i < cfg.Particles; i++ {
		// Housekeeping goes between packets, never inside one.
		if s.hkDue {
			s.words = append(s.words, oap.HousekeepingPacket()...)
			s.hkDue = false
		}
		s.ticks += uint64(math.Ceil(s.gaps.Rand() * cfg.Probe.ClockHz))
		s.particle(oap.Horizontal)
		if s.uniform.Float64() < cfg.VFraction {
			s.ticks++
			s.particle(oap.Vertical)
		}
		if err := s.flush(false); err != nil {
			return s.records, err
		}
	}
	err := s.flush(true)
	return s.records, err
}

func main() {
	probe := flag.String("probe", "SH", "SPEC probe to simulate")
	nparticles := flag.Int("n", 10000, "number of H particles")
	rate := flag.Float64("rate", 200, "mean particles per second")
	median := flag.Float64("median", 100, "median particle diameter (um)")
	sigma := flag.Float64("sigma", 0.6, "log-normal width of the diameter distribution")
	vfraction := flag.Float64("vfrac", 0.5, "chance of a V particle after each H particle")
	hk := flag.Int("hk", 10, "records between housekeeping packets (0 for none)")
	seed := flag.Uint64("seed", 0, "random seed (0 for the time)")
	littleEndian := flag.Bool("le", false, "write little-endian records")
	outname := flag.String("o", "sim.2DS", "output file")
	flag.Usage = func() {
		fmt.Println("oapsim, a program to write synthetic SPEC raw image records")
		fmt.Println("Usage:")
		flag.PrintDefaults()
	}
	flag.Parse()

	d, err := oap.LookupProbe(*probe)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	cfg := simConfig{
		Probe:      d,
		Particles:  *nparticles,
		Rate:       *rate,
		MedianDiam: *median,
		Sigma:      *sigma,
		VFraction:  *vfraction,
		HKEvery:    *hk,
		Seed:       *seed,
		Start:      time.Now().UTC(),
		Order:      binary.BigEndian,
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if *littleEndian {
		cfg.Order = binary.LittleEndian
	}

	f, err := os.Create(*outname)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	w := bufio.NewWriter(f)
	nrec, err := simulate(cfg, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Println("simulate returned error: ", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d particles in %d records to %s\n", *nparticles, nrec, *outname)
}
