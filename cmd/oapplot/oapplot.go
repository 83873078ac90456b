package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/airborne-oap/oap"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func readHistograms(filename string) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if _, c := m.Dims(); c <= len(oap.HistogramColumns) {
		return nil, fmt.Errorf("%s has %d columns, too few for a histogram matrix", filename, c)
	}
	return &m, nil
}

// sizeDistribution returns the accepted count of every non-empty size bin
// summed over all records, against bin diameter in micrometers.
func sizeDistribution(m *mat.Dense, res float64) plotter.XYs {
	_, c := m.Dims()
	lead := len(oap.HistogramColumns)
	var pts plotter.XYs
	for i := lead; i < c; i++ {
		n := mat.Sum(m.ColView(i))
		if n > 0 {
			pts = append(pts, plotter.XY{X: float64(i-lead) * res, Y: n})
		}
	}
	return pts
}

// countSeries returns particles and accepted particles of each record
// against its time of day.
func countSeries(m *mat.Dense) (particles, accepted plotter.XYs) {
	r, _ := m.Dims()
	times := mat.Col(nil, 0, m)
	all := mat.Col(nil, 1, m)
	acc := mat.Col(nil, 2, m)
	particles = make(plotter.XYs, r)
	accepted = make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		particles[i] = plotter.XY{X: times[i], Y: all[i]}
		accepted[i] = plotter.XY{X: times[i], Y: acc[i]}
	}
	return particles, accepted
}

func plotSizes(m *mat.Dense, d oap.ProbeDescriptor, filename string) error {
	pts := sizeDistribution(m, d.Resolution)
	if len(pts) == 0 {
		return fmt.Errorf("no accepted particles to plot")
	}
	total := 0.0
	for _, pt := range pts {
		total += pt.Y
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Probe %s size distribution (%.0f particles)", d.ID, total)
	p.X.Label.Text = "Diameter (um)"
	p.Y.Label.Text = "Particles"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.StepStyle = plotter.MidStep
	line.Color = color.RGBA{B: 200, A: 255}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	return p.Save(8*vg.Inch, 5*vg.Inch, filename)
}

func plotCounts(m *mat.Dense, d oap.ProbeDescriptor, filename string) error {
	particles, accepted := countSeries(m)
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Probe %s particles per record", d.ID)
	p.X.Label.Text = "Time of day (s)"
	p.Y.Label.Text = "Particles"
	for i, series := range []plotter.XYs{particles, accepted} {
		line, err := plotter.NewLine(series)
		if err != nil {
			return err
		}
		line.Width = vg.Points(1)
		line.Color = []color.Color{color.RGBA{R: 200, A: 255}, color.RGBA{G: 150, A: 255}}[i]
		p.Add(line)
		p.Legend.Add([]string{"all", "accepted"}[i], line)
	}
	p.Legend.Top = true
	return p.Save(10*vg.Inch, 4*vg.Inch, filename)
}

// probeOf guesses the probe from a histograms_<ID>.npy file name.
func probeOf(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if i := strings.LastIndex(base, "histograms_"); i >= 0 {
		return base[i+len("histograms_"):]
	}
	return ""
}

func main() {
	probe := flag.String("probe", "", "probe name (default: from the file name)")
	out := flag.String("o", "", "output file prefix (default: the input name)")
	counts := flag.Bool("counts", false, "also plot particles per record against time")
	flag.Usage = func() {
		fmt.Println("oapplot, a program to plot the size distribution in an oapdecode histograms file")
		fmt.Println("Usage: oapplot [flags] histograms_<ID>.npy...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return
	}
	for _, name := range flag.Args() {
		if err := plotFile(name, *probe, *out, *counts); err != nil {
			fmt.Printf("Error plotting %s: %v\n", name, err)
		}
	}
}

func plotFile(name, probe, prefix string, counts bool) error {
	if probe == "" {
		probe = probeOf(name)
	}
	d, err := oap.LookupProbe(probe)
	if err != nil {
		return err
	}
	m, err := readHistograms(name)
	if err != nil {
		return err
	}
	if prefix == "" {
		prefix = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if err := plotSizes(m, d, prefix+"_sizes.png"); err != nil {
		return err
	}
	r, _ := m.Dims()
	fmt.Printf("%s: %d records, %.0f accepted particles\n", name, r, floats.Sum(mat.Col(nil, 2, m)))
	if counts {
		return plotCounts(m, d, prefix+"_counts.png")
	}
	return nil
}
