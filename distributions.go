package oap

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Interarrival histogram shape: bin i spans 10^((i-35)/5) to 10^((i-34)/5) seconds.
const (
	InterarrivalBins   = 40
	interarrivalOffset = 35
	interarrivalPerDec = 5
)

// InterarrivalEndpoints returns the InterarrivalBins+1 log-spaced bin edges in seconds.
func InterarrivalEndpoints() []float64 {
	lo := math.Pow(10, -interarrivalOffset/float64(interarrivalPerDec))
	hi := math.Pow(10, float64(InterarrivalBins-interarrivalOffset)/interarrivalPerDec)
	return floats.LogSpan(make([]float64, InterarrivalBins+1), lo, hi)
}

// InterarrivalHistogram counts times into the bins bounded by dividers. Times
// outside the outer edges are not counted.
func InterarrivalHistogram(dividers, times []float64) []int {
	x := make([]float64, 0, len(times))
	last := dividers[len(dividers)-1]
	for _, t := range times {
		if t >= dividers[0] && t < last {
			x = append(x, t)
		}
	}
	out := make([]int, len(dividers)-1)
	if len(x) == 0 {
		return out
	}
	sort.Float64s(x)
	for i, n := range stat.Histogram(nil, dividers, x, nil) {
		out[i] = int(n)
	}
	return out
}

// SampleArea returns the sample area in m^2 of each size bin of probe d under
// policy p. Bin i holds particles i diodes across; bin 0 is left zero.
func SampleArea(d ProbeDescriptor, p Policy, nBins int) []float64 {
	out := make([]float64, nBins)
	res := d.Resolution
	n := float64(d.NDiodes)
	arm := d.ArmWidth * 1e4 // cm to um
	for i := 1; i < nBins; i++ {
		diam := float64(i) * res
		dof := math.Min(d.DofConst*diam*diam, arm)
		var width float64
		switch p {
		case PolicyBasic:
			dof = arm
			width = res * n
		case PolicyEntireIn:
			width = math.Max(res*(n-1)-diam, res)
		case PolicyCenterIn:
			width = res * n
		case PolicyReconstruction:
			width = res*n + 0.72*diam
		}
		out[i] = dof * width * 1e-12
	}
	return out
}

// DepthOfField returns the depth of field in um of each size bin.
func DepthOfField(d ProbeDescriptor, nBins int) []float64 {
	out := make([]float64, nBins)
	arm := d.ArmWidth * 1e4
	for i := range out {
		diam := float64(i) * d.Resolution
		out[i] = math.Min(d.DofConst*diam*diam, arm)
	}
	return out
}
