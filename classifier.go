package oap

import (
	"fmt"
	"math"
	"strings"

	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Policy selects how particles touching the array edge are sized and rejected.
type Policy int

// Sizing policies
const (
	PolicyBasic Policy = iota
	PolicyEntireIn
	PolicyCenterIn
	PolicyReconstruction
)

var policyNames = [...]string{"basic", "entire-in", "center-in", "reconstruction"}

func (p Policy) String() string {
	if p >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts a policy name to a Policy. Underscores and the
// "all-in" spelling are accepted.
func ParsePolicy(s string) (Policy, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if name == "all-in" || name == "allin" {
		return PolicyEntireIn, nil
	}
	for i, n := range policyNames {
		if name == n || name == strings.ReplaceAll(n, "-", "") {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sizing policy %q", s)
}

// DefaultStuckBitDiodes is the fewest distinct shadowed diodes a good record shows.
const DefaultStuckBitDiodes = 11

// RecordStats summarizes the particles of one physical record.
type RecordStats struct {
	Probe        string
	Time         framer.Timestamp
	Particles    int
	Accepted     int
	TotalArea    int
	TBarElapsed  float64 // seconds, summed over every particle
	MinBar       float64
	MaxBar       float64
	MeanBar      float64
	LiveTime     float64
	DiodesSeen   int
	StuckBit     bool
	Histogram    []int // accepted particles by size bin
	Interarrival []int // all particles by interarrival bin
}

// Err returns ErrStuckBitRecord for a flagged record, else nil.
func (rs *RecordStats) Err() error {
	if rs.StuckBit {
		return fmt.Errorf("probe %s record %v: %w", rs.Probe, rs.Time, ErrStuckBitRecord)
	}
	return nil
}

// Classifier sizes particles under a Policy and accumulates histograms for the
// current record and for the whole run.
type Classifier struct {
	Probe           ProbeDescriptor
	Policy          Policy
	AreaRatioReject float64 // reject when area/(pi/4 max(w,h)^2) is at or below this; 0 disables
	StuckBitDiodes  int

	Accum     []int
	TotalArea int
	Accepted  int
	Particles int
	TimeBar   float64 // seconds of interarrival time over every particle

	first, last int
	dividers    []float64
	rec         recordAccumulator
}

type recordAccumulator struct {
	particles int
	accepted  int
	area      int
	bars      []float64
	live      float64
	seen      codec.Bitmap
	accum     []int
}

// NewClassifier returns a Classifier for probe d. Histograms have NDiodes<<2 bins.
func NewClassifier(d ProbeDescriptor, policy Policy) *Classifier {
	c := &Classifier{
		Probe:          d,
		Policy:         policy,
		StuckBitDiodes: DefaultStuckBitDiodes,
		Accum:          make([]int, d.NDiodes<<2),
		dividers:       InterarrivalEndpoints(),
	}
	c.first, c.last = d.Active()
	c.resetRecord()
	return c
}

// NBins returns the number of size bins.
func (c *Classifier) NBins() int {
	return len(c.Accum)
}

func (c *Classifier) resetRecord() {
	c.rec = recordAccumulator{
		seen:  codec.NewBitmap(c.Probe.NDiodes),
		accum: make([]int, len(c.Accum)),
	}
}

// Size returns the size bin of p under the policy and whether the policy
// rejects it. Rejections that apply to every policy are not considered.
func (c *Classifier) Size(p *Particle) (bin int, reject bool) {
	w, h := float64(p.W), float64(p.H)
	switch c.Policy {
	case PolicyEntireIn:
		return p.H, p.Edge != 0
	case PolicyCenterIn:
		return max(p.W, p.H), p.Edge != 0 && p.W >= 2*p.H
	case PolicyReconstruction:
		reject = p.Edge != 0 && h/w < 0.2
		switch {
		case p.Edge == 0 || reject || p.H == 0:
			bin = max(p.W, p.H)
		case p.Edge == EdgeFirst || p.Edge == EdgeLast:
			half := float64(p.W >> 1)
			bin = int((half*half + h*h) / h)
		default:
			x1, x2 := float64(p.X1), float64(p.X2)
			v := h + (x2*x2+x1*x1)/(4*h)
			bin = int(math.Sqrt(v*v + x1*x1))
		}
		return bin, reject
	}
	return max(p.W, p.H), false
}

func (c *Classifier) reason(p *Particle) RejectReason {
	if c.Policy == PolicyBasic {
		return Accepted
	}
	switch {
	case p.Area == 0 || (p.W == 0 && p.H == 0):
		return RejectZeroArea
	case c.Probe.Family == codec.FamilyPMS2D && p.W == 1 && p.H == 1:
		return RejectZeroArea
	case p.H == 1 && p.W > 3:
		return RejectStuckBit
	case p.DOF && c.Probe.DofMask != 0:
		return RejectDOF
	}
	if c.AreaRatioReject > 0 {
		d := float64(max(p.W, p.H))
		if float64(p.Area)/(d*d*math.Pi/4) <= c.AreaRatioReject {
			return RejectAreaRatio
		}
	}
	return Accepted
}

// Classify sets the bin and reject fields of p and accumulates it.
func (c *Classifier) Classify(p *Particle) {
	bin, edgeReject := c.Size(p)
	p.Bin = bin
	p.Reason = c.reason(p)
	if p.Reason == Accepted && edgeReject {
		p.Reason = RejectEdge
	}
	inRange := bin >= 0 && bin < len(c.Accum)
	if p.Reason == Accepted && !inRange && c.Policy != PolicyBasic {
		p.Reason = RejectOversize
	}
	p.Reject = p.Reason != Accepted

	c.Particles++
	c.TimeBar += p.Interarrival
	c.rec.particles++
	c.rec.bars = append(c.rec.bars, p.Interarrival)
	c.rec.live += p.LiveTime
	slices := p.Slices
	if c.Probe.SyncIsSlice && len(slices) > 0 {
		slices = slices[1:]
	}
	for _, s := range slices {
		for i := range c.rec.seen {
			if i < len(s) {
				c.rec.seen[i] |= s[i]
			}
		}
	}
	if p.Reject {
		return
	}
	c.TotalArea += p.Area
	c.Accepted++
	c.rec.area += p.Area
	c.rec.accepted++
	if inRange {
		c.Accum[bin]++
		c.rec.accum[bin]++
	}
}

// EndRecord returns the statistics of the particles classified since the last
// call and starts a new record. A record with too few distinct shadowed
// diodes, or fewer than two particles, is flagged as a stuck-bit record.
func (c *Classifier) EndRecord(ts framer.Timestamp) RecordStats {
	r := c.rec
	rs := RecordStats{
		Probe:        c.Probe.ID,
		Time:         ts,
		Particles:    r.particles,
		Accepted:     r.accepted,
		TotalArea:    r.area,
		LiveTime:     r.live,
		DiodesSeen:   r.seen.CountRange(c.first, c.last),
		Histogram:    r.accum,
		Interarrival: InterarrivalHistogram(c.dividers, r.bars),
	}
	if len(r.bars) > 0 {
		rs.TBarElapsed = floats.Sum(r.bars)
		rs.MinBar = floats.Min(r.bars)
		rs.MaxBar = floats.Max(r.bars)
		rs.MeanBar = stat.Mean(r.bars, nil)
	}
	rs.StuckBit = rs.DiodesSeen < c.StuckBitDiodes || rs.Particles < 2
	c.resetRecord()
	return rs
}

// Reset clears the run totals and the current record.
func (c *Classifier) Reset() {
	for i := range c.Accum {
		c.Accum[i] = 0
	}
	c.TotalArea, c.Accepted, c.Particles, c.TimeBar = 0, 0, 0, 0
	c.resetRecord()
}
