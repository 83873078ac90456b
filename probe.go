package oap

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/codec"
)

// ProbeDescriptor holds the constants that describe one probe channel. It is
// not modified once built.
type ProbeDescriptor struct {
	ID         string // two-character id found in canonical records, e.g. "SH"
	Type       string // probe type name written to file headers, e.g. "2DS"
	Variant    codec.Variant
	Family     codec.SyncFamily
	Channel    Channel // channel of row-based data; SPEC packets carry their own
	NDiodes    int
	Resolution float64 // micrometers per diode
	ClockHz    float64 // timing word clock; 0 means the clock follows true airspeed
	TimingBits int
	// RolloverModulus is the value at which timing words wrap. Zero means
	// 1<<TimingBits.
	RolloverModulus uint64
	ElapsedTiming   bool // timing words count ticks since the previous particle
	TimingLeads     bool // the timing row opens a particle rather than closing it
	SyncIsSlice     bool // the sync slice counts as one slice of one shadowed pixel
	ArmWidth        float64 // cm
	DofConst        float64
	DofMask         byte
	ActiveFirst     int
	ActiveLast      int
	Order           binary.ByteOrder // word order of word-based encodings; nil means big-endian
}

// TimingMask returns the mask for TimingBits.
func (d ProbeDescriptor) TimingMask() uint64 {
	if d.TimingBits <= 0 || d.TimingBits >= 64 {
		return ^uint64(0)
	}
	return 1<<d.TimingBits - 1
}

// Modulus returns the rollover modulus of the timing word.
func (d ProbeDescriptor) Modulus() uint64 {
	if d.RolloverModulus != 0 {
		return d.RolloverModulus
	}
	if d.TimingBits <= 0 || d.TimingBits >= 64 {
		return 0
	}
	return 1 << d.TimingBits
}

// Delta returns the ticks elapsed between two absolute timing words. A word
// smaller than its predecessor has rolled over the modulus.
func (d ProbeDescriptor) Delta(prev, next uint64) uint64 {
	if d.ElapsedTiming {
		return next
	}
	if next >= prev {
		return next - prev
	}
	return next + d.Modulus() - prev
}

// TicksToSeconds converts timing ticks to seconds. TAS-clocked probes advance
// one tick per resolution element of travel, so tas (m/s) is needed for them.
func (d ProbeDescriptor) TicksToSeconds(ticks uint64, tas float64) float64 {
	if d.ClockHz > 0 {
		return float64(ticks) / d.ClockHz
	}
	if tas <= 0 {
		return 0
	}
	return float64(ticks) * d.Resolution * 1e-6 / tas
}

// Active returns the first and last unmasked diodes.
func (d ProbeDescriptor) Active() (first, last int) {
	return d.Params().Active()
}

// Params returns the codec parameters for this probe.
func (d ProbeDescriptor) Params() codec.Params {
	return codec.Params{
		NDiodes:     d.NDiodes,
		Family:      d.Family,
		Order:       d.Order,
		TimingMask:  d.TimingMask(),
		DofMask:     d.DofMask,
		ActiveFirst: d.ActiveFirst,
		ActiveLast:  d.ActiveLast,
		Logger:      ProblemLogger,
	}
}

// Canonical returns the descriptor for this probe's data after translation to
// canonical records. Run-length packets and DMT data are stored as
// uncompressed slices; HVPS keeps its word encoding.
func (d ProbeDescriptor) Canonical() ProbeDescriptor {
	if d.Variant == codec.VariantRunWord || d.Variant == codec.VariantDMT {
		d.Variant = codec.VariantBitmap
	}
	return d
}

// WithEncoding returns the descriptor for data stored under a canonical
// header encoding name.
func (d ProbeDescriptor) WithEncoding(name string) (ProbeDescriptor, error) {
	switch name {
	case "", canon.EncodingBitmap:
		return d.Canonical(), nil
	case canon.EncodingDMT:
		if d.Family != codec.FamilyCIP {
			return d, fmt.Errorf("probe %s: %s data cannot use encoding %q", d.ID, d.Family, name)
		}
		d.Variant = codec.VariantDMT
	case canon.EncodingHVPS:
		if d.Family != codec.FamilyHVPS {
			return d, fmt.Errorf("probe %s: %s data cannot use encoding %q", d.ID, d.Family, name)
		}
		d.Variant = codec.VariantHVPS
	default:
		return d, fmt.Errorf("probe %s: unknown encoding %q", d.ID, name)
	}
	return d, nil
}

// Encoding returns the canonical header encoding name of d's variant.
func (d ProbeDescriptor) Encoding() string {
	switch d.Variant {
	case codec.VariantDMT:
		return canon.EncodingDMT
	case codec.VariantHVPS:
		return canon.EncodingHVPS
	}
	return canon.EncodingBitmap
}

// Entry returns the canonical header entry for d's canonical form.
func (d ProbeDescriptor) Entry(suffix string) canon.ProbeEntry {
	c := d.Canonical()
	return canon.ProbeEntry{
		ID:         c.ID,
		Type:       c.Type,
		Resolution: int(math.Round(c.Resolution)),
		NDiodes:    c.NDiodes,
		ClockFreq:  int(math.Round(c.ClockHz / 1e6)),
		Suffix:     suffix,
		Encoding:   c.Encoding(),
	}
}

func (d ProbeDescriptor) String() string {
	return fmt.Sprintf("%s %s (%d diodes, %.0f um, %s/%s)", d.ID, d.Type, d.NDiodes, d.Resolution, d.Variant, d.Family)
}

// Validate checks that the descriptor can drive a decoder.
func (d ProbeDescriptor) Validate() error {
	if d.NDiodes <= 0 || d.NDiodes%8 != 0 {
		return fmt.Errorf("probe %s: diode count %d is not a positive multiple of 8", d.ID, d.NDiodes)
	}
	if d.Resolution <= 0 {
		return fmt.Errorf("probe %s: resolution %v must be positive", d.ID, d.Resolution)
	}
	first, last := d.Active()
	if first < 0 || last >= d.NDiodes || first > last {
		return fmt.Errorf("probe %s: active window [%d,%d] outside %d diodes", d.ID, first, last, d.NDiodes)
	}
	return nil
}

func pms2d(id string, res, arm float64) ProbeDescriptor {
	return ProbeDescriptor{
		ID: id, Type: "PMS2D", Variant: codec.VariantBitmap, Family: codec.FamilyPMS2D,
		NDiodes: 32, Resolution: res, TimingBits: 24, ElapsedTiming: true,
		TimingLeads: true, SyncIsSlice: true, ArmWidth: arm, DofConst: 2.37,
	}
}

func fast2d(id, typ string, res, arm float64) ProbeDescriptor {
	d := ProbeDescriptor{
		ID: id, Type: typ, Variant: codec.VariantBitmap, Family: codec.FamilyFast2D,
		NDiodes: 64, Resolution: res, ClockHz: 12e6, TimingBits: 40,
		ArmWidth: arm, DofConst: 2.37, DofMask: 0x01,
	}
	if strings.HasSuffix(typ, "_v2") {
		d.ClockHz = 33.33333333e6
		d.TimingBits = 42
	}
	return d
}

func spec128(id, typ string, ch Channel, arm float64) ProbeDescriptor {
	return ProbeDescriptor{
		ID: id, Type: typ, Variant: codec.VariantRunWord, Family: codec.FamilyTwoDS, Channel: ch,
		NDiodes: 128, Resolution: 10, ClockHz: 20e6, TimingBits: 48,
		ArmWidth: arm, DofConst: 5.13,
	}
}

func dmt(id, typ string, res, arm float64) ProbeDescriptor {
	return ProbeDescriptor{
		ID: id, Type: typ, Variant: codec.VariantDMT, Family: codec.FamilyCIP,
		NDiodes: 64, Resolution: res, ClockHz: 1e6, TimingBits: 37,
		RolloverModulus: 86400 * 1000000, ArmWidth: arm, DofConst: 2.37, DofMask: 0x01,
	}
}

func hvps(id string, ch Channel) ProbeDescriptor {
	return ProbeDescriptor{
		ID: id, Type: "HVPS", Variant: codec.VariantHVPS, Family: codec.FamilyHVPS, Channel: ch,
		NDiodes: 256, Resolution: 150, ClockHz: 20e6, TimingBits: 28, ElapsedTiming: true,
		TimingLeads: true, ArmWidth: 16.25, DofConst: 5.13,
		ActiveFirst: 40, ActiveLast: 214, Order: binary.LittleEndian,
	}
}

// StandardProbes maps probe names to the descriptors of known probes. Names
// are the two-character record ids, plus "_v2" variants of the Fast2D probes
// and "3H46"/"3V46" for 3V-CPI with 46-bit timing words.
var StandardProbes = map[string]ProbeDescriptor{
	"C1":    pms2d("C1", 25, 6.1),
	"C2":    pms2d("C2", 25, 6.1),
	"P1":    pms2d("P1", 200, 26.1),
	"P2":    pms2d("P2", 200, 26.1),
	"C4":    fast2d("C4", "Fast2DC", 25, 6.1),
	"C5":    fast2d("C5", "Fast2DC", 10, 6.1),
	"C6":    fast2d("C6", "Fast2DC", 25, 6.1),
	"P4":    fast2d("P4", "Fast2DP", 200, 26.1),
	"C4_v2": fast2d("C4", "Fast2DC_v2", 25, 6.1),
	"C6_v2": fast2d("C6", "Fast2DC_v2", 25, 6.1),
	"P4_v2": fast2d("P4", "Fast2DP_v2", 200, 26.1),
	"C8":    dmt("C8", "CIP", 25, 10.0),
	"P8":    dmt("P8", "PIP", 100, 26.0),
	"H1":    hvps("H1", Horizontal),
	"H2":    hvps("H2", Vertical),
	"SH":    spec128("SH", "2DS", Horizontal, 6.3),
	"SV":    spec128("SV", "2DS", Vertical, 6.3),
	"3H":    spec128("3H", "3V-CPI", Horizontal, 5.08),
	"3V":    spec128("3V", "3V-CPI", Vertical, 5.08),
	"3H46": withTimingBits(spec128("3H", "3V-CPI", Horizontal, 5.08), 46),
	"3V46": withTimingBits(spec128("3V", "3V-CPI", Vertical, 5.08), 46),
}

func withTimingBits(d ProbeDescriptor, bits int) ProbeDescriptor {
	d.TimingBits = bits
	return d
}

// LookupProbe returns the standard descriptor registered under name.
func LookupProbe(name string) (ProbeDescriptor, error) {
	if d, ok := StandardProbes[name]; ok {
		return d, nil
	}
	return ProbeDescriptor{}, fmt.Errorf("unknown probe %q (known: %s)", name, strings.Join(ProbeNames(), " "))
}

// ProbeNames returns the sorted names of the standard probes.
func ProbeNames() []string {
	names := make([]string, 0, len(StandardProbes))
	for name := range StandardProbes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForChannel returns the descriptor of channel ch of a two-channel SPEC
// probe, whose record id ends in H or V. Other probes are returned unchanged.
func (d ProbeDescriptor) ForChannel(ch Channel) ProbeDescriptor {
	if d.Variant != codec.VariantRunWord || len(d.ID) != 2 {
		return d
	}
	d.ID = d.ID[:1] + ch.String()
	d.Channel = ch
	return d
}
