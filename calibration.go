package oap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type probeCalibration struct {
	Base       string  `toml:"base"`
	Type       string  `toml:"type"`
	Resolution float64 `toml:"resolution"`
	ArmWidth   float64 `toml:"arm_width"`
	DofConst   float64 `toml:"dof_const"`
	DofMask    int     `toml:"dof_mask"`
	TimingBits int     `toml:"timing_bits"`
	FirstDiode int     `toml:"first_diode"`
	LastDiode  int     `toml:"last_diode"`
}

type calibrationFile struct {
	Probe map[string]probeCalibration `toml:"probe"`
}

// LoadCalibration returns the standard probe table with the overrides in the
// TOML file at path applied. Each [probe.<name>] table may set resolution,
// arm_width, dof_const, dof_mask, timing_bits, first_diode and last_diode. A
// name that is not a standard probe must give the standard probe it is based
// on as base; it keeps its own name as its record id.
func LoadCalibration(path string) (map[string]ProbeDescriptor, error) {
	probes := make(map[string]ProbeDescriptor, len(StandardProbes))
	for name, d := range StandardProbes {
		probes[name] = d
	}

	var raw calibrationFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("calibration %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	names := make([]string, 0, len(raw.Probe))
	for name := range raw.Probe {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := raw.Probe[name]
		defined := func(key string) bool {
			return meta.IsDefined("probe", name, key)
		}
		d, ok := probes[name]
		if defined("base") {
			base, err := LookupProbe(strings.TrimSpace(c.Base))
			if err != nil {
				return nil, fmt.Errorf("calibration for %s: %w", name, err)
			}
			d = base
			if len(name) == 2 {
				d.ID = name
			}
		} else if !ok {
			return nil, fmt.Errorf("calibration for unknown probe %q needs a base", name)
		}

		if defined("type") {
			d.Type = strings.TrimSpace(c.Type)
		}
		if defined("resolution") {
			d.Resolution = c.Resolution
		}
		if defined("arm_width") {
			d.ArmWidth = c.ArmWidth
		}
		if defined("dof_const") {
			d.DofConst = c.DofConst
		}
		if defined("dof_mask") {
			d.DofMask = byte(c.DofMask)
		}
		if defined("timing_bits") {
			d.TimingBits = c.TimingBits
		}
		if defined("first_diode") {
			d.ActiveFirst = c.FirstDiode
		}
		if defined("last_diode") {
			d.ActiveLast = c.LastDiode
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("calibration for %s: %w", name, err)
		}
		probes[name] = d
	}
	return probes, nil
}
