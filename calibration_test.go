package oap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCalibration(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadCalibration(t *testing.T) {
	path := writeCalibration(t, `
[probe.C6]
resolution = 15
arm_width = 5.5
first_diode = 2
last_diode = 61

[probe.H1]
timing_bits = 20

[probe.Q1]
base = "C4_v2"
type = "Fast2DC_custom"
dof_const = 3.0
dof_mask = 2
`)
	probes, err := LoadCalibration(path)
	require.NoError(t, err)

	c6 := probes["C6"]
	assert.Equal(t, 15.0, c6.Resolution)
	assert.Equal(t, 5.5, c6.ArmWidth)
	first, last := c6.Active()
	assert.Equal(t, 2, first)
	assert.Equal(t, 61, last)
	assert.Equal(t, StandardProbes["C6"].ClockHz, c6.ClockHz, "unset keys keep their standard values")

	assert.Equal(t, 20, probes["H1"].TimingBits)
	assert.Equal(t, StandardProbes["H2"], probes["H2"])

	q1 := probes["Q1"]
	assert.Equal(t, "Q1", q1.ID)
	assert.Equal(t, "Fast2DC_custom", q1.Type)
	assert.Equal(t, 42, q1.TimingBits, "from the base")
	assert.Equal(t, 3.0, q1.DofConst)
	assert.Equal(t, byte(2), q1.DofMask)

	// The standard table itself is untouched.
	assert.Equal(t, 25.0, StandardProbes["C6"].Resolution)
	_, ok := StandardProbes["Q1"]
	assert.False(t, ok)
}

func TestLoadCalibrationErrors(t *testing.T) {
	var tests = []struct {
		name string
		text string
	}{
		{"unknown key", "[probe.C4]\nresolutoin = 10\n"},
		{"no base", "[probe.ZZ]\nresolution = 10\n"},
		{"bad base", "[probe.ZZ]\nbase = \"XX\"\n"},
		{"invalid window", "[probe.C4]\nfirst_diode = 70\nlast_diode = 80\n"},
		{"bad resolution", "[probe.C4]\nresolution = -1\n"},
		{"syntax", "[probe.C4\n"},
	}
	for _, tt := range tests {
		if _, err := LoadCalibration(writeCalibration(t, tt.text)); err == nil {
			t.Errorf("LoadCalibration with %s succeeded, want error", tt.name)
		}
	}
	if _, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("LoadCalibration of a missing file succeeded, want error")
	}
}
