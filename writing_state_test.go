package oap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMakeDirectory(t *testing.T) {
	tmp := t.TempDir()
	if _, _, err := makeDirectory(""); err == nil {
		t.Errorf("makeDirectory(\"\") succeeded, want error")
	}
	today := time.Now().Format("20060102")
	for i, want := range []string{"0000", "0001"} {
		dir, pattern, err := makeDirectory(tmp)
		if err != nil {
			t.Fatalf("makeDirectory() error: %v", err)
		}
		if filepath.Base(dir) != want {
			t.Errorf("makeDirectory() call %d dir = %s, want .../%s", i, dir, want)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("makeDirectory() did not create %s", dir)
		}
		if !strings.HasSuffix(pattern, today+"_run"+want+"_%s.%s") {
			t.Errorf("makeDirectory() pattern = %q", pattern)
		}
	}
}

func TestWritingState(t *testing.T) {
	tmp := t.TempDir()
	var ws WritingState
	if ws.IsActive() {
		t.Errorf("zero WritingState is active")
	}
	if err := ws.SetStateLabel(time.Now(), "X"); err == nil {
		t.Errorf("SetStateLabel() on inactive WritingState succeeded, want error")
	}
	if err := ws.Stop(); err != nil {
		t.Errorf("Stop() on inactive WritingState: %v", err)
	}
	notDir := filepath.Join(tmp, "plainfile")
	if err := os.WriteFile(notDir, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ws.Start(filepath.Join(notDir, "sub")); err == nil {
		t.Errorf("Start() under a plain file succeeded, want error")
	}

	if err := ws.Start(tmp); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !ws.IsActive() {
		t.Errorf("IsActive() = false after Start")
	}
	if err := ws.Start(tmp); err == nil {
		t.Errorf("second Start() succeeded, want error")
	}
	name := ws.Filename("particles_SH", "npy")
	if filepath.Dir(name) != ws.Directory || !strings.HasSuffix(name, "_particles_SH.npy") {
		t.Errorf("Filename() = %q in directory %q", name, ws.Directory)
	}
	if err := ws.SetStateLabel(time.Unix(0, 12345), "CLOUD"); err != nil {
		t.Errorf("SetStateLabel() error: %v", err)
	}
	state := ws.ComputeState()
	if state.StateLabel != "CLOUD" || state.StateLabelUnixNano != 12345 {
		t.Errorf("ComputeState() label = %q at %d, want CLOUD at 12345", state.StateLabel, state.StateLabelUnixNano)
	}
	stateFile := ws.StateFilename
	if err := ws.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if ws.IsActive() {
		t.Errorf("IsActive() = true after Stop")
	}
	b, err := os.ReadFile(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 4 {
		t.Fatalf("state file has %d lines, want 4:\n%s", len(lines), b)
	}
	for i, want := range []string{"START", "CLOUD", "STOP"} {
		if !strings.HasSuffix(lines[i+1], ", "+want) {
			t.Errorf("state file line %d = %q, want label %s", i+1, lines[i+1], want)
		}
	}
}
