package oap

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// WritingState tracks the output files of one decode run.
type WritingState struct {
	Active             bool
	BasePath           string
	Directory          string
	FilenamePattern    string // two %s verbs: file role and extension
	StateFilename      string
	StateLabel         string
	StateLabelUnixNano int64
	stateFile          *os.File
	sync.Mutex
}

// IsActive will return ws.Active, with proper locking
func (ws *WritingState) IsActive() bool {
	ws.Lock()
	defer ws.Unlock()
	return ws.Active
}

// ComputeState will return a property-by-property copy of the WritingState,
// without its open file.
func (ws *WritingState) ComputeState() WritingState {
	ws.Lock()
	defer ws.Unlock()
	var copyState WritingState
	copyState.Active = ws.Active
	copyState.BasePath = ws.BasePath
	copyState.Directory = ws.Directory
	copyState.FilenamePattern = ws.FilenamePattern
	copyState.StateFilename = ws.StateFilename
	copyState.StateLabel = ws.StateLabel
	copyState.StateLabelUnixNano = ws.StateLabelUnixNano
	return copyState
}

// Start makes a new run directory under path and begins the state log.
func (ws *WritingState) Start(path string) error {
	ws.Lock()
	defer ws.Unlock()
	if ws.Active {
		return fmt.Errorf("writing already active in %s", ws.Directory)
	}
	dir, pattern, err := makeDirectory(path)
	if err != nil {
		return err
	}
	ws.Active = true
	ws.BasePath = path
	ws.Directory = dir
	ws.FilenamePattern = pattern
	ws.StateFilename = fmt.Sprintf(pattern, "state", "txt")
	return ws.setStateLabel(time.Now(), "START")
}

// Filename returns the path of the run's output file for role and extension ext.
func (ws *WritingState) Filename(role, ext string) string {
	ws.Lock()
	defer ws.Unlock()
	return fmt.Sprintf(ws.FilenamePattern, role, ext)
}

// Stop writes the final state label and closes the state log.
func (ws *WritingState) Stop() error {
	ws.Lock()
	defer ws.Unlock()
	if !ws.Active {
		return nil
	}
	ws.Active = false
	if ws.stateFile != nil {
		if err := ws.setStateLabel(time.Now(), "STOP"); err != nil {
			return err
		}
		if err := ws.stateFile.Close(); err != nil {
			return fmt.Errorf("failed to close state file, err: %v", err)
		}
	}
	ws.stateFile = nil
	ws.StateLabel = ""
	ws.StateLabelUnixNano = 0
	return nil
}

// SetStateLabel appends a labeled time to the run's state file.
func (ws *WritingState) SetStateLabel(timestamp time.Time, stateLabel string) error {
	ws.Lock()
	defer ws.Unlock()
	if !ws.Active {
		return fmt.Errorf("cannot set state label when writing is not active")
	}
	return ws.setStateLabel(timestamp, stateLabel)
}

func (ws *WritingState) setStateLabel(timestamp time.Time, stateLabel string) error {
	if ws.stateFile == nil {
		var err error
		ws.stateFile, err = os.Create(ws.StateFilename)
		if err != nil {
			return fmt.Errorf("%v, filename: <%v>", err, ws.StateFilename)
		}
		if _, err := ws.stateFile.WriteString("# unix time in nanoseconds, state label\n"); err != nil {
			return err
		}
	}
	ws.StateLabel = stateLabel
	ws.StateLabelUnixNano = timestamp.UnixNano()
	_, err := fmt.Fprintf(ws.stateFile, "%v, %v\n", ws.StateLabelUnixNano, stateLabel)
	return err
}

// makeDirectory creates basepath/YYYYMMDD/NNNN for the first unused NNNN and
// returns it with a filename pattern inside it.
func makeDirectory(basepath string) (dir, pattern string, err error) {
	if len(basepath) == 0 {
		return "", "", fmt.Errorf("BasePath is the empty string")
	}
	today := time.Now().Format("20060102")
	todayDir := fmt.Sprintf("%s/%s", basepath, today)
	if err := os.MkdirAll(todayDir, 0755); err != nil {
		return "", "", err
	}
	for i := 0; i < 10000; i++ {
		thisDir := fmt.Sprintf("%s/%4.4d", todayDir, i)
		_, err := os.Stat(thisDir)
		if os.IsNotExist(err) {
			if err2 := os.MkdirAll(thisDir, 0755); err2 != nil {
				return "", "", err2
			}
			return thisDir, fmt.Sprintf("%s/%s_run%4.4d_%%s.%%s", thisDir, today, i), nil
		}
	}
	return "", "", fmt.Errorf("out of 4-digit ID numbers for today in %s", todayDir)
}
