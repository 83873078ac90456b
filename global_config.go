package oap

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs contain the TCP port numbers oap binds.
type Portnumbers struct {
	Publish int
}

// Ports globally holds the TCP port numbers used by oap.
var Ports Portnumbers

// SetPortnumbers assigns ports starting at base.
func SetPortnumbers(base int) {
	Ports.Publish = base
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Summary string
	Host    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.1",
	Githash: "no git hash computed",
	Gitdate: "no git date computed",
	Date:    "no build date computed",
	Summary: "oap version 0.3.1",
	Host:    "host not detected",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log per-file summaries
var UpdateLogger *log.Logger

func init() {
	SetPortnumbers(5600)
	StartTime = time.Now()

	// Commands will override these, but at least initialize with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
