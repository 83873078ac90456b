package oapdb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the oapactivity table.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the decoderuns table.
type RunMessage struct {
	ID        string
	InputFile string
	Directory string
	Probes    string // comma-separated probe id codes
	Policy    string
	Records   int
	Particles int
	Start     time.Time
	End       time.Time
}

// RecordStatsMessage is one row of the recordstats table: the per-record
// reduction of a single probe channel.
type RecordStatsMessage struct {
	RunID       string
	ProbeID     string
	Channel     string
	RecordTime  time.Time
	Particles   int
	Accepted    int
	TotalArea   int
	TBarElapsed float64 // seconds
	MinBar      float64
	MaxBar      float64
	MeanBar     float64
	StuckBit    bool
	ChecksumOK  bool
}

// FileMessage is the information required to make an entry in the files table.
type FileMessage struct {
	RunID    string
	Filename string
	Filetype string
	Start    time.Time
	End      time.Time
	Records  int
	Size     int64
	SHA256   string
}
