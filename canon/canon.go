// Package canon reads and writes the canonical OAP (.2d) file format: an XML
// header ending with a </OAP> line, followed by fixed-size P2d records of
// 4096 image bytes, each tagged with a two-character probe id.
package canon

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"

	"github.com/airborne-oap/oap/framer"
)

// FileVersion is the version written to the <OAP> element.
const FileVersion = 1

// BlankByte pads the unused tail of bitmap records. A clear slice is all ones.
const BlankByte byte = 0xFF

const endHeaderTag = "</OAP>"

// ErrNoHeader is returned for a stream that does not begin with an OAP header.
var ErrNoHeader = errors.New("no <OAP> header")

// Record is one canonical P2d record.
type Record = framer.Record

// Encoding names written to a probe entry's encoding attribute.
const (
	EncodingBitmap = "bitmap"
	EncodingDMT    = "dmt"
	EncodingHVPS   = "hvps"
)

// ProbeEntry describes one probe in the file header.
type ProbeEntry struct {
	XMLName    xml.Name `xml:"probe"`
	ID         string   `xml:"id,attr"`
	Type       string   `xml:"type,attr"`
	Resolution int      `xml:"resolution,attr"`
	NDiodes    int      `xml:"nDiodes,attr"`
	ClockFreq  int      `xml:"clockFreq,attr,omitempty"` // MHz
	Serial     string   `xml:"serialnumber,attr,omitempty"`
	Suffix     string   `xml:"suffix,attr"`
	Encoding   string   `xml:"encoding,attr,omitempty"`
}

// Header is the XML header of a canonical file.
type Header struct {
	Version      int
	Source       string
	Project      string
	Platform     string
	FlightNumber string
	FlightDate   string // MM/DD/YYYY
	RunID        string
	Probes       []ProbeEntry
}

// Probe returns the entry for probe id.
func (h *Header) Probe(id string) (ProbeEntry, bool) {
	for _, p := range h.Probes {
		if p.ID == id {
			return p, true
		}
	}
	return ProbeEntry{}, false
}

// NewRecord returns a record for probe id whose payload is filled with fill.
// TAS is rounded to whole meters per second.
func NewRecord(id string, ts framer.Timestamp, tas float64, fill byte) *Record {
	rec := &Record{Timestamp: ts, Valid: true}
	copy(rec.ProbeID[:], id)
	rec.TAS = int16(max(math.MinInt16, min(math.MaxInt16, math.Round(tas))))
	rec.Payload = make([]byte, framer.ImagePayloadSize)
	for i := range rec.Payload {
		rec.Payload[i] = fill
	}
	return rec
}

// Marshal encodes rec in the canonical layout.
func Marshal(rec *Record) ([]byte, error) {
	b, err := framer.CanonicalLayout().Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("probe %q: %w", rec.ProbeName(), err)
	}
	return b, nil
}
