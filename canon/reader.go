package canon

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/airborne-oap/oap/framer"
)

// Reader reads a canonical .2d file: the header on open, then one record per Next.
type Reader struct {
	Header
	HeaderLength int64 // bytes of header text, including the </OAP> line

	file    *os.File
	records *framer.Reader
}

// OpenReader opens fileName and parses its header.
func OpenReader(fileName string) (*Reader, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("file %s: %w", fileName, err)
	}
	r.file = f
	return r, nil
}

// NewReader parses the header from r and leaves it positioned at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	rd := &Reader{}
	if err := rd.parseHeader(br); err != nil {
		return nil, err
	}
	rd.records = framer.NewReader(br, framer.CanonicalLayout())
	return rd, nil
}

type element struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (r *Reader) parseHeader(br *bufio.Reader) error {
	sawOAP := false
	for lnum := 0; ; lnum++ {
		line, err := br.ReadString('\n')
		r.HeaderLength += int64(len(line))
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !sawOAP {
					return ErrNoHeader
				}
				return fmt.Errorf("header has no %s line: %w", endHeaderTag, io.ErrUnexpectedEOF)
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "<?xml"):
		case strings.HasPrefix(line, "<OAP"):
			sawOAP = true
			if _, err := fmt.Sscanf(line, `<OAP version="%d">`, &r.Version); err != nil {
				return fmt.Errorf("could not parse version from %q", line)
			}
		case !sawOAP:
			return ErrNoHeader
		case line == endHeaderTag:
			return nil
		case strings.HasPrefix(line, "<probe"):
			var p ProbeEntry
			if err := xml.Unmarshal([]byte(line), &p); err != nil {
				return fmt.Errorf("header line %d: %w", lnum+1, err)
			}
			r.Probes = append(r.Probes, p)
		case strings.HasPrefix(line, "<"):
			var el element
			if err := xml.Unmarshal([]byte(line), &el); err != nil {
				continue
			}
			switch el.XMLName.Local {
			case "Source":
				r.Source = el.Value
			case "Project":
				r.Project = el.Value
			case "Platform":
				r.Platform = el.Value
			case "FlightNumber":
				r.FlightNumber = el.Value
			case "FlightDate":
				r.FlightDate = el.Value
			case "RunID":
				r.RunID = el.Value
			}
		}
	}
}

// Next returns the next record, or io.EOF at the end of the file.
func (r *Reader) Next() (*Record, error) {
	return r.records.Next()
}

// RecordsRead returns the number of records returned by Next.
func (r *Reader) RecordsRead() int {
	return r.records.RecordsRead()
}

// Close closes the file opened by OpenReader.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
