package canon

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/airborne-oap/oap/asyncbufio"
	"github.com/oklog/ulid/v2"
)

// Writer writes canonical .2d files. No file is created until CreateFile.
type Writer struct {
	Header

	recordsWritten int
	fileName       string
	headerWritten  bool
	file           *os.File
	writer         *asyncbufio.Writer
}

// NewWriter returns a Writer for fileName. An empty RunID is filled with a new ULID.
func NewWriter(fileName string, hdr Header) *Writer {
	if hdr.Version == 0 {
		hdr.Version = FileVersion
	}
	if hdr.Source == "" {
		hdr.Source = "airborne-oap"
	}
	if hdr.RunID == "" {
		hdr.RunID = ulid.Make().String()
	}
	return &Writer{Header: hdr, fileName: fileName}
}

// FileName returns the path of the output file.
func (w *Writer) FileName() string {
	return w.fileName
}

// RecordsWritten returns the number of records written.
func (w *Writer) RecordsWritten() int {
	return w.recordsWritten
}

// HeaderWritten reports whether WriteHeader has been called.
func (w *Writer) HeaderWritten() bool {
	return w.headerWritten
}

// CreateFile creates the file and starts the background writer.
func (w *Writer) CreateFile() error {
	if w.file != nil {
		return fmt.Errorf("file %s already created", w.fileName)
	}
	f, err := os.Create(w.fileName)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = asyncbufio.NewBlockingWriter(f, 65536, 256, time.Second)
	return nil
}

// HeaderText returns the XML header, including the closing </OAP> line.
func (h *Header) HeaderText() (string, error) {
	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n")
	fmt.Fprintf(&sb, "<OAP version=\"%d\">\n", h.Version)
	for _, el := range []struct{ name, value string }{
		{"Source", h.Source},
		{"Project", h.Project},
		{"Platform", h.Platform},
		{"FlightNumber", h.FlightNumber},
		{"FlightDate", h.FlightDate},
		{"RunID", h.RunID},
	} {
		fmt.Fprintf(&sb, " <%s>", el.name)
		if err := xml.EscapeText(&sb, []byte(el.value)); err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "</%s>\n", el.name)
	}
	for _, p := range h.Probes {
		b, err := xml.Marshal(p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %s\n", b)
	}
	sb.WriteString(endHeaderTag + "\n")
	return sb.String(), nil
}

// WriteHeader writes the XML header.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return errors.New("header already written")
	}
	if w.writer == nil {
		return errors.New("file not created")
	}
	s, err := w.HeaderText()
	if err != nil {
		return err
	}
	if _, err := w.writer.WriteString(s); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

// WriteRecord writes one record. The header must already be written.
func (w *Writer) WriteRecord(rec *Record) error {
	if !w.headerWritten {
		return errors.New("header not written")
	}
	b, err := Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(b); err != nil {
		return err
	}
	w.recordsWritten++
	return nil
}

// Flush pushes queued records to the file.
func (w *Writer) Flush() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Flush()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.writer.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	w.writer = nil
	return err
}
