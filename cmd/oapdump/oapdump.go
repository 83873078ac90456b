package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/canon"
	"github.com/airborne-oap/oap/framer"
	"github.com/davecgh/go-spew/spew"
)

type dumpOptions struct {
	probe   string
	order   binary.ByteOrder
	ascii   bool
	verbose bool
	hex     int // payload bytes to print per record
	max     int // records to dump; 0 means all
}

type recordSource interface {
	Next() (*framer.Record, error)
}

func hexdump(w io.Writer, data []byte, max int) {
	if max > len(data) {
		max = len(data)
	}
	if max%16 > 0 {
		max -= max % 16
	}
	for i := 0; i < max; i += 16 {
		for j := i; j < i+16; j++ {
			fmt.Fprintf(w, "%2.2x ", data[j])
		}
		fmt.Fprintln(w)
	}
}

// dump prints the records of the named file and the particles decoded from them.
func dump(w io.Writer, name string, opt dumpOptions) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	assemblers := make(map[string]*oap.Assembler)
	var src recordSource
	var raw *oap.Assembler
	if strings.EqualFold(filepath.Ext(name), ".2d") {
		rd, err := canon.NewReader(f)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Canonical file: project %q platform %q flight %q date %s run %s\n",
			rd.Project, rd.Platform, rd.FlightNumber, rd.FlightDate, rd.RunID)
		for _, entry := range rd.Probes {
			fmt.Fprintf(w, "  probe %s type %s resolution %d diodes %d encoding %s\n",
				entry.ID, entry.Type, entry.Resolution, entry.NDiodes, entry.Encoding)
			d, err := oap.LookupProbe(entry.ID)
			if err != nil {
				continue
			}
			if d, err = d.WithEncoding(entry.Encoding); err != nil {
				return err
			}
			if assemblers[entry.ID], err = oap.NewAssembler(d); err != nil {
				return err
			}
		}
		src = rd
	} else {
		if opt.probe == "" {
			return fmt.Errorf("%s is not a canonical .2d file and no probe was named", name)
		}
		d, err := oap.LookupProbe(opt.probe)
		if err != nil {
			return err
		}
		if raw, err = oap.NewAssembler(d); err != nil {
			return err
		}
		rd := framer.NewReader(f, framer.SPECLayout(opt.order))
		rd.Logger = oap.ProblemLogger
		src = rd
	}

	nrec := 0
	for opt.max <= 0 || nrec < opt.max {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		a := raw
		label := fmt.Sprintf("tag 0x%04x", rec.Tag)
		if raw == nil {
			a = assemblers[rec.ProbeName()]
			label = fmt.Sprintf("probe %s tas %d overload %d", rec.ProbeName(), rec.TAS, rec.Overload)
		} else {
			label += fmt.Sprintf(" packets %d", oap.CountPackets(rec.Payload, rec.Order()))
		}
		fmt.Fprintf(w, "Record %d at %d: %v %s checksum ok %t\n", nrec, rec.Offset, rec.Timestamp, label, rec.Valid)
		hexdump(w, rec.Payload, opt.hex)
		nrec++
		if a == nil {
			continue
		}
		particles, err := a.Feed(rec)
		if err != nil {
			return err
		}
		for _, p := range particles {
			fmt.Fprintf(w, "  %v\n", p)
			if opt.ascii {
				fmt.Fprint(w, p.Ascii())
			}
			if opt.verbose {
				fmt.Fprint(w, spew.Sdump(p))
			}
		}
	}

	fmt.Fprintf(w, "%d records\n", nrec)
	if raw != nil {
		assemblers[raw.Probe.ID] = raw
	}
	ids := make([]string, 0, len(assemblers))
	for id := range assemblers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "%s: %v\n", id, assemblers[id].Diagnostics())
	}
	return nil
}

func main() {
	probe := flag.String("probe", "", "probe name of SPEC raw input, e.g. SH")
	littleEndian := flag.Bool("le", false, "SPEC raw input is little-endian")
	ascii := flag.Bool("ascii", false, "print each particle image")
	verbose := flag.Bool("v", false, "dump each particle in full")
	nhex := flag.Int("hex", 0, "payload bytes to print in hex per record")
	max := flag.Int("n", 0, "number of records to dump; 0 for all")
	flag.Usage = func() {
		fmt.Println("oapdump, a program to dump the records and particles of an OAP file")
		fmt.Println("Usage: oapdump [flags] file...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return
	}
	opt := dumpOptions{probe: *probe, order: binary.BigEndian, ascii: *ascii, verbose: *verbose, hex: *nhex, max: *max}
	if *littleEndian {
		opt.order = binary.LittleEndian
	}
	// Decoder warnings go to the terminal along with the dump.
	oap.ProblemLogger.SetOutput(os.Stdout)

	for _, name := range flag.Args() {
		if err := dump(os.Stdout, name, opt); err != nil {
			fmt.Println("dump returned error: ", err)
		}
	}
}
