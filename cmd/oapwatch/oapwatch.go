// oapwatch subscribes to the particle and record summaries published by
// oapdecode and prints them as they arrive.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airborne-oap/oap"
	zmq "github.com/pebbe/zmq4"
)

// watcher prints published messages.
type watcher struct {
	out   io.Writer
	ascii bool
	nmsg  int
}

func (w *watcher) handle(msg []string) error {
	if len(msg) != 2 {
		return fmt.Errorf("message %d has %d frames, want 2", w.nmsg, len(msg))
	}
	w.nmsg++
	switch msg[0] {
	case oap.TopicParticle:
		var p oap.ParticleMessage
		if err := json.Unmarshal([]byte(msg[1]), &p); err != nil {
			return err
		}
		fmt.Fprintf(w.out, "%s particle %s id=%d t=%s w=%d h=%d a=%d bin=%d %s\n",
			p.RunID, p.Probe, p.ID, p.Time, p.W, p.H, p.Area, p.Bin, p.Reason)
		if w.ascii && len(p.Image) > 0 {
			fmt.Fprintln(w.out, strings.Join(p.Image, "\n"))
		}
	case oap.TopicRecord:
		var r oap.RecordMessage
		if err := json.Unmarshal([]byte(msg[1]), &r); err != nil {
			return err
		}
		stuck := ""
		if r.StuckBit {
			stuck = " STUCK BIT"
		}
		fmt.Fprintf(w.out, "%s record %s %s particles=%d accepted=%d area=%d tbar=%.4gs%s\n",
			r.RunID, r.Probe, r.Time, r.Particles, r.Accepted, r.TotalArea, r.TBarElapsed, stuck)
	default:
		fmt.Fprintf(w.out, "frame 0: [%s] frame 1: [%s]\n", msg[0], msg[1])
	}
	return nil
}

// watch receives up to max messages (0 for no limit) until abort is closed.
// The socket's receive timeout sets how often abort is checked.
func (w *watcher) watch(sub *zmq.Socket, max int, abort <-chan struct{}) error {
	for max <= 0 || w.nmsg < max {
		select {
		case <-abort:
			return nil
		default:
		}
		msg, err := sub.RecvMessage(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			return err
		}
		if err := w.handle(msg); err != nil {
			return err
		}
	}
	return nil
}

func subscribe(host string, port int, topics []string) (*zmq.Socket, error) {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	if err := sub.Connect(fmt.Sprintf("tcp://%s:%d", host, port)); err != nil {
		sub.Close()
		return nil, err
	}
	for _, t := range topics {
		if err := sub.SetSubscribe(t); err != nil {
			sub.Close()
			return nil, err
		}
	}
	if err := sub.SetRcvtimeo(250 * time.Millisecond); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

func main() {
	host := flag.String("host", "localhost", "host of the publisher")
	port := flag.Int("port", oap.Ports.Publish, "port of the publisher")
	topic := flag.String("topic", "", "comma-separated topics to receive: PARTICLE, RECORD (default all)")
	ascii := flag.Bool("ascii", false, "print particle images when published")
	max := flag.Int("n", 0, "quit after this many messages; 0 for no limit")
	flag.Usage = func() {
		fmt.Println("oapwatch, a program to print the summaries published by oapdecode")
		fmt.Println("Usage:")
		flag.PrintDefaults()
	}
	flag.Parse()

	topics := []string{""}
	if *topic != "" {
		topics = strings.Split(*topic, ",")
	}
	sub, err := subscribe(*host, *port, topics)
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()

	// Catch ctrl-C and stop between messages.
	abort := make(chan struct{})
	catcher := make(chan os.Signal, 1)
	signal.Notify(catcher, os.Interrupt)
	go func() {
		<-catcher
		close(abort)
	}()

	w := &watcher{out: os.Stdout, ascii: *ascii}
	if err := w.watch(sub, *max, abort); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	fmt.Printf("%d messages received\n", w.nmsg)
}
