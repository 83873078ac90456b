package oap

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/airborne-oap/oap/canon"
	zmq "github.com/pebbe/zmq4"
)

// Topics of published messages. Each message is two frames: the topic, then
// a JSON body.
const (
	TopicParticle = "PARTICLE"
	TopicRecord   = "RECORD"
)

// ParticleMessage is the published summary of one particle.
type ParticleMessage struct {
	RunID        string
	Probe        string
	Channel      string
	ID           uint16
	Time         string
	TimeWord     uint64
	Interarrival float64
	W, H, Area   int
	Bin          int
	Reason       string
	Image        []string `json:",omitempty"`
}

// RecordMessage is the published summary of one physical record.
type RecordMessage struct {
	RunID       string
	Probe       string
	Time        string
	Particles   int
	Accepted    int
	TotalArea   int
	TBarElapsed float64
	MeanBar     float64
	StuckBit    bool
	Histogram   []int
}

type publication struct {
	topic   string
	message []byte
}

// Publisher publishes particle and record summaries on a ZMQ PUB socket from
// its own goroutine. Messages that find the queue full are dropped and counted.
type Publisher struct {
	RunID  string
	Images bool // include the ascii image of each particle

	queue     chan publication
	abort     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewPublisher binds a PUB socket to port on all interfaces.
func NewPublisher(port int, runID string) (*Publisher, error) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	hostname := fmt.Sprintf("tcp://*:%d", port)
	if err := pubSocket.Bind(hostname); err != nil {
		pubSocket.Close()
		return nil, fmt.Errorf("binding %s: %w", hostname, err)
	}
	p := &Publisher{
		RunID: runID,
		queue: make(chan publication, 1000),
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run(pubSocket)
	return p, nil
}

// run sends queued messages until abort is closed, then sends what is left.
func (p *Publisher) run(pubSocket *zmq.Socket) {
	defer close(p.done)
	defer pubSocket.Close()
	send := func(m publication) {
		if _, err := pubSocket.SendMessage(m.topic, m.message); err != nil {
			ProblemLogger.Printf("publisher: %v", err)
		}
	}
	for {
		select {
		case <-p.abort:
			for {
				select {
				case m := <-p.queue:
					send(m)
				default:
					return
				}
			}
		case m := <-p.queue:
			send(m)
		}
	}
}

func (p *Publisher) publish(topic string, v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case p.queue <- publication{topic: topic, message: msg}:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// Emit publishes a summary of particle pt.
func (p *Publisher) Emit(pt *Particle) error {
	m := ParticleMessage{
		RunID:        p.RunID,
		Probe:        pt.Probe,
		Channel:      pt.Channel.String(),
		ID:           pt.ID,
		Time:         pt.RecordTime.String(),
		TimeWord:     pt.TimeWord,
		Interarrival: pt.Interarrival,
		W:            pt.W,
		H:            pt.H,
		Area:         pt.Area,
		Bin:          pt.Bin,
		Reason:       pt.Reason.String(),
	}
	if p.Images {
		for _, s := range pt.Slices {
			m.Image = append(m.Image, s.String())
		}
	}
	return p.publish(TopicParticle, m)
}

// FlushRecord does nothing; the publisher keeps no records.
func (p *Publisher) FlushRecord() (*canon.Record, error) {
	return nil, nil
}

// WriteStats publishes a summary of one record.
func (p *Publisher) WriteStats(rs *RecordStats) error {
	return p.publish(TopicRecord, RecordMessage{
		RunID:       p.RunID,
		Probe:       rs.Probe,
		Time:        rs.Time.String(),
		Particles:   rs.Particles,
		Accepted:    rs.Accepted,
		TotalArea:   rs.TotalArea,
		TBarElapsed: rs.TBarElapsed,
		MeanBar:     rs.MeanBar,
		StuckBit:    rs.StuckBit,
		Histogram:   rs.Histogram,
	})
}

// Dropped returns the number of messages dropped because the queue was full.
func (p *Publisher) Dropped() int {
	return int(p.dropped.Load())
}

// Close sends the queued messages and closes the socket. Later calls do nothing.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.abort) })
	<-p.done
	return nil
}
