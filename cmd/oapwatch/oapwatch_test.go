package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/airborne-oap/oap"
	"github.com/airborne-oap/oap/codec"
	"github.com/airborne-oap/oap/framer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle(t *testing.T) {
	var out bytes.Buffer
	w := &watcher{out: &out, ascii: true}
	require.NoError(t, w.handle([]string{oap.TopicParticle,
		`{"RunID":"R1","Probe":"C4","ID":7,"Time":"12:00:00.000","W":2,"H":3,"Area":5,"Bin":3,"Reason":"accepted","Image":["..**","..*."]}`}))
	require.NoError(t, w.handle([]string{oap.TopicRecord,
		`{"RunID":"R1","Probe":"C4","Time":"12:00:01.000","Particles":4,"Accepted":3,"TotalArea":40,"TBarElapsed":0.5,"StuckBit":true}`}))
	require.NoError(t, w.handle([]string{"OTHER", "body"}))
	assert.Equal(t, 3, w.nmsg)
	assert.Equal(t, "R1 particle C4 id=7 t=12:00:00.000 w=2 h=3 a=5 bin=3 accepted\n..**\n..*.\n"+
		"R1 record C4 12:00:01.000 particles=4 accepted=3 area=40 tbar=0.5s STUCK BIT\n"+
		"frame 0: [OTHER] frame 1: [body]\n", out.String())

	assert.Error(t, w.handle([]string{oap.TopicRecord}))
	assert.Error(t, w.handle([]string{oap.TopicParticle, "{"}))
}

func TestWatch(t *testing.T) {
	port := oap.Ports.Publish + 23
	pub, err := oap.NewPublisher(port, "01WATCH")
	require.NoError(t, err)
	defer pub.Close()

	sub, err := subscribe("localhost", port, []string{oap.TopicRecord})
	require.NoError(t, err)
	defer sub.Close()
	// Give the subscription time to reach the publisher.
	time.Sleep(300 * time.Millisecond)

	d := oap.StandardProbes["C4"]
	p := oap.NewParticle(d, oap.Horizontal)
	b := codec.NewBitmap(64)
	b.SetRun(5, 3)
	p.AddSlice(b)
	require.NoError(t, pub.Emit(p))
	ts := framer.Timestamp{Year: 2023, Month: 5, Day: 6, Hour: 7}
	for i := 0; i < 2; i++ {
		require.NoError(t, pub.WriteStats(&oap.RecordStats{Probe: "C4", Time: ts, Particles: i + 1}))
	}

	var out bytes.Buffer
	w := &watcher{out: &out}
	done := make(chan error, 1)
	go func() { done <- w.watch(sub, 2, make(chan struct{})) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not receive 2 messages")
	}
	assert.Equal(t, 2, w.nmsg)
	assert.NotContains(t, out.String(), "particle", "PARTICLE topic not subscribed")
	assert.Contains(t, out.String(), "01WATCH record C4")
	assert.Contains(t, out.String(), "particles=2")

	abort := make(chan struct{})
	close(abort)
	assert.NoError(t, w.watch(sub, 0, abort))
}
