// Package asyncbufio moves buffered file writes onto a goroutine, so the
// decode loop hands off output without waiting on the disk.
package asyncbufio

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// Writer provides asynchronous writing to an underlying io.Writer using buffered channels.
type Writer struct {
	writer        *bufio.Writer // Buffered writer: this does the writing
	flushNow      chan struct{} // Channel to signal the underlying writer to flush itself
	flushComplete chan struct{} // Channel to signal underlying writer flush is complete
	datachannel   chan []byte   // Channel to hold data before writing it
	flushInterval time.Duration // Interval for flushing the writer periodically
	blocking      bool          // Write waits for room instead of failing

	mu      sync.Mutex
	err     error // first error from the underlying writer
	written int64 // bytes handed to the underlying writer
	dropped int   // writes refused because the channel was full
}

// NewWriter creates a new Writer. When the channel holds channelDepth pending
// writes, further writes fail with io.ErrShortWrite.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	return newWriter(w, 4096, channelDepth, flushInterval, false)
}

// NewBlockingWriter creates a Writer whose Write waits for channel space rather
// than dropping data. bufsize sets the size of the underlying bufio.Writer.
func NewBlockingWriter(w io.Writer, bufsize, channelDepth int, flushInterval time.Duration) *Writer {
	return newWriter(w, bufsize, channelDepth, flushInterval, true)
}

func newWriter(w io.Writer, bufsize, channelDepth int, flushInterval time.Duration, blocking bool) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriterSize(w, bufsize),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
		blocking:      blocking,
	}
	go aw.writeLoop()
	return aw
}

// Write queues a copy of p for writing. It returns the first error seen by the
// underlying writer, if any.
func (aw *Writer) Write(p []byte) (int, error) {
	if err := aw.Err(); err != nil {
		return 0, err
	}
	data := append([]byte(nil), p...)
	if aw.blocking {
		aw.datachannel <- data
		return len(p), nil
	}
	select {
	case aw.datachannel <- data:
		return len(p), nil
	default:
		aw.mu.Lock()
		aw.dropped++
		aw.mu.Unlock()
		return 0, io.ErrShortWrite
	}
}

// WriteString queues a string for writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Flush writes everything queued so far to the underlying writer.
// Blocks until the flush is complete.
func (aw *Writer) Flush() error {
	aw.flushNow <- struct{}{}
	<-aw.flushComplete
	return aw.Err()
}

// Close flushes remaining data and waits for the writeLoop to finish. It does
// not close the underlying writer. Calling Write, Flush or Close after Close panics.
func (aw *Writer) Close() error {
	close(aw.flushNow) // Closing the flushNow channel signals the writeLoop to exit
	<-aw.flushComplete
	return aw.Err()
}

// Err returns the first error from the underlying writer.
func (aw *Writer) Err() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.err
}

// Written returns the number of bytes accepted by the underlying writer.
func (aw *Writer) Written() int64 {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.written
}

// Dropped returns how many writes were refused because the channel was full.
func (aw *Writer) Dropped() int {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.dropped
}

// writeLoop is a goroutine that continuously moves data from the channel to the writer.
func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)

		case _, ok := <-aw.flushNow:
			aw.flush()
			aw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) write(data []byte) {
	n, err := aw.writer.Write(data)
	aw.mu.Lock()
	aw.written += int64(n)
	if err != nil && aw.err == nil {
		aw.err = err
	}
	aw.mu.Unlock()
}

// flush empties the data channel, then flushes the bufio.Writer.
func (aw *Writer) flush() {
	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)
		default:
			if err := aw.writer.Flush(); err != nil {
				aw.mu.Lock()
				if aw.err == nil {
					aw.err = err
				}
				aw.mu.Unlock()
			}
			return
		}
	}
}
