// Package gnss reads NMEA 0183 sentences from a receiver on a serial line
// and publishes them as nav_sat_fix and heading messages.
package gnss

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/roadway/internal/bus"
	"github.com/banshee-data/roadway/internal/messages"
	"github.com/banshee-data/roadway/internal/monitoring"
	"github.com/banshee-data/roadway/internal/timeutil"
)

var logf = monitoring.Component("GNSS")

// Port is the subset of a serial port the reader needs.
type Port interface {
	io.Reader
	io.Closer
}

// PortOpener opens a receiver port; serial.Open in production.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerial opens path with go.bug.st/serial.
func OpenSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Stats counts sentences by outcome.
type Stats struct {
	Fixes       uint64 `json:"fixes"`
	Headings    uint64 `json:"headings"`
	Unsupported uint64 `json:"unsupported"`
	Errors      uint64 `json:"errors"`
}

// Reader turns NMEA lines into bus messages.
type Reader struct {
	port  Port
	pub   bus.Publisher
	clock timeutil.Clock

	fixes, headings, unsupported, errs atomic.Uint64

	closeOnce sync.Once
}

// NewReader wraps an already open port.
func NewReader(port Port, pub bus.Publisher, clock timeutil.Clock) *Reader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reader{port: port, pub: pub, clock: clock}
}

// Open opens the receiver at path with opts.
func Open(open PortOpener, path string, opts PortOptions, pub bus.Publisher, clock timeutil.Clock) (*Reader, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	logf("opened %s at %d baud", path, mode.BaudRate)
	return NewReader(port, pub, clock), nil
}

// Run reads until ctx is cancelled or the port reaches EOF. Cancelling ctx
// closes the port to unblock the pending read. Malformed sentences are
// counted and skipped.
func (r *Reader) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	scanner := bufio.NewScanner(r.port)
	for scanner.Scan() {
		r.handleLine(scanner.Text())
	}
	err := scanner.Err()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read failed: %w", err)
	}
	return nil
}

func (r *Reader) handleLine(line string) {
	if line == "" {
		return
	}
	s, err := ParseSentence(line)
	if err != nil {
		r.errs.Add(1)
		logf("discarding line: %v", err)
		return
	}
	payload, err := Decode(s, r.clock.Now())
	if errors.Is(err, ErrUnsupported) {
		r.unsupported.Add(1)
		return
	}
	if err != nil {
		r.errs.Add(1)
		logf("discarding %s%s: %v", s.Talker, s.Type, err)
		return
	}

	var topic string
	switch payload.(type) {
	case *messages.NavSatFix:
		topic = messages.TopicNavSatFix
		r.fixes.Add(1)
	case *messages.HeadingStamped:
		topic = messages.TopicHeading
		r.headings.Add(1)
	}
	if err := r.pub.Publish(topic, payload); err != nil {
		logf("publish %s failed: %v", topic, err)
	}
}

// Close closes the port. Safe to call more than once.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() { err = r.port.Close() })
	return err
}

func (r *Reader) Stats() Stats {
	return Stats{
		Fixes:       r.fixes.Load(),
		Headings:    r.headings.Load(),
		Unsupported: r.unsupported.Load(),
		Errors:      r.errs.Load(),
	}
}
