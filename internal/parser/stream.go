package parser

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"watchdata/internal/catalog"
	"watchdata/internal/metrics"
	"watchdata/internal/models"
)

// EventKind identifies what a stream event carries.
type EventKind int

const (
	EventChunk EventKind = iota + 1
	EventRecord
	EventWarning
	EventSeen
)

// Event is one item produced by the parser, in document order.
// Seen is the number of Record elements encountered since the previous event.
type Event struct {
	Kind    EventKind
	Bytes   int
	Seen    int
	Record  *models.Record
	Warning *models.Warning
}

// StreamStats reports backpressure activity of a stream.
type StreamStats struct {
	Pauses   int64
	MaxDepth int64
}

// Stream is a pull-based view over a file being parsed in a producer goroutine.
// The producer stops once HighWater events are queued and resumes when the
// consumer drains the queue below half of that.
type Stream struct {
	path      string
	events    chan Event
	resume    chan struct{}
	paused    atomic.Bool
	highWater int
	lowWater  int
	cancel    context.CancelFunc
	log       *logrus.Entry

	catalog     *catalog.Catalog
	pendingSeen int
	reads       []int

	pauses   atomic.Int64
	maxDepth atomic.Int64

	// err is written by the producer before events is closed.
	err error
}

func newStream(ctx context.Context, p *Parser, path string, f *os.File) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		path:      path,
		events:    make(chan Event, p.highWater),
		resume:    make(chan struct{}, 1),
		highWater: p.highWater,
		lowWater:  max(p.highWater/2, 1),
		cancel:    cancel,
		log:       p.log.WithField("path", path),
		catalog:   p.catalog,
	}
	go func() {
		defer close(s.events)
		defer f.Close()
		s.err = s.produce(ctx, f, p.bufSize)
		metrics.ParserQueueDepth.Set(0)
	}()
	return s
}

// Next blocks until the next event is available. It returns false once the
// producer has finished; Err then reports why.
func (s *Stream) Next() (Event, bool) {
	ev, ok := <-s.events
	if !ok {
		return Event{}, false
	}
	depth := len(s.events)
	metrics.ParserQueueDepth.Set(float64(depth))
	if depth < s.lowWater && s.paused.CompareAndSwap(true, false) {
		s.log.WithField("depth", depth).Debug("resuming parser")
		select {
		case s.resume <- struct{}{}:
		default:
		}
	}
	return ev, true
}

// Err returns the producer error, if any. Valid after Next returned false.
func (s *Stream) Err() error {
	return s.err
}

// Stats returns backpressure counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{Pauses: s.pauses.Load(), MaxDepth: s.maxDepth.Load()}
}

// Close stops the producer and waits for it to exit.
func (s *Stream) Close() error {
	s.cancel()
	for range s.events {
	}
	return nil
}

func (s *Stream) produce(ctx context.Context, r io.Reader, bufSize int) error {
	cr := &countingReader{r: r, reads: &s.reads}
	// Invalid UTF-8 becomes U+FFFD instead of failing the whole file.
	utf8r := transform.NewReader(cr, unicode.UTF8.NewDecoder())
	dec := xml.NewDecoder(bufio.NewReaderSize(utf8r, bufSize))

	for {
		tok, err := dec.Token()
		for _, n := range s.reads {
			if !s.emit(ctx, Event{Kind: EventChunk, Bytes: n}) {
				return ctx.Err()
			}
		}
		s.reads = s.reads[:0]

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ParseError{Path: s.path, Offset: dec.InputOffset(), Err: err}
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Record" {
			continue
		}
		s.pendingSeen++

		attrs := make(map[string]string, len(se.Attr))
		for _, a := range se.Attr {
			attrs[a.Name.Local] = a.Value
		}
		metric, ok := s.catalog.BySourceType(attrs["type"])
		if !ok {
			continue
		}

		rec, warn := normalizeRecord(attrs, metric)
		ev := Event{Kind: EventRecord, Record: rec}
		if warn != nil {
			ev = Event{Kind: EventWarning, Warning: warn}
		}
		if !s.emit(ctx, ev) {
			return ctx.Err()
		}
	}

	if s.pendingSeen > 0 && !s.emit(ctx, Event{Kind: EventSeen}) {
		return ctx.Err()
	}
	return nil
}

// emit queues ev, waiting for the consumer when the queue is at high water.
func (s *Stream) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	ev.Seen, s.pendingSeen = s.pendingSeen, 0

	if len(s.events) >= s.highWater {
		s.paused.Store(true)
		s.pauses.Add(1)
		metrics.ParserPauses.Inc()
		s.log.WithField("depth", len(s.events)).Debug("pausing parser")
		// The consumer may already have drained below low water.
		if len(s.events) >= s.lowWater || !s.paused.CompareAndSwap(true, false) {
			select {
			case <-s.resume:
			case <-ctx.Done():
				return false
			}
		}
	}

	select {
	case s.events <- ev:
	case <-ctx.Done():
		return false
	}

	depth := int64(len(s.events))
	metrics.ParserQueueDepth.Set(float64(depth))
	for {
		cur := s.maxDepth.Load()
		if depth <= cur || s.maxDepth.CompareAndSwap(cur, depth) {
			break
		}
	}
	return true
}

// countingReader records the size of every successful read.
type countingReader struct {
	r     io.Reader
	reads *[]int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		*c.reads = append(*c.reads, n)
	}
	return n, err
}
