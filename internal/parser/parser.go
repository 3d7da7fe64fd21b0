// Package parser streams Apple Health export.xml files into normalized records.
package parser

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"watchdata/internal/catalog"
	"watchdata/internal/models"
)

const (
	// HighWater is the default number of queued events that pauses the producer.
	HighWater = 10
	// DefaultBufferSize is the read size of the underlying file reader.
	DefaultBufferSize = 64 * 1024
)

// ParseError is a fatal error for one file: malformed XML or an unreadable file.
type ParseError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: offset %d: %v", e.Path, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Callbacks receive parser output in document order, one call at a time.
// OnRecord and OnWarning may block; an error aborts the parse.
type Callbacks struct {
	OnChunk   func(bytes int)
	OnSeen    func(n int)
	OnRecord  func(ctx context.Context, rec *models.Record) error
	OnWarning func(ctx context.Context, w *models.Warning) error
}

// Parser reads export files using a metric catalog to classify records.
type Parser struct {
	catalog   *catalog.Catalog
	log       *logrus.Logger
	highWater int
	bufSize   int
}

// Option configures a Parser.
type Option func(*Parser)

// WithHighWater sets the queue depth at which the producer pauses.
func WithHighWater(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.highWater = n
		}
	}
}

// WithBufferSize sets the read buffer size.
func WithBufferSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// New creates a Parser.
func New(cat *catalog.Catalog, log *logrus.Logger, opts ...Option) *Parser {
	p := &Parser{
		catalog:   cat,
		log:       log,
		highWater: HighWater,
		bufSize:   DefaultBufferSize,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open starts parsing path in the background and returns the event stream.
// The caller must Close the stream.
func (p *Parser) Open(ctx context.Context, path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Offset: -1, Err: err}
	}
	return newStream(ctx, p, path, f), nil
}

// Parse streams path through cb and returns the number of parsed records.
// It returns once the file has been fully read and every event handled, or on
// the first error.
func (p *Parser) Parse(ctx context.Context, path string, cb Callbacks) (int, error) {
	s, err := p.Open(ctx, path)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	parsed := 0
	for {
		ev, ok := s.Next()
		if !ok {
			break
		}
		if ev.Seen > 0 && cb.OnSeen != nil {
			cb.OnSeen(ev.Seen)
		}

		switch ev.Kind {
		case EventChunk:
			if cb.OnChunk != nil {
				cb.OnChunk(ev.Bytes)
			}
		case EventRecord:
			parsed++
			if cb.OnRecord != nil {
				if err := cb.OnRecord(ctx, ev.Record); err != nil {
					return parsed, err
				}
			}
		case EventWarning:
			if cb.OnWarning != nil {
				if err := cb.OnWarning(ctx, ev.Warning); err != nil {
					return parsed, err
				}
			}
		}
	}

	if err := s.Err(); err != nil {
		return parsed, err
	}
	p.log.WithFields(logrus.Fields{"path": path, "parsed": parsed, "pauses": s.Stats().Pauses}).Debug("file parsed")
	return parsed, nil
}
