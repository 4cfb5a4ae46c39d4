package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// traceEncMode writes each event as one definite-length map with keys in
// canonical order. Timestamps keep nanoseconds and carry tag 0 so that
// readers never mistake them for plain strings.
var traceEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
		TimeTag:     cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace CBOR encoder mode: %v", err))
	}
	return em
}()

// FileLogger appends CBOR-encoded events to a writer, usually a trace file.
// It is safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	closer  io.Closer
	encoder *cbor.Encoder
	closed  bool
}

// NewFileLogger opens (or creates with mode 0600) the trace file at path
// and appends to it.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return NewStreamLogger(f), nil
}

// NewStreamLogger writes events to w. If w is an io.Closer, Close closes it.
func NewStreamLogger(w io.Writer) *FileLogger {
	l := &FileLogger{encoder: traceEncMode.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// Log writes an event. Encoding errors are dropped; tracing never disrupts
// a card session.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.encoder.Encode(event)
}

// Close closes the underlying file. Further Log calls are ignored.
// Safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// MultiLogger sends events to several loggers, e.g. console and file.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends the event to all configured loggers.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// RunLogger stamps every event with a run ID, the reader name and a
// timestamp before forwarding it.
type RunLogger struct {
	next   Logger
	runID  string
	reader string
	now    func() time.Time
}

// NewRunLogger wraps next. A nil next discards events.
func NewRunLogger(next Logger, runID, reader string) *RunLogger {
	return &RunLogger{next: OrNoop(next), runID: runID, reader: reader, now: time.Now}
}

// RunID returns the run identifier.
func (r *RunLogger) RunID() string {
	return r.runID
}

// Log fills missing identifiers and forwards the event.
func (r *RunLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if event.RunID == "" {
		event.RunID = r.runID
	}
	if event.Reader == "" {
		event.Reader = r.reader
	}
	r.next.Log(event)
}

// Compile-time interface satisfaction checks.
var (
	_ Logger = (*FileLogger)(nil)
	_ Logger = (*MultiLogger)(nil)
	_ Logger = (*RunLogger)(nil)
)
