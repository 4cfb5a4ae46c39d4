package pcsc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebfe/scard"
	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/pace"
)

// Transport errors.
var (
	ErrNoReader     = errors.New("pcsc: no reader available")
	ErrNoCard       = errors.New("pcsc: no reader with a card")
	ErrReaderClosed = errors.New("pcsc: reader closed")
)

// cardHandle is the subset of *scard.Card used by Reader.
type cardHandle interface {
	Transmit(cmd []byte) ([]byte, error)
	Control(ioctl uint32, in []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

// Reader is a connected card.
type Reader struct {
	mu      sync.Mutex
	name    string
	card    cardHandle
	release func() error
	closed  bool

	trace  log.Logger
	logger *slog.Logger
}

// Connect establishes a PC/SC context and connects to the card in reader
// index. A negative index picks the first reader with a card present.
func Connect(index int, trace log.Logger, logger *slog.Logger) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, ErrNoReader
		}
		return nil, fmt.Errorf("list readers: %w", err)
	}

	name, err := selectReader(readers, index, func(reader string) bool {
		states := []scard.ReaderState{{Reader: reader, CurrentState: scard.StateUnaware}}
		if err := ctx.GetStatusChange(states, 0); err != nil {
			return false
		}
		return states[0].EventState&scard.StatePresent != 0
	})
	if err != nil {
		ctx.Release()
		return nil, err
	}

	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect to card in %q: %w", name, err)
	}

	r := newReader(name, card, ctx.Release, trace, logger)
	r.traceCard("CONNECTED")
	return r, nil
}

func newReader(name string, card cardHandle, release func() error, trace log.Logger, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		name:    name,
		card:    card,
		release: release,
		trace:   log.OrNoop(trace),
		logger:  logger,
	}
}

// selectReader returns readers[index], or the first reader with a card for a
// negative index.
func selectReader(readers []string, index int, present func(string) bool) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReader
	}
	if index >= 0 {
		if index >= len(readers) {
			return "", fmt.Errorf("%w: reader %d of %d", ErrNoReader, index, len(readers))
		}
		return readers[index], nil
	}
	for _, r := range readers {
		if present(r) {
			return r, nil
		}
	}
	return "", ErrNoCard
}

// Name returns the reader name.
func (r *Reader) Name() string {
	return r.name
}

// Transmit sends a raw APDU and returns the raw response. Under a context
// marked with log.WithRedactedFrames only the command header is traced.
func (r *Reader) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	const op = "transmit APDU"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, pace.NewError(op, pace.CodeReader, ErrReaderClosed)
	}

	out := log.NewFrame
	if log.RedactFrames(ctx) {
		out = log.NewRedactedFrame
	}
	r.traceFrame(log.DirectionOut, out(cmd))
	resp, err := r.card.Transmit(cmd)
	if err != nil {
		r.logger.Debug("transmit failed", "reader", r.name, "error", err)
		return nil, pace.NewError(op, pace.CodeReader, err)
	}
	r.traceFrame(log.DirectionIn, log.NewFrame(resp))
	return resp, nil
}

// control sends a reader control code. Payloads are not traced as they may
// carry secrets.
func (r *Reader) control(ioctl uint32, in []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrReaderClosed
	}
	return r.card.Control(ioctl, in)
}

// Close resets the card and releases the PC/SC context. Safe to call
// repeatedly.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.card.Disconnect(scard.ResetCard)
	if r.release != nil {
		if rerr := r.release(); err == nil {
			err = rerr
		}
	}
	r.traceCard("RESET")
	return err
}

func (r *Reader) traceFrame(dir log.Direction, frame *log.FrameEvent) {
	r.trace.Log(log.Event{
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryAPDU,
		Reader:    r.name,
		Frame:     frame,
	})
}

func (r *Reader) traceCard(state string) {
	r.trace.Log(log.Event{
		Layer:    log.LayerTransport,
		Category: log.CategoryState,
		Reader:   r.name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityCard,
			NewState: state,
		},
	})
}

var _ pace.Card = (*Reader)(nil)
