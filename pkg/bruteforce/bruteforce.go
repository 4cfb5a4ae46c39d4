// Package bruteforce recovers a numeric PACE secret by trying every
// candidate of its width in increasing order.
package bruteforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/secret"
)

// ErrExhausted is returned when every candidate of the width failed.
var ErrExhausted = errors.New("bruteforce: candidates exhausted")

// Establisher runs one channel establishment. *pace.Channel satisfies it.
type Establisher interface {
	Establish(ctx context.Context, prior *pace.Session, req pace.ChannelRequest) (*pace.ChannelResult, error)
}

// Result describes one recovery run. It is returned on failure too so the
// caller can report the elapsed time.
type Result struct {
	Kind     secret.Kind
	Value    string
	Attempts uint64
	Elapsed  time.Duration

	// Channel is the session established with Value; nil on failure.
	Channel *pace.ChannelResult
}

// Recoverer tries candidates against the card.
type Recoverer struct {
	est  Establisher
	base pace.ChannelRequest
	out  io.Writer
	now  func() time.Time
}

// New creates a Recoverer. base carries CHAT, certificate description and
// protocol revision; its secret is replaced by each candidate. Progress
// lines are written to out.
func New(est Establisher, base pace.ChannelRequest, out io.Writer) *Recoverer {
	if out == nil {
		out = io.Discard
	}
	return &Recoverer{est: est, base: base, out: out, now: time.Now}
}

// Recover tries kind candidates from start upwards until one establishes a
// channel. The largest candidate of the width is tried before giving up.
func (r *Recoverer) Recover(ctx context.Context, kind secret.Kind, start uint64) (*Result, error) {
	width, err := kind.Width()
	if err != nil {
		return nil, pace.NewError("break "+kind.String(), pace.CodeInvalidArguments, err)
	}

	res := &Result{Kind: kind}
	began := r.now()
	defer func() { res.Elapsed = r.now().Sub(began) }()

	var lastErr error
	for counter := start; ; counter++ {
		candidate := fmt.Sprintf("%0*d", width, counter)
		if len(candidate) > width {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		fmt.Fprintf(r.out, "Trying %s=%s\n", kind, candidate)
		res.Attempts++

		ch, err := r.est.Establish(ctx, nil, r.base.WithSecret(secret.New(kind, candidate)))
		if err == nil {
			res.Value = candidate
			res.Channel = ch
			return res, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		return res, pace.NewError("break "+kind.String(), pace.CodeInvalidArguments,
			fmt.Errorf("%w: start %d exceeds %d digits", ErrExhausted, start, width))
	}
	return res, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}
