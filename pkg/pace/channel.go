package pace

import (
	"context"
	"fmt"

	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/secret"
)

// Size limits of the establishment input.
const (
	MaxCHAT     = 0xFF
	MaxCertDesc = 0xFFFF
)

// DefaultTRVersion is the TR-03110 version used when none is configured.
const DefaultTRVersion = 2

// ChannelRequest is the input to one channel establishment.
type ChannelRequest struct {
	// Secret selects the password. An interactive secret is collected by
	// the establisher or a Prompter.
	Secret secret.Secret

	// CHAT is the certificate holder authorization template. Optional.
	CHAT []byte

	// CertificateDescription is shown to the user by some readers. Optional.
	CertificateDescription []byte

	// TRVersion is the TR-03110 version, 1 or 2.
	TRVersion int
}

// Validate checks the size limits of the request.
func (r ChannelRequest) Validate() error {
	if !r.Secret.Kind().Valid() {
		return fmt.Errorf("%w: %d", secret.ErrUnknownKind, uint8(r.Secret.Kind()))
	}
	if len(r.CHAT) > MaxCHAT {
		return ErrCHATTooLong
	}
	if len(r.CertificateDescription) > MaxCertDesc {
		return ErrCertDescTooLong
	}
	return nil
}

// WithSecret returns a copy of r using s.
func (r ChannelRequest) WithSecret(s secret.Secret) ChannelRequest {
	r.Secret = s
	return r
}

// ChannelResult is the output of a successful establishment. It owns its
// Session and must be released exactly once, normally by a Lifecycle.
type ChannelResult struct {
	Session *Session

	// MSESetATStatus is the status word of MSE:Set AT.
	MSESetATStatus uint16

	EFCardAccess []byte
	RecentCAR    []byte
	PreviousCAR  []byte
	IDICC        []byte
	IDPCD        []byte
}

// Release releases the session and wipes the result buffers. Safe to call
// repeatedly and on nil.
func (r *ChannelResult) Release() {
	if r == nil {
		return
	}
	r.Session.Release()
	for _, b := range [][]byte{r.EFCardAccess, r.RecentCAR, r.PreviousCAR, r.IDICC, r.IDPCD} {
		clear(b)
	}
	r.EFCardAccess, r.RecentCAR, r.PreviousCAR, r.IDICC, r.IDPCD = nil, nil, nil, nil, nil
}

// Establisher runs the PACE key agreement.
type Establisher interface {
	// EstablishChannel runs PACE with req. When prior is non-nil the new
	// channel is established inside the secure messaging of prior.
	EstablishChannel(ctx context.Context, prior *Session, req ChannelRequest) (*ChannelResult, error)
}

// Channel establishes sessions and registers them with a Lifecycle.
type Channel struct {
	est   Establisher
	lc    *Lifecycle
	trace log.Logger
}

// NewChannel creates a channel. Every successful result is tracked by lc.
func NewChannel(est Establisher, lc *Lifecycle, trace log.Logger) *Channel {
	return &Channel{est: est, lc: lc, trace: log.OrNoop(trace)}
}

// Establish runs one establishment. Failures of the establisher are returned
// unchanged so their result code reaches the caller.
func (c *Channel) Establish(ctx context.Context, prior *Session, req ChannelRequest) (*ChannelResult, error) {
	op := "establish PACE channel with " + req.Secret.Kind().String()

	if err := req.Validate(); err != nil {
		return nil, NewError(op, CodeInvalidArguments, err)
	}
	if prior != nil && prior.Released() {
		return nil, NewError(op, CodeInternal, ErrSessionReleased)
	}

	res, err := c.est.EstablishChannel(ctx, prior, req)
	if err != nil {
		c.traceError(req.Secret.Kind(), op, err)
		return nil, err
	}
	if res == nil || res.Session == nil {
		res.Release()
		err := NewError(op, CodeInternal, ErrNoSession)
		c.traceError(req.Secret.Kind(), op, err)
		return nil, err
	}

	s := res.Session
	s.mu.Lock()
	s.onRelease = c.traceReleased
	s.mu.Unlock()
	c.lc.Track(res)

	reason := "direct"
	if prior != nil {
		reason = "chained on " + prior.ID()
	}
	c.trace.Log(log.Event{
		Layer:      log.LayerWorkflow,
		Category:   log.CategoryState,
		SessionID:  s.ID(),
		SecretKind: s.Kind().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			NewState: "ESTABLISHED",
			Reason:   reason,
		},
	})
	return res, nil
}

func (c *Channel) traceReleased(s *Session) {
	c.trace.Log(log.Event{
		Layer:      log.LayerWorkflow,
		Category:   log.CategoryState,
		SessionID:  s.ID(),
		SecretKind: s.Kind().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: "ESTABLISHED",
			NewState: "RELEASED",
		},
	})
}

func (c *Channel) traceError(kind secret.Kind, op string, err error) {
	code := Code(err)
	c.trace.Log(log.Event{
		Layer:      log.LayerWorkflow,
		Category:   log.CategoryError,
		SecretKind: kind.String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerWorkflow,
			Message: err.Error(),
			Code:    &code,
			Context: op,
		},
	})
}
