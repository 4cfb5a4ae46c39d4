package pace

import (
	"context"

	"github.com/pace-tool/pace-go/pkg/apdu"
	"github.com/pace-tool/pace-go/pkg/log"
)

// RESET RETRY COUNTER parameters.
const (
	p1ChangeSecret  = 0x02
	p1UnblockSecret = 0x03
	p2PIN           = 0x03
)

// Administrator performs PIN management through an established session.
type Administrator interface {
	// ChangeSecret replaces the PIN with newValue. A nil newValue asks the
	// implementation to collect it.
	ChangeSecret(ctx context.Context, s *Session, newValue []byte) error

	// UnblockSecret resets the PIN retry counter.
	UnblockSecret(ctx context.Context, s *Session) error
}

// Admin issues RESET RETRY COUNTER commands.
type Admin struct {
	tx Transmitter
}

// NewAdmin creates an Admin sending through tx.
func NewAdmin(tx Transmitter) *Admin {
	return &Admin{tx: tx}
}

// ChangeSecret sends 00 2C 02 03 with the new PIN. The command body is
// kept out of the protocol trace.
func (a *Admin) ChangeSecret(ctx context.Context, s *Session, newValue []byte) error {
	const op = "change PIN"
	if len(newValue) == 0 {
		return NewError(op, CodeInvalidArguments, ErrNewSecretRequired)
	}

	cmd := &apdu.Command{
		INS:  apdu.InsResetRetryCounter,
		P1:   p1ChangeSecret,
		P2:   p2PIN,
		Data: append([]byte(nil), newValue...),
	}
	defer clear(cmd.Data)

	return a.send(log.WithRedactedFrames(ctx), op, s, cmd)
}

// UnblockSecret sends 00 2C 03 03.
func (a *Admin) UnblockSecret(ctx context.Context, s *Session) error {
	cmd := &apdu.Command{
		INS: apdu.InsResetRetryCounter,
		P1:  p1UnblockSecret,
		P2:  p2PIN,
	}
	return a.send(ctx, "unblock PIN", s, cmd)
}

func (a *Admin) send(ctx context.Context, op string, s *Session, cmd *apdu.Command) error {
	resp, err := a.tx.TransmitSecure(ctx, s, cmd)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return NewError(op, CodeCardCommandFailed, &StatusError{SW: resp.SW()})
	}
	return nil
}

var _ Administrator = (*Admin)(nil)
