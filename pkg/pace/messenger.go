package pace

import (
	"context"
	"errors"

	"github.com/pace-tool/pace-go/pkg/apdu"
)

// Card transmits raw APDUs.
type Card interface {
	Transmit(ctx context.Context, cmd []byte) ([]byte, error)
}

// Transmitter sends plaintext commands through an established session.
type Transmitter interface {
	TransmitSecure(ctx context.Context, s *Session, cmd *apdu.Command) (*apdu.Response, error)
}

// Messenger applies a session's secure messaging around a Card.
type Messenger struct {
	card Card
}

// NewMessenger creates a messenger for card.
func NewMessenger(card Card) *Messenger {
	return &Messenger{card: card}
}

// TransmitSecure wraps cmd, sends it and unwraps the response.
func (m *Messenger) TransmitSecure(ctx context.Context, s *Session, cmd *apdu.Command) (*apdu.Response, error) {
	const op = "transmit secure APDU"

	c, err := s.activeCipher()
	if err != nil {
		return nil, NewError(op, CodeInternal, err)
	}

	wrapped, err := c.Wrap(cmd)
	if err != nil {
		return nil, NewError(op, CodeSecureMessaging, err)
	}

	raw, err := m.card.Transmit(ctx, wrapped)
	if err != nil {
		var pe *Error
		if isCanceled(err) || errors.As(err, &pe) {
			return nil, err
		}
		return nil, NewError(op, CodeReader, err)
	}

	resp, err := c.Unwrap(raw)
	if err != nil {
		return nil, NewError(op, CodeSecureMessaging, err)
	}
	return resp, nil
}

var _ Transmitter = (*Messenger)(nil)
