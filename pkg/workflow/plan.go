package workflow

import (
	"errors"
	"fmt"

	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/secret"
)

// ErrNoModeSelected is returned for a plan that would do nothing.
var ErrNoModeSelected = errors.New("workflow: nothing to do")

// Plan is the fully resolved input of one run. Resolution happens before the
// card is touched so configuration errors never cost a retry counter.
type Plan struct {
	Mode Mode

	// Secrets lists the channel secrets in establishment order. Empty for
	// ModeBreak.
	Secrets []secret.Secret

	// BreakKind and BreakStart configure ModeBreak.
	BreakKind  secret.Kind
	BreakStart uint64

	// NewPIN is the replacement PIN for ModeChange. Nil asks the
	// administrator to collect it.
	NewPIN []byte

	// Translate relays APDUs through the final session.
	Translate bool

	// Base carries CHAT, certificate description and protocol revision for
	// every establishment.
	Base pace.ChannelRequest
}

// NewPlan resolves the secrets mode needs from sel.
func NewPlan(mode Mode, sel *secret.Selector, base pace.ChannelRequest) (*Plan, error) {
	p := &Plan{Mode: mode, Base: base}

	switch mode {
	case ModeDirect:
		s, err := sel.Select()
		if err != nil {
			return nil, err
		}
		p.Secrets = []secret.Secret{s}
	case ModeResume:
		p.Secrets = []secret.Secret{sel.For(secret.KindCAN), sel.For(secret.KindPIN)}
	case ModeUnblock:
		p.Secrets = []secret.Secret{sel.For(secret.KindPUK)}
	case ModeChange:
		p.Secrets = []secret.Secret{sel.For(secret.KindPIN)}
	case ModeBreak:
		kind, start, err := sel.Breakable()
		if err != nil {
			return nil, err
		}
		p.BreakKind, p.BreakStart = kind, start
	default:
		return nil, fmt.Errorf("%w: mode %d", ErrNoModeSelected, uint8(mode))
	}
	return p, nil
}

// request builds the establishment input for s.
func (p *Plan) request(s secret.Secret) pace.ChannelRequest {
	return p.Base.WithSecret(s)
}
