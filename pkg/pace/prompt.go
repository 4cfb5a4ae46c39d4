package pace

import (
	"bytes"
	"context"

	"github.com/pace-tool/pace-go/pkg/secret"
)

// Prompter collects a secret from the user.
type Prompter interface {
	ReadSecret(ctx context.Context, prompt string) ([]byte, error)
}

// PromptingEstablisher fills in interactive secrets before delegating.
type PromptingEstablisher struct {
	Establisher
	prompter Prompter
}

// WithPrompter wraps est so interactive secrets are read from p.
func WithPrompter(est Establisher, p Prompter) *PromptingEstablisher {
	return &PromptingEstablisher{Establisher: est, prompter: p}
}

// EstablishChannel prompts for an interactive secret, then delegates.
func (e *PromptingEstablisher) EstablishChannel(ctx context.Context, prior *Session, req ChannelRequest) (*ChannelResult, error) {
	if req.Secret.IsInteractive() {
		kind := req.Secret.Kind()
		v, err := e.prompter.ReadSecret(ctx, "Enter "+kind.String()+": ")
		if err != nil {
			return nil, NewError("read "+kind.String(), CodeInternal, err)
		}
		req = req.WithSecret(secret.FromBytes(kind, v))
		clear(v)
	}
	return e.Establisher.EstablishChannel(ctx, prior, req)
}

// PromptingAdministrator asks for a new PIN twice when none was given.
type PromptingAdministrator struct {
	Administrator
	prompter Prompter
}

// AdminWithPrompter wraps adm so a missing new PIN is read from p.
func AdminWithPrompter(adm Administrator, p Prompter) *PromptingAdministrator {
	return &PromptingAdministrator{Administrator: adm, prompter: p}
}

// ChangeSecret prompts for the new PIN when newValue is empty.
func (a *PromptingAdministrator) ChangeSecret(ctx context.Context, s *Session, newValue []byte) error {
	if len(newValue) > 0 {
		return a.Administrator.ChangeSecret(ctx, s, newValue)
	}

	const op = "read new PIN"
	first, err := a.prompter.ReadSecret(ctx, "Enter new PIN: ")
	if err != nil {
		return NewError(op, CodeInternal, err)
	}
	defer clear(first)

	second, err := a.prompter.ReadSecret(ctx, "Repeat new PIN: ")
	if err != nil {
		return NewError(op, CodeInternal, err)
	}
	defer clear(second)

	if !bytes.Equal(first, second) {
		return NewError(op, CodeInvalidArguments, ErrSecretMismatch)
	}
	return a.Administrator.ChangeSecret(ctx, s, first)
}
