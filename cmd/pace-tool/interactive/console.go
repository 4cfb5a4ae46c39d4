// Package interactive provides the terminal front end of pace-tool: the
// C-APDU prompt of the translate mode and hidden secret entry.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chzyer/readline"
)

// ErrInterrupted is returned when the user presses Ctrl-C at a prompt.
var ErrInterrupted = errors.New("interrupted")

// terminal is the subset of *readline.Instance used by Console.
type terminal interface {
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	Stdout() io.Writer
	Stderr() io.Writer
	Close() error
}

// Console reads C-APDU lines and secrets from the terminal.
type Console struct {
	rl terminal
}

// New creates a console on the process terminal.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "",
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that coordinates with the prompt.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// ReadLine returns the next typed line. Ctrl-D ends the input without a
// line, which is an error like a truncated file.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := c.rl.Readline()
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, readline.ErrInterrupt):
		return "", ErrInterrupted
	case errors.Is(err, io.EOF):
		return "", io.ErrUnexpectedEOF
	default:
		return "", err
	}
}

// Interactive reports true; a person is typing.
func (c *Console) Interactive() bool {
	return true
}

// ReadSecret reads a value without echo.
func (c *Console) ReadSecret(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := c.rl.ReadPassword(prompt)
	if errors.Is(err, readline.ErrInterrupt) {
		return nil, ErrInterrupted
	}
	return v, err
}

// Close restores the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}
