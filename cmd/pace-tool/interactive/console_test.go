package interactive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/relay"
)

type stubTerminal struct {
	mock.Mock
	out bytes.Buffer
}

func (s *stubTerminal) Readline() (string, error) {
	args := s.Called()
	return args.String(0), args.Error(1)
}

func (s *stubTerminal) ReadPassword(prompt string) ([]byte, error) {
	args := s.Called(prompt)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (s *stubTerminal) Stdout() io.Writer { return &s.out }
func (s *stubTerminal) Stderr() io.Writer { return &s.out }
func (s *stubTerminal) Close() error      { return s.Called().Error(0) }

var (
	_ relay.LineReader = (*Console)(nil)
	_ pace.Prompter    = (*Console)(nil)
)

func TestConsoleReadLine(t *testing.T) {
	term := &stubTerminal{}
	term.On("Readline").Return("00A4040C", nil).Once()
	c := &Console{rl: term}

	line, err := c.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00A4040C", line)
	assert.True(t, c.Interactive())
}

func TestConsoleReadLineEnd(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"eof", io.EOF, io.ErrUnexpectedEOF},
		{"interrupt", readline.ErrInterrupt, ErrInterrupted},
		{"other", errors.New("tty gone"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := &stubTerminal{}
			term.On("Readline").Return("", tt.err)
			c := &Console{rl: term}

			_, err := c.ReadLine(context.Background())
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestConsoleReadLineCanceled(t *testing.T) {
	term := &stubTerminal{}
	c := &Console{rl: term}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ReadLine(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	term.AssertNotCalled(t, "Readline")
}

func TestConsoleReadSecret(t *testing.T) {
	term := &stubTerminal{}
	term.On("ReadPassword", "Enter PIN: ").Return([]byte("123456"), nil)
	c := &Console{rl: term}

	v, err := c.ReadSecret(context.Background(), "Enter PIN: ")
	require.NoError(t, err)
	assert.Equal(t, []byte("123456"), v)
	term.AssertExpectations(t)
}

func TestConsoleReadSecretInterrupted(t *testing.T) {
	term := &stubTerminal{}
	term.On("ReadPassword", mock.Anything).Return(nil, readline.ErrInterrupt)
	c := &Console{rl: term}

	_, err := c.ReadSecret(context.Background(), "Enter CAN: ")
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestConsoleWritersGoThroughTerminal(t *testing.T) {
	term := &stubTerminal{}
	c := &Console{rl: term}

	_, _ = io.WriteString(c.Stdout(), "R-APDU> 9000\n")
	_, _ = io.WriteString(c.Stderr(), "warning\n")
	assert.Equal(t, "R-APDU> 9000\nwarning\n", term.out.String())
}
