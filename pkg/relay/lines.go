package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnterminatedLine is returned when the input ends inside a line.
var ErrUnterminatedLine = errors.New("relay: input ended without newline")

// LineReader is a source of C-APDU lines.
type LineReader interface {
	// ReadLine returns the next line without its terminator. Any end of
	// input is an error, including a final line without newline.
	ReadLine(ctx context.Context) (string, error)

	// Interactive reports whether a person is typing the lines.
	Interactive() bool
}

// StreamReader reads lines from a file or pipe.
type StreamReader struct {
	r           *bufio.Reader
	interactive bool
}

// NewLineReader reads lines from r.
func NewLineReader(r io.Reader, interactive bool) *StreamReader {
	return &StreamReader{r: bufio.NewReaderSize(r, 2*64*1024), interactive: interactive}
}

// ReadLine returns the next newline-terminated line.
func (s *StreamReader) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line != "" {
				return "", fmt.Errorf("%w: %d bytes pending", ErrUnterminatedLine, len(line))
			}
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Interactive reports whether the reader was created for a terminal.
func (s *StreamReader) Interactive() bool {
	return s.interactive
}
