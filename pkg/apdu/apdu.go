// Package apdu encodes and decodes ISO/IEC 7816-4 command and response APDUs.
package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size limits.
const (
	// HeaderSize is CLA INS P1 P2.
	HeaderSize = 4

	// MaxShortData is the longest body of a short APDU.
	MaxShortData = 0xff

	// MaxExtendedData is the longest body of an extended APDU.
	MaxExtendedData = 0xffff

	// BufferSize holds any command or response: header, extended Lc,
	// body, extended Le (or status word) with room to spare.
	BufferSize = HeaderSize + 3 + MaxExtendedData + 3
)

// Instruction is an ISO 7816-4 instruction byte.
type Instruction byte

const (
	InsResetRetryCounter Instruction = 0x2C
	InsSelect            Instruction = 0xA4
)

// APDU errors.
var (
	ErrTooShort     = errors.New("apdu: too short")
	ErrInvalidCase  = errors.New("apdu: length fields do not match body")
	ErrDataTooLong  = errors.New("apdu: data too long")
	ErrNoStatusWord = errors.New("apdu: response lacks status word")
)

// Command is a command APDU.
type Command struct {
	CLA  byte
	INS  Instruction
	P1   byte
	P2   byte
	Data []byte

	// Ne is the maximum number of response bytes expected; 0 means none.
	Ne int

	// Extended forces extended length encoding.
	Extended bool
}

// ParseCommand decodes a command APDU in any of the seven ISO cases.
func ParseCommand(b []byte) (*Command, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}

	cmd := &Command{CLA: b[0], INS: Instruction(b[1]), P1: b[2], P2: b[3]}
	body := b[HeaderSize:]

	switch {
	case len(body) == 0:
		// case 1
		return cmd, nil

	case len(body) == 1:
		// case 2 short
		cmd.Ne = shortLe(body[0])
		return cmd, nil

	case body[0] != 0:
		lc := int(body[0])
		switch len(body) {
		case 1 + lc:
			// case 3 short
		case 1 + lc + 1:
			// case 4 short
			cmd.Ne = shortLe(body[len(body)-1])
		default:
			return nil, fmt.Errorf("%w: Lc=%d, %d body bytes", ErrInvalidCase, lc, len(body)-1)
		}
		cmd.Data = append([]byte(nil), body[1:1+lc]...)
		return cmd, nil
	}

	// Extended length: leading zero byte.
	if len(body) < 3 {
		return nil, fmt.Errorf("%w: truncated extended length", ErrInvalidCase)
	}
	cmd.Extended = true
	if len(body) == 3 {
		// case 2 extended
		cmd.Ne = extendedLe(body[1:3])
		return cmd, nil
	}

	lc := int(binary.BigEndian.Uint16(body[1:3]))
	if lc == 0 {
		return nil, fmt.Errorf("%w: extended Lc is zero", ErrInvalidCase)
	}
	switch len(body) {
	case 3 + lc:
		// case 3 extended
	case 3 + lc + 2:
		// case 4 extended
		cmd.Ne = extendedLe(body[len(body)-2:])
	default:
		return nil, fmt.Errorf("%w: Lc=%d, %d body bytes", ErrInvalidCase, lc, len(body)-3)
	}
	cmd.Data = append([]byte(nil), body[3:3+lc]...)
	return cmd, nil
}

func shortLe(b byte) int {
	if b == 0 {
		return 256
	}
	return int(b)
}

func extendedLe(b []byte) int {
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 {
		return 65536
	}
	return n
}

// IsExtended reports whether the command needs extended length fields.
func (c *Command) IsExtended() bool {
	return c.Extended || len(c.Data) > MaxShortData || c.Ne > 256
}

// Bytes encodes the command.
func (c *Command) Bytes() ([]byte, error) {
	if len(c.Data) > MaxExtendedData {
		return nil, fmt.Errorf("%w: %d bytes", ErrDataTooLong, len(c.Data))
	}
	if c.Ne < 0 || c.Ne > 65536 {
		return nil, fmt.Errorf("%w: Ne=%d", ErrInvalidCase, c.Ne)
	}

	out := make([]byte, 0, HeaderSize+3+len(c.Data)+3)
	out = append(out, c.CLA, byte(c.INS), c.P1, c.P2)

	if !c.IsExtended() {
		if len(c.Data) > 0 {
			out = append(out, byte(len(c.Data)))
			out = append(out, c.Data...)
		}
		if c.Ne > 0 {
			out = append(out, byte(c.Ne)) // 256 encodes as 0
		}
		return out, nil
	}

	if len(c.Data) > 0 {
		out = append(out, 0, byte(len(c.Data)>>8), byte(len(c.Data)))
		out = append(out, c.Data...)
		if c.Ne > 0 {
			out = append(out, byte(c.Ne>>8), byte(c.Ne)) // 65536 encodes as 0000
		}
		return out, nil
	}
	if c.Ne > 0 {
		out = append(out, 0, byte(c.Ne>>8), byte(c.Ne))
	}
	return out, nil
}

// Response is a response APDU.
type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

// Status words.
const (
	SWSuccess uint16 = 0x9000
)

// ParseResponse splits raw response bytes into body and status word.
func ParseResponse(b []byte) (*Response, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNoStatusWord, len(b))
	}
	n := len(b) - 2
	return &Response{
		Data: append([]byte(nil), b[:n]...),
		SW1:  b[n],
		SW2:  b[n+1],
	}, nil
}

// SW returns the status word.
func (r *Response) SW() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// OK reports whether the status word is 9000.
func (r *Response) OK() bool {
	return r.SW() == SWSuccess
}

// Bytes encodes the response body followed by the status word.
func (r *Response) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.SW1, r.SW2)
}
