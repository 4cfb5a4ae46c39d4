package apdu

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandCases(t *testing.T) {
	tests := []struct {
		name     string
		in       []byte
		data     []byte
		ne       int
		extended bool
	}{
		{"case1", []byte{0x00, 0xA4, 0x04, 0x0C}, nil, 0, false},
		{"case2 short", []byte{0x00, 0xB0, 0x00, 0x00, 0x10}, nil, 16, false},
		{"case2 short 256", []byte{0x00, 0xB0, 0x00, 0x00, 0x00}, nil, 256, false},
		{"case3 short", []byte{0x00, 0xA4, 0x02, 0x0C, 0x02, 0x01, 0x1C}, []byte{0x01, 0x1C}, 0, false},
		{"case4 short", []byte{0x00, 0xA4, 0x02, 0x00, 0x02, 0x01, 0x1C, 0x00}, []byte{0x01, 0x1C}, 256, false},
		{"case2 extended", []byte{0x00, 0xB0, 0x00, 0x00, 0x00, 0x01, 0x00}, nil, 256, true},
		{"case2 extended max", []byte{0x00, 0xB0, 0x00, 0x00, 0x00, 0x00, 0x00}, nil, 65536, true},
		{"case3 extended", []byte{0x00, 0xD6, 0x00, 0x00, 0x00, 0x00, 0x01, 0xAA}, []byte{0xAA}, 0, true},
		{"case4 extended", []byte{0x00, 0x2A, 0x9E, 0x9A, 0x00, 0x00, 0x01, 0xAA, 0x00, 0x00}, []byte{0xAA}, 65536, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.in[0], cmd.CLA)
			assert.Equal(t, Instruction(tt.in[1]), cmd.INS)
			assert.Equal(t, tt.data, cmd.Data)
			assert.Equal(t, tt.ne, cmd.Ne)
			assert.Equal(t, tt.extended, cmd.Extended)

			out, err := cmd.Bytes()
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	_, err := ParseCommand([]byte{0x00, 0xA4, 0x04})
	assert.ErrorIs(t, err, ErrTooShort)

	// Lc says 3 bytes but only 1 follows.
	_, err = ParseCommand([]byte{0x00, 0xA4, 0x04, 0x00, 0x03, 0x01})
	assert.ErrorIs(t, err, ErrInvalidCase)

	// Extended marker with truncated length.
	_, err = ParseCommand([]byte{0x00, 0xA4, 0x04, 0x00, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrInvalidCase)

	// Extended Lc of zero.
	_, err = ParseCommand([]byte{0x00, 0xA4, 0x04, 0x00, 0x00, 0x00, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrInvalidCase)
}

func TestCommandBytesPromotesToExtended(t *testing.T) {
	cmd := &Command{CLA: 0x00, INS: InsSelect, Data: bytes.Repeat([]byte{0x01}, 300)}
	out, err := cmd.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x2C}, out[4:7])
	assert.Len(t, out, 4+3+300)
}

func TestCommandBytesRejectsOversizedData(t *testing.T) {
	cmd := &Command{Data: make([]byte, MaxExtendedData+1)}
	_, err := cmd.Bytes()
	assert.ErrorIs(t, err, ErrDataTooLong)
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse([]byte{0x01, 0x02, 0x90, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp.Data)
	assert.Equal(t, uint16(0x9000), resp.SW())
	assert.True(t, resp.OK())
	assert.Equal(t, []byte{0x01, 0x02, 0x90, 0x00}, resp.Bytes())

	resp, err = ParseResponse([]byte{0x63, 0xC2})
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
	assert.False(t, resp.OK())

	_, err = ParseResponse([]byte{0x90})
	assert.ErrorIs(t, err, ErrNoStatusWord)
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex("00A4040C", BufferSize)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x0C}, b)

	b, err = DecodeHex("00 a4:04 0c\r", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x0C}, b)

	_, err = DecodeHex("00A", 0)
	assert.ErrorIs(t, err, ErrInvalidHex)

	_, err = DecodeHex("zz", 0)
	assert.ErrorIs(t, err, ErrInvalidHex)

	_, err = DecodeHex("000102", 2)
	assert.ErrorIs(t, err, ErrHexTooLong)
}

func TestDump(t *testing.T) {
	out := Dump("Decrypted R-APDU response data", []byte{0x90})
	assert.Contains(t, out, "Decrypted R-APDU response data (1 byte):\n")
	assert.Contains(t, out, "90")
}
