package apdu

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Hex errors.
var (
	ErrInvalidHex = errors.New("invalid hex string")
	ErrHexTooLong = errors.New("hex string exceeds buffer")
)

// hexSeparators may appear between byte pairs.
var hexSeparators = strings.NewReplacer(" ", "", ":", "", "\t", "", "\r", "")

// DecodeHex decodes a hex byte string such as "00 A4 04 0C" or
// "00:a4:04:0c". The result must fit into max bytes; max <= 0 means no limit.
func DecodeHex(text string, max int) ([]byte, error) {
	clean := hexSeparators.Replace(text)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of digits", ErrInvalidHex)
	}
	if max > 0 && len(clean)/2 > max {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrHexTooLong, len(clean)/2, max)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// Dump writes a labelled hex dump line block, e.g.
//
//	Decrypted R-APDU response data (2 bytes):
//	00000000  90 00                                             |..|
func Dump(label string, data []byte) string {
	return fmt.Sprintf("%s (%d byte%s):\n%s", label, len(data), plural(len(data)), hex.Dump(data))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
