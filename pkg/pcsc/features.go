package pcsc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PC/SC part 10 feature tags.
const (
	FeatureVerifyPINDirect byte = 0x06
	FeatureModifyPINDirect byte = 0x07
	FeatureExecutePACE     byte = 0x20
)

// getFeatureRequest is CM_IOCTL_GET_FEATURE_REQUEST.
const getFeatureRequest = 3400

// ErrMalformedFeatures is returned for an unparsable feature list.
var ErrMalformedFeatures = errors.New("pcsc: malformed feature list")

// Features maps feature tags to their control codes.
type Features map[byte]uint32

// parseFeatures decodes the TLV list returned by GET_FEATURE_REQUEST. Each
// entry is tag(1) length(1)=4 value(4, big endian).
func parseFeatures(b []byte) (Features, error) {
	f := make(Features)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFeatures, len(b))
		}
		tag, n := b[0], int(b[1])
		if n != 4 || len(b) < 2+n {
			return nil, fmt.Errorf("%w: tag %02X length %d", ErrMalformedFeatures, tag, n)
		}
		f[tag] = binary.BigEndian.Uint32(b[2 : 2+n])
		b = b[2+n:]
	}
	return f, nil
}

// Features queries the reader's PC/SC part 10 features.
func (r *Reader) Features() (Features, error) {
	out, err := r.control(ctlCode(getFeatureRequest), nil)
	if err != nil {
		return nil, fmt.Errorf("get feature request: %w", err)
	}
	return parseFeatures(out)
}
