package secret

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a PACE password. Values match the PinID used on the wire.
type Kind uint8

const (
	// KindMRZ is the secret derived from the machine-readable zone.
	KindMRZ Kind = 1

	// KindCAN is the card access number.
	KindCAN Kind = 2

	// KindPIN is the holder PIN.
	KindPIN Kind = 3

	// KindPUK is the personal unblocking key.
	KindPUK Kind = 4
)

// Brute-force widths in decimal digits.
const (
	// PINWidth is the number of digits of a PIN candidate.
	PINWidth = 6

	// CANWidth is the number of digits of a CAN candidate.
	CANWidth = 6

	// PUKWidth is the number of digits of a PUK candidate.
	PUKWidth = 10
)

// Secret errors.
var (
	ErrUnknownKind        = errors.New("unknown secret kind")
	ErrNotBreakable       = errors.New("secret kind cannot be brute forced")
	ErrNoSecretSelected   = errors.New("no secret kind selected")
	ErrConflictingSecrets = errors.New("more than one secret kind selected")
	ErrNotNumeric         = errors.New("secret is not an unsigned number")
)

// String returns the kind name as printed in progress lines.
func (k Kind) String() string {
	switch k {
	case KindMRZ:
		return "MRZ"
	case KindCAN:
		return "CAN"
	case KindPIN:
		return "PIN"
	case KindPUK:
		return "PUK"
	default:
		return "UNKNOWN"
	}
}

// Env returns the environment variable consulted when the kind was
// requested without a value.
func (k Kind) Env() string {
	return k.String()
}

// Valid reports whether k is one of the four PACE passwords.
func (k Kind) Valid() bool {
	return k >= KindMRZ && k <= KindPUK
}

// Width returns the fixed number of decimal digits a brute-force candidate
// of this kind has. MRZ is not numeric and returns ErrNotBreakable.
func (k Kind) Width() (int, error) {
	switch k {
	case KindPIN:
		return PINWidth, nil
	case KindCAN:
		return CANWidth, nil
	case KindPUK:
		return PUKWidth, nil
	case KindMRZ:
		return 0, fmt.Errorf("%w: %s", ErrNotBreakable, k)
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MRZ":
		return KindMRZ, nil
	case "CAN":
		return KindCAN, nil
	case "PIN":
		return KindPIN, nil
	case "PUK":
		return KindPUK, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Secret is an immutable password for one channel establishment.
// The zero value of the value field means "ask interactively".
type Secret struct {
	kind  Kind
	value []byte
}

// New creates a secret with a known value.
func New(kind Kind, value string) Secret {
	return Secret{kind: kind, value: []byte(value)}
}

// FromBytes creates a secret from a copy of value. An empty value yields an
// interactive secret.
func FromBytes(kind Kind, value []byte) Secret {
	if len(value) == 0 {
		return Interactive(kind)
	}
	return Secret{kind: kind, value: append([]byte(nil), value...)}
}

// Interactive creates a secret whose value is collected by the channel
// establishment collaborator.
func Interactive(kind Kind) Secret {
	return Secret{kind: kind}
}

// Kind returns the secret kind.
func (s Secret) Kind() Kind {
	return s.kind
}

// Value returns a copy of the secret value, or nil when absent.
func (s Secret) Value() []byte {
	if s.value == nil {
		return nil
	}
	v := make([]byte, len(s.value))
	copy(v, s.value)
	return v
}

// Len returns the length of the value; zero when absent.
func (s Secret) Len() int {
	return len(s.value)
}

// IsInteractive reports whether the value is absent.
func (s Secret) IsInteractive() bool {
	return len(s.value) == 0
}

// String never reveals the value.
func (s Secret) String() string {
	if s.IsInteractive() {
		return s.kind.String() + "(interactive)"
	}
	return fmt.Sprintf("%s(%d digits)", s.kind, len(s.value))
}

// ParseStart parses a brute-force start counter. An empty string starts at
// zero.
func ParseStart(kind Kind, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an unsigned long long", ErrNotNumeric, kind)
	}
	return n, nil
}
