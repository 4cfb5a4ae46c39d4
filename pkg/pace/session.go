package pace

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pace-tool/pace-go/pkg/apdu"
	"github.com/pace-tool/pace-go/pkg/secret"
)

// Cipher is the secure messaging state negotiated by PACE.
type Cipher interface {
	// Wrap protects a plaintext command for transmission.
	Wrap(cmd *apdu.Command) ([]byte, error)

	// Unwrap verifies and decrypts a protected response.
	Unwrap(raw []byte) (*apdu.Response, error)

	// Zeroize erases all key material. Called at most once.
	Zeroize()
}

// Session is the owning handle over one established PACE channel.
type Session struct {
	mu       sync.Mutex
	id       string
	kind     secret.Kind
	cipher   Cipher
	released bool

	// onRelease is invoked once after the cipher has been zeroized.
	onRelease func(*Session)
}

// NewSession wraps cipher state negotiated with a secret of the given kind.
func NewSession(kind secret.Kind, cipher Cipher) *Session {
	return &Session{
		id:     uuid.New().String(),
		kind:   kind,
		cipher: cipher,
	}
}

// ID returns the session identifier used in traces.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Kind returns the secret kind the session was established with.
func (s *Session) Kind() secret.Kind {
	if s == nil {
		return 0
	}
	return s.kind
}

// Released reports whether Release has been called. A nil session counts as
// released.
func (s *Session) Released() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Release zeroizes the cipher. Safe to call repeatedly and on nil.
func (s *Session) Release() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	c := s.cipher
	s.cipher = nil
	hook := s.onRelease
	s.onRelease = nil
	s.mu.Unlock()

	if c != nil {
		c.Zeroize()
	}
	if hook != nil {
		hook(s)
	}
}

// activeCipher returns the cipher of a live session.
func (s *Session) activeCipher() (Cipher, error) {
	if s == nil {
		return nil, ErrSessionReleased
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.cipher == nil {
		return nil, ErrSessionReleased
	}
	return s.cipher, nil
}

// PlainCipher passes APDUs through unchanged. Used when secure messaging is
// terminated outside the host, e.g. in a reader with a PACE capable firmware.
type PlainCipher struct{}

// Wrap encodes cmd without protection.
func (PlainCipher) Wrap(cmd *apdu.Command) ([]byte, error) {
	return cmd.Bytes()
}

// Unwrap parses raw as a plain response.
func (PlainCipher) Unwrap(raw []byte) (*apdu.Response, error) {
	return apdu.ParseResponse(raw)
}

// Zeroize is a no-op.
func (PlainCipher) Zeroize() {}

var _ Cipher = PlainCipher{}
