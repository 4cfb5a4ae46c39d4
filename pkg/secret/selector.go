package secret

import (
	"fmt"
	"os"
)

// Option is the command-line state of one secret kind.
type Option struct {
	// Requested is set when the kind was named on the command line.
	Requested bool

	// Value is the value given on the command line, if any.
	Value string

	// HasValue distinguishes "-pin" from "-pin=".
	HasValue bool
}

// Selector resolves secrets from options and the environment.
// It is built once and not modified afterwards.
type Selector struct {
	options map[Kind]Option
	getenv  func(string) string
}

// NewSelector creates a selector. A nil getenv uses os.Getenv.
func NewSelector(options map[Kind]Option, getenv func(string) string) *Selector {
	if getenv == nil {
		getenv = os.Getenv
	}
	opts := make(map[Kind]Option, len(options))
	for k, v := range options {
		opts[k] = v
	}
	return &Selector{options: opts, getenv: getenv}
}

// Requested reports whether the kind was named on the command line.
func (s *Selector) Requested(kind Kind) bool {
	return s.options[kind].Requested
}

// value returns the configured value for kind and whether one exists.
func (s *Selector) value(kind Kind) (string, bool) {
	opt := s.options[kind]
	if opt.HasValue && opt.Value != "" {
		return opt.Value, true
	}
	if !opt.Requested {
		return "", false
	}
	if v := s.getenv(kind.Env()); v != "" {
		return v, true
	}
	return "", false
}

// For returns the secret of the given kind, interactive when no value is
// known. Chained workflows use this to fetch both of their secrets.
func (s *Selector) For(kind Kind) Secret {
	if v, ok := s.value(kind); ok {
		return New(kind, v)
	}
	return Interactive(kind)
}

// Select returns the single requested secret for a direct establishment.
func (s *Selector) Select() (Secret, error) {
	kind, err := s.single(KindPIN, KindCAN, KindMRZ, KindPUK)
	if err != nil {
		return Secret{}, err
	}
	return s.For(kind), nil
}

// Breakable returns the requested numeric kind and the counter to start a
// brute-force search at. The start is the configured value, or zero.
func (s *Selector) Breakable() (Kind, uint64, error) {
	if s.Requested(KindMRZ) && !s.Requested(KindPIN) && !s.Requested(KindCAN) && !s.Requested(KindPUK) {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotBreakable, KindMRZ)
	}
	kind, err := s.single(KindPIN, KindCAN, KindPUK)
	if err != nil {
		return 0, 0, err
	}
	v, _ := s.value(kind)
	start, err := ParseStart(kind, v)
	if err != nil {
		return 0, 0, err
	}
	return kind, start, nil
}

// single returns the only requested kind among candidates.
func (s *Selector) single(candidates ...Kind) (Kind, error) {
	var found []Kind
	for _, k := range candidates {
		if s.Requested(k) {
			found = append(found, k)
		}
	}
	switch len(found) {
	case 0:
		return 0, fmt.Errorf("%w: specify one of %v", ErrNoSecretSelected, candidates)
	case 1:
		return found[0], nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrConflictingSecrets, found)
	}
}
