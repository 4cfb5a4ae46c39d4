// Package config builds the immutable run configuration of pace-tool from
// command-line flags, an optional YAML file and the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pace-tool/pace-go/pkg/apdu"
	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/secret"
	"github.com/pace-tool/pace-go/pkg/workflow"
)

// Configuration errors.
var (
	ErrInvalidNumber    = errors.New("invalid number")
	ErrInvalidHex       = errors.New("invalid hex string")
	ErrConflictingModes = errors.New("conflicting workflow modes")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrUnknownArgument  = errors.New("unknown argument")
)

// NewPINEnv is consulted when -new-pin is given without a value.
const NewPINEnv = "NEWPIN"

// StdinSource selects standard input for -translate.
const StdinSource = "stdin"

// Config is the resolved configuration of one run. It is built once by
// Parse and not modified afterwards.
type Config struct {
	ConfigFile string

	// Reader is the PC/SC reader index; -1 picks the first reader with a card.
	Reader int

	LogLevel  string
	Verbosity int

	// TracePath receives CBOR protocol trace events when set.
	TracePath string

	// PinPad leaves absent secrets to the reader's PIN pad.
	PinPad bool

	CHAT      []byte
	CertDesc  []byte
	TRVersion int

	PIN, CAN, PUK, MRZ OptionalValue
	NewPIN             OptionalValue
	Translate          OptionalValue

	Resume  bool
	Unblock bool
	Break   bool

	getenv func(string) string
}

// Default returns the configuration used when nothing is given.
func Default() *Config {
	return &Config{
		Reader:    -1,
		LogLevel:  "warn",
		TRVersion: pace.DefaultTRVersion,
		getenv:    os.Getenv,
	}
}

// Parse builds a Config from args (without the program name). Values from
// the file named by -config apply unless the same flag was given. A nil
// getenv uses os.Getenv.
func Parse(args []string, getenv func(string) string, errOut io.Writer) (*Config, error) {
	cfg := Default()
	if getenv != nil {
		cfg.getenv = getenv
	}

	var chatHex, certDescHex string
	fs := flag.NewFlagSet("pace-tool", flag.ContinueOnError)
	if errOut != nil {
		fs.SetOutput(errOut)
	}

	fs.StringVar(&cfg.ConfigFile, "config", "", "YAML configuration file for non-secret settings")
	fs.IntVar(&cfg.Reader, "reader", cfg.Reader, "Number of reader to use (default: first reader with a card)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.Var(countFlag{&cfg.Verbosity}, "v", "Use (several times) to be more verbose")
	fs.StringVar(&cfg.TracePath, "trace", "", "File path for protocol trace events (CBOR format)")
	fs.BoolVar(&cfg.PinPad, "pinpad", false, "Enter absent secrets on the reader's PIN pad")

	fs.Var(optionalFlag{&cfg.PIN}, "pin", "Run PACE with (transport) PIN; -pin=VALUE or $PIN")
	fs.Var(optionalFlag{&cfg.CAN}, "can", "Run PACE with CAN; -can=VALUE or $CAN")
	fs.Var(optionalFlag{&cfg.PUK}, "puk", "Run PACE with PUK; -puk=VALUE or $PUK")
	fs.Var(optionalFlag{&cfg.MRZ}, "mrz", "Run PACE with MRZ (without newlines); -mrz=VALUE or $MRZ")
	fs.Var(optionalFlag{&cfg.NewPIN}, "new-pin", "Install a new PIN; -new-pin=VALUE or $NEWPIN")
	fs.Var(optionalFlag{&cfg.Translate}, "translate", "APDUs to send through the secure channel; -translate=FILE (default: stdin)")

	fs.BoolVar(&cfg.Resume, "resume-pin", false, "Resume PIN (uses CAN to activate last retry)")
	fs.BoolVar(&cfg.Unblock, "unblock-pin", false, "Unblock PIN (uses PUK to activate three more retries)")
	fs.BoolVar(&cfg.Break, "break", false, "Brute force the secret (only for PIN, CAN, PUK)")

	fs.StringVar(&chatHex, "chat", "", "Card holder authorization template to use (hex string)")
	fs.StringVar(&certDescHex, "cert-desc", "", "Certificate description to use (hex string)")
	fs.IntVar(&cfg.TRVersion, "tr-03110v", cfg.TRVersion, "Version of TR-03110 (1, or 2 for version 2 and later)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		if strings.HasPrefix(err.Error(), "invalid value") {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownArgument, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArgument, strings.Join(fs.Args(), ", "))
	}

	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })

	if cfg.ConfigFile != "" {
		fc, err := loadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg, given, &chatHex, &certDescHex)
	}

	var err error
	if cfg.CHAT, err = decodeHex("chat", chatHex, pace.MaxCHAT); err != nil {
		return nil, err
	}
	if cfg.CertDesc, err = decodeHex("cert-desc", certDescHex, pace.MaxCertDesc); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeHex(name, s string, max int) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := apdu.DecodeHex(s, max)
	if err != nil {
		return nil, fmt.Errorf("%w: -%s: %v", ErrInvalidHex, name, err)
	}
	return b, nil
}

// Validate checks value ranges and mode exclusivity.
func (c *Config) Validate() error {
	if c.Reader < -1 {
		return fmt.Errorf("%w: reader %d", ErrInvalidNumber, c.Reader)
	}
	if c.TRVersion != 1 && c.TRVersion != 2 {
		return fmt.Errorf("%w: TR-03110 version %d", ErrInvalidNumber, c.TRVersion)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if len(c.CHAT) > pace.MaxCHAT {
		return fmt.Errorf("%w: %v", ErrInvalidHex, pace.ErrCHATTooLong)
	}
	if len(c.CertDesc) > pace.MaxCertDesc {
		return fmt.Errorf("%w: %v", ErrInvalidHex, pace.ErrCertDescTooLong)
	}

	var modes []string
	if c.Resume {
		modes = append(modes, "resume-pin")
	}
	if c.Unblock {
		modes = append(modes, "unblock-pin")
	}
	if c.NewPIN.Set {
		modes = append(modes, "new-pin")
	}
	if c.Break {
		modes = append(modes, "break")
	}
	if len(modes) > 1 {
		return fmt.Errorf("%w: %s", ErrConflictingModes, strings.Join(modes, ", "))
	}
	return nil
}

// Mode returns the selected workflow. Without a mode flag the run is a
// direct establishment.
func (c *Config) Mode() workflow.Mode {
	switch {
	case c.Resume:
		return workflow.ModeResume
	case c.Unblock:
		return workflow.ModeUnblock
	case c.NewPIN.Set:
		return workflow.ModeChange
	case c.Break:
		return workflow.ModeBreak
	default:
		return workflow.ModeDirect
	}
}

// Selector returns the secret selector for the requested kinds.
func (c *Config) Selector() *secret.Selector {
	opt := func(v OptionalValue) secret.Option {
		return secret.Option{Requested: v.Set, Value: v.Value, HasValue: v.HasValue}
	}
	return secret.NewSelector(map[secret.Kind]secret.Option{
		secret.KindPIN: opt(c.PIN),
		secret.KindCAN: opt(c.CAN),
		secret.KindPUK: opt(c.PUK),
		secret.KindMRZ: opt(c.MRZ),
	}, c.getenv)
}

// NewPINValue returns the replacement PIN from -new-pin or $NEWPIN, or nil
// when it must be entered interactively.
func (c *Config) NewPINValue() []byte {
	if !c.NewPIN.Set {
		return nil
	}
	if c.NewPIN.HasValue && c.NewPIN.Value != "" {
		return []byte(c.NewPIN.Value)
	}
	if v := c.env(NewPINEnv); v != "" {
		return []byte(v)
	}
	return nil
}

func (c *Config) env(name string) string {
	if c.getenv == nil {
		return os.Getenv(name)
	}
	return c.getenv(name)
}

// BaseRequest returns the establishment parameters shared by all channels.
func (c *Config) BaseRequest() pace.ChannelRequest {
	return pace.ChannelRequest{
		CHAT:                   c.CHAT,
		CertificateDescription: c.CertDesc,
		TRVersion:              c.TRVersion,
	}
}

// Plan resolves the workflow plan. Errors are configuration errors and occur
// before the card is touched.
func (c *Config) Plan() (*workflow.Plan, error) {
	plan, err := workflow.NewPlan(c.Mode(), c.Selector(), c.BaseRequest())
	if err != nil {
		return nil, err
	}
	plan.NewPIN = c.NewPINValue()
	plan.Translate = c.Translate.Set
	return plan, nil
}

// TranslateSource returns the APDU input path, or "" for standard input.
func (c *Config) TranslateSource() string {
	if !c.Translate.HasValue || strings.HasPrefix(c.Translate.Value, StdinSource) {
		return ""
	}
	return c.Translate.Value
}

// SlogLevel returns the log level, lowered by one step per -v.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	return level - slog.Level(4*c.Verbosity)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
}

// ExitCode maps a configuration error to the process exit status: 2 for
// malformed values, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, ErrInvalidNumber),
		errors.Is(err, ErrInvalidHex),
		errors.Is(err, ErrInvalidLogLevel),
		errors.Is(err, secret.ErrNotNumeric):
		return 2
	default:
		return 1
	}
}
