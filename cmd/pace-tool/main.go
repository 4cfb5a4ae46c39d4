// pace-tool establishes PACE channels with German identity cards through a
// PC/SC reader, manages the card PIN and relays APDUs over the channel.
//
// Usage:
//
//	pace-tool --pin=123456 --translate=apdus.txt
//	pace-tool --resume-pin --can --pin
//	pace-tool --unblock-pin --puk
//	pace-tool --new-pin --pin
//	pace-tool --break --can
//
// Secrets given without value are read from the environment variable of the
// same name (PIN, CAN, PUK, MRZ, NEWPIN) or prompted for.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/pace-tool/pace-go/cmd/pace-tool/interactive"
	"github.com/pace-tool/pace-go/pkg/config"
	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/pcsc"
	"github.com/pace-tool/pace-go/pkg/relay"
	"github.com/pace-tool/pace-go/pkg/workflow"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args, os.Getenv, os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "pace-tool: %v\n", err)
		}
		return config.ExitCode(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	plan, err := cfg.Plan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pace-tool: %v\n", err)
		return config.ExitCode(err)
	}

	trace, closeTrace, err := setupTrace(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pace-tool: open trace: %v\n", err)
		return 1
	}
	defer closeTrace()
	logger.Debug("run started", "run_id", trace.RunID(), "mode", plan.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	card, err := pcsc.Connect(cfg.Reader, trace, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pace-tool: %v\n", err)
		return 1
	}
	defer func() {
		if err := card.Close(); err != nil {
			logger.Warn("could not reset card", "reader", card.Name(), "error", err)
		}
	}()
	logger.Info("connected", "reader", card.Name())

	readerPACE, err := card.PACE()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pace-tool: %v\n", err)
		return pace.ExitStatus(err)
	}

	in, err := newInput(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pace-tool: %v\n", err)
		return 1
	}
	defer in.Close()

	var est pace.Establisher = readerPACE
	if !cfg.PinPad {
		est = pace.WithPrompter(readerPACE, in.prompter)
	}

	lifecycle := pace.NewLifecycle()
	messenger := pace.NewMessenger(card)
	orch := workflow.New(workflow.Deps{
		Channel:   pace.NewChannel(est, lifecycle, trace),
		Lifecycle: lifecycle,
		Admin:     newAdmin(cfg, messenger, in.prompter),
		Relay:     relay.New(messenger, in.out, logger, trace),
		Lines:     in.lines,
		Out:       in.out,
		ErrOut:    in.errOut,
		Logger:    logger,
		Trace:     trace,
	})

	err = orch.Run(ctx, plan)
	if err != nil {
		logger.Debug("run failed", "code", pace.Code(err), "error", err)
	}
	return pace.ExitStatus(err)
}

// setupTrace builds the protocol trace: the trace file when configured and
// the debug log when verbose, stamped with a fresh run ID.
func setupTrace(cfg *config.Config, logger *slog.Logger) (*log.RunLogger, func(), error) {
	var sinks []log.Logger
	closeFn := func() {}

	if cfg.TracePath != "" {
		fl, err := log.NewFileLogger(cfg.TracePath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fl)
		closeFn = func() { _ = fl.Close() }
	}
	if cfg.SlogLevel() <= slog.LevelDebug {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}

	return log.NewRunLogger(log.NewMultiLogger(sinks...), uuid.NewString(), ""), closeFn, nil
}

// newAdmin collects an absent new PIN on the host. With -pinpad the new PIN
// has to be given by -new-pin or $NEWPIN.
func newAdmin(cfg *config.Config, tx pace.Transmitter, p pace.Prompter) pace.Administrator {
	adm := pace.NewAdmin(tx)
	if cfg.PinPad {
		return adm
	}
	return pace.AdminWithPrompter(adm, p)
}

// input is where APDU lines and prompted secrets come from. Both share
// standard input, so they share one buffered reader. Output goes through
// out and errOut so it does not garble a readline prompt.
type input struct {
	lines    relay.LineReader
	prompter pace.Prompter
	closer   io.Closer
	out      io.Writer
	errOut   io.Writer
}

func newInput(cfg *config.Config) (*input, error) {
	in := input{out: os.Stdout, errOut: os.Stderr}

	if readline.IsTerminal(int(os.Stdin.Fd())) {
		console, err := interactive.New()
		if err != nil {
			return nil, err
		}
		in.lines, in.prompter, in.closer = console, console, console
		in.out, in.errOut = console.Stdout(), console.Stderr()
	} else {
		stdin := relay.NewLineReader(os.Stdin, true)
		in.lines = stdin
		in.prompter = &linePrompter{lines: stdin, out: os.Stderr}
	}

	if path := cfg.TranslateSource(); path != "" {
		f, err := os.Open(path)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("open APDU file: %w", err)
		}
		in.lines = relay.NewLineReader(f, false)
		prev := in.closer
		in.closer = closers{f, prev}
	}
	return &in, nil
}

func (in *input) Close() {
	if in.closer != nil {
		_ = in.closer.Close()
	}
}

// linePrompter reads secrets as plain lines when standard input is not a
// terminal.
type linePrompter struct {
	lines relay.LineReader
	out   io.Writer
}

func (p *linePrompter) ReadSecret(ctx context.Context, prompt string) ([]byte, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.lines.ReadLine(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
