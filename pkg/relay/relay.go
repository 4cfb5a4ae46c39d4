// Package relay forwards plaintext command APDUs through an established
// PACE session and prints the decrypted responses.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pace-tool/pace-go/pkg/apdu"
	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/pace"
)

// Banner is printed before each interactive line.
const Banner = "Enter unencrypted C-APDU (empty line to exit)"

// Farewell is printed when an empty line ends the relay.
const Farewell = "Thanks for flying with pace-tool"

// separator ends every response block.
var separator = strings.Repeat("=", 70)

// Relay reads C-APDUs, sends them through a session and reports responses.
type Relay struct {
	tx     pace.Transmitter
	out    io.Writer
	logger *slog.Logger
	trace  log.Logger
}

// New creates a relay. A nil logger uses slog.Default.
func New(tx pace.Transmitter, out io.Writer, logger *slog.Logger, trace log.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{tx: tx, out: out, logger: logger, trace: log.OrNoop(trace)}
}

// Run relays lines until an empty line (success) or the end of input
// (error). Malformed lines and failed transmissions are logged and skipped.
func (r *Relay) Run(ctx context.Context, s *pace.Session, lines LineReader) error {
	interactive := lines.Interactive()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if interactive {
			fmt.Fprintln(r.out, Banner)
		}

		line, err := lines.ReadLine(ctx)
		if err != nil {
			return pace.NewError("read C-APDU", pace.CodeInternal, err)
		}
		if line == "" {
			fmt.Fprintln(r.out, Farewell)
			return nil
		}

		r.relayLine(ctx, s, line, interactive)
	}
}

func (r *Relay) relayLine(ctx context.Context, s *pace.Session, line string, interactive bool) {
	buf, err := apdu.DecodeHex(line, apdu.BufferSize)
	if err != nil {
		r.logger.Warn("could not parse C-APDU hex", "error", err)
		return
	}

	if !interactive {
		fmt.Fprint(r.out, apdu.Dump("Unencrypted C-APDU", buf))
	}

	cmd, err := apdu.ParseCommand(buf)
	if err != nil {
		r.logger.Warn("could not parse C-APDU", "error", err, "size", len(buf))
		return
	}

	r.traceFrame(s, log.DirectionOut, buf)
	resp, err := r.tx.TransmitSecure(ctx, s, cmd)
	if err != nil {
		r.logger.Warn("could not send C-APDU", "error", err, "code", pace.Code(err))
		return
	}
	r.traceFrame(s, log.DirectionIn, resp.Bytes())

	fmt.Fprintf(r.out, "Decrypted R-APDU sw1=%02x sw2=%02x\n", resp.SW1, resp.SW2)
	fmt.Fprint(r.out, apdu.Dump("Decrypted R-APDU response data", resp.Data))
	fmt.Fprintln(r.out, separator)
}

func (r *Relay) traceFrame(s *pace.Session, dir log.Direction, data []byte) {
	r.trace.Log(log.Event{
		Direction:  dir,
		Layer:      log.LayerSecureMessaging,
		Category:   log.CategoryAPDU,
		SessionID:  s.ID(),
		SecretKind: s.Kind().String(),
		Frame:      log.NewFrame(data),
	})
}
