package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pace-tool/pace-go/pkg/bruteforce"
	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/relay"
	"github.com/pace-tool/pace-go/pkg/secret"
)

// ErrNoRelay is returned when translation is requested without a relay.
var ErrNoRelay = errors.New("workflow: no APDU relay configured")

// Establisher runs one channel establishment. *pace.Channel satisfies it.
type Establisher interface {
	Establish(ctx context.Context, prior *pace.Session, req pace.ChannelRequest) (*pace.ChannelResult, error)
}

// Relayer forwards APDU lines through a session. *relay.Relay satisfies it.
type Relayer interface {
	Run(ctx context.Context, s *pace.Session, lines relay.LineReader) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	// Channel establishes sessions. Every result it returns must be
	// tracked by Lifecycle.
	Channel   Establisher
	Lifecycle *pace.Lifecycle

	// Admin performs PIN management. Required for ModeUnblock and ModeChange.
	Admin pace.Administrator

	// Relay and Lines are required when a plan translates APDUs.
	Relay Relayer
	Lines relay.LineReader

	// Out receives progress lines, ErrOut failure lines.
	Out    io.Writer
	ErrOut io.Writer

	Logger *slog.Logger
	Trace  log.Logger
}

// Orchestrator runs a Plan against a card.
type Orchestrator struct {
	d   Deps
	now func() time.Time
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	if d.Out == nil {
		d.Out = io.Discard
	}
	if d.ErrOut == nil {
		d.ErrOut = io.Discard
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Lifecycle == nil {
		d.Lifecycle = pace.NewLifecycle()
	}
	d.Trace = log.OrNoop(d.Trace)
	return &Orchestrator{d: d, now: time.Now}
}

// Run executes plan. Every session established during the run is released
// before Run returns, on success and on failure.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (err error) {
	defer o.d.Lifecycle.Close()

	m := NewMachine(plan.Mode)
	m.OnStateChange(o.traceTransition)
	defer func() {
		if err != nil {
			m.Fail(err.Error())
		}
	}()

	var final *pace.ChannelResult
	switch plan.Mode {
	case ModeDirect:
		final, err = o.establish(ctx, m, nil, plan, plan.Secrets[0], "")
	case ModeResume:
		final, err = o.resume(ctx, m, plan)
	case ModeUnblock:
		final, err = o.unblock(ctx, m, plan)
	case ModeChange:
		final, err = o.change(ctx, m, plan)
	case ModeBreak:
		final, err = o.breakSecret(ctx, m, plan)
	default:
		return fmt.Errorf("%w: mode %d", ErrNoModeSelected, uint8(plan.Mode))
	}
	if err != nil {
		return err
	}

	if plan.Translate {
		if o.d.Relay == nil || o.d.Lines == nil {
			return o.fail("relay APDUs", final.Session.Kind(), ErrNoRelay)
		}
		if err = o.d.Relay.Run(ctx, final.Session, o.d.Lines); err != nil {
			return o.fail("relay APDUs", final.Session.Kind(), err)
		}
	}

	return m.Transition(StateDone, "")
}

// establish resolves s and establishes a channel, optionally chained onto
// prior. suffix is appended to the progress line.
func (o *Orchestrator) establish(ctx context.Context, m *Machine, prior *pace.Session, plan *Plan, s secret.Secret, suffix string) (*pace.ChannelResult, error) {
	kind := s.Kind()
	if err := m.Transition(StateSecretResolved, kind.String()); err != nil {
		return nil, err
	}

	start := o.now()
	res, err := o.d.Channel.Establish(ctx, prior, plan.request(s))
	elapsed := o.now().Sub(start)
	if err != nil {
		return nil, o.fail("establish PACE channel", kind, err)
	}

	fmt.Fprintf(o.d.Out, "Established PACE channel with %s in %.0fs.%s\n", kind, elapsed.Seconds(), suffix)
	if err := m.Transition(StateChannelEstablished, res.Session.ID()); err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) resume(ctx context.Context, m *Machine, plan *Plan) (*pace.ChannelResult, error) {
	can, err := o.establish(ctx, m, nil, plan, plan.Secrets[0], "")
	if err != nil {
		return nil, err
	}
	return o.establish(ctx, m, can.Session, plan, plan.Secrets[1], " PIN resumed.")
}

func (o *Orchestrator) unblock(ctx context.Context, m *Machine, plan *Plan) (*pace.ChannelResult, error) {
	res, err := o.establish(ctx, m, nil, plan, plan.Secrets[0], "")
	if err != nil {
		return nil, err
	}
	if err := o.d.Admin.UnblockSecret(ctx, res.Session); err != nil {
		return nil, o.fail("unblock PIN", res.Session.Kind(), err)
	}
	fmt.Fprintln(o.d.Out, "Unblocked PIN.")
	return res, m.Transition(StateAdminOpComplete, "unblocked")
}

func (o *Orchestrator) change(ctx context.Context, m *Machine, plan *Plan) (*pace.ChannelResult, error) {
	res, err := o.establish(ctx, m, nil, plan, plan.Secrets[0], "")
	if err != nil {
		return nil, err
	}
	if err := o.d.Admin.ChangeSecret(ctx, res.Session, plan.NewPIN); err != nil {
		return nil, o.fail("change PIN", res.Session.Kind(), err)
	}
	fmt.Fprintln(o.d.Out, "Changed PIN.")
	return res, m.Transition(StateAdminOpComplete, "changed")
}

func (o *Orchestrator) breakSecret(ctx context.Context, m *Machine, plan *Plan) (*pace.ChannelResult, error) {
	kind := plan.BreakKind
	if err := m.Transition(StateSecretResolved, kind.String()); err != nil {
		return nil, err
	}

	rec := bruteforce.New(o.d.Channel, plan.Base, o.d.Out)
	res, err := rec.Recover(ctx, kind, plan.BreakStart)
	if err != nil {
		if res != nil {
			fmt.Fprintf(o.d.Out, "Tried breaking %s for %.0fs without success.\n", kind, res.Elapsed.Seconds())
		}
		return nil, o.fail("break", kind, err)
	}

	fmt.Fprintf(o.d.Out, "Tried breaking %s for %.0fs with success.\n", kind, res.Elapsed.Seconds())
	fmt.Fprintf(o.d.Out, "%s=%s\n", kind, res.Value)
	if err := m.Transition(StateChannelEstablished, res.Channel.Session.ID()); err != nil {
		return nil, err
	}
	return res.Channel, nil
}

// fail reports a failed step and returns err unchanged.
func (o *Orchestrator) fail(step string, kind secret.Kind, err error) error {
	fmt.Fprintf(o.d.ErrOut, "Failed to %s with %s: %v\n", step, kind, err)
	o.d.Logger.Debug("workflow step failed",
		"step", step,
		"secret", kind.String(),
		"code", pace.Code(err),
		"error", err)
	return err
}

func (o *Orchestrator) traceTransition(oldState, newState State, reason string) {
	o.d.Trace.Log(log.Event{
		Layer:    log.LayerWorkflow,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityWorkflow,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})
}
