package pcsc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/pace"
)

// EstablishPACEChannel function index of FEATURE_EXECUTE_PACE.
const functionEstablishPACEChannel = 0x02

// maxPINLength is the largest secret the one-byte length field can carry.
const maxPINLength = 0xFF

// maxInputLength is the largest input the two-byte lenInputData can carry.
const maxInputLength = 0xFFFF

// Reader PACE errors.
var (
	ErrPACENotSupported = errors.New("pcsc: reader does not support PACE")
	ErrMalformedOutput  = errors.New("pcsc: malformed EstablishPACEChannel output")
	ErrSecretTooLong    = errors.New("pcsc: secret exceeds 255 bytes")
	ErrInputTooLong     = errors.New("pcsc: EstablishPACEChannel input exceeds 65535 bytes")
)

// ResultError is a non-zero EstablishPACEChannel result code.
type ResultError struct {
	Result uint32
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("reader returned PACE result %08X", e.Result)
}

// StatusWord returns the card status embedded in results of the form
// F006xxxx, which report a failed GENERAL AUTHENTICATE or MSE:Set AT.
func (e *ResultError) StatusWord() (uint16, bool) {
	if e.Result&0xFFFF0000 == 0xF0060000 || e.Result&0xFFFF0000 == 0xF0000000 {
		return uint16(e.Result), uint16(e.Result) != 0
	}
	return 0, false
}

// controller is the part of Reader used by ReaderPACE.
type controller interface {
	control(ioctl uint32, in []byte) ([]byte, error)
}

// ReaderPACE runs PACE in the reader firmware.
type ReaderPACE struct {
	ctl   controller
	ioctl uint32
	name  string
	trace log.Logger
}

// PACE returns the reader-side PACE establisher. It fails with
// pace.CodeNotSupported when the reader lacks FEATURE_EXECUTE_PACE.
func (r *Reader) PACE() (*ReaderPACE, error) {
	const op = "query reader features"
	features, err := r.Features()
	if err != nil {
		return nil, pace.NewError(op, pace.CodeReader, err)
	}
	ioctl, ok := features[FeatureExecutePACE]
	if !ok {
		return nil, pace.NewError(op, pace.CodeNotSupported, fmt.Errorf("%w: %s", ErrPACENotSupported, r.name))
	}
	return &ReaderPACE{ctl: r, ioctl: ioctl, name: r.name, trace: r.trace}, nil
}

// EstablishChannel runs EstablishPACEChannel. An interactive secret is left
// to the reader's PIN pad. With a prior session the reader runs the new PACE
// inside the secure messaging it already holds.
func (p *ReaderPACE) EstablishChannel(ctx context.Context, prior *pace.Session, req pace.ChannelRequest) (*pace.ChannelResult, error) {
	op := "establish PACE channel with " + req.Secret.Kind().String()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := encodeEstablishInput(req)
	if err != nil {
		return nil, pace.NewError(op, pace.CodeInvalidArguments, err)
	}
	defer clear(in)

	p.trace.Log(log.Event{
		Direction:  log.DirectionOut,
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		Reader:     p.name,
		SecretKind: req.Secret.Kind().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityCard,
			NewState: "PACE_IN_PROGRESS",
			Reason:   "EstablishPACEChannel",
		},
	})

	out, err := p.ctl.control(p.ioctl, in)
	if err != nil {
		return nil, pace.NewError(op, pace.CodeReader, err)
	}

	res, err := decodeEstablishOutput(out)
	if err != nil {
		var re *ResultError
		if errors.As(err, &re) {
			if sw, ok := re.StatusWord(); ok && sw&0xFFF0 == 0x63C0 {
				return nil, pace.NewError(op, pace.CodeAuthenticationFailed, err)
			}
			return nil, pace.NewError(op, pace.CodeCardCommandFailed, err)
		}
		return nil, pace.NewError(op, pace.CodeInternal, err)
	}

	res.Session = pace.NewSession(req.Secret.Kind(), pace.PlainCipher{})
	return res, nil
}

// encodeEstablishInput builds the EstablishPACEChannel command:
//
//	function(1) lenInput(2 LE) PinID(1) lenCHAT(1) CHAT lenPIN(1) PIN
//	lenCertDesc(2 LE) CertDesc
//
// TR-03110 version 1 sends neither CHAT nor certificate description.
func encodeEstablishInput(req pace.ChannelRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pin := req.Secret.Value()
	defer clear(pin)
	if len(pin) > maxPINLength {
		return nil, ErrSecretTooLong
	}

	chat, certDesc := req.CHAT, req.CertificateDescription
	if req.TRVersion == 1 {
		chat, certDesc = nil, nil
	}

	inputLen := 1 + 1 + len(chat) + 1 + len(pin) + 2 + len(certDesc)
	if inputLen > maxInputLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInputTooLong, inputLen)
	}
	b := make([]byte, 0, 3+inputLen)
	b = append(b, functionEstablishPACEChannel)
	b = binary.LittleEndian.AppendUint16(b, uint16(inputLen))
	b = append(b, byte(req.Secret.Kind()))
	b = append(b, byte(len(chat)))
	b = append(b, chat...)
	b = append(b, byte(len(pin)))
	b = append(b, pin...)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(certDesc)))
	b = append(b, certDesc...)
	return b, nil
}

// decodeEstablishOutput parses the EstablishPACEChannel response:
//
//	result(4 LE) lenOutput(2 LE) MSESetATStatus(2) lenEFCardAccess(2 LE)
//	EFCardAccess lenCARcurr(1) CARcurr lenCARprev(1) CARprev
//	lenIDicc(2 LE) IDicc
func decodeEstablishOutput(b []byte) (*pace.ChannelResult, error) {
	d := decoder{b: b}

	result := d.uint32LE()
	if d.err != nil {
		return nil, d.err
	}
	if result != 0 {
		return nil, &ResultError{Result: result}
	}

	n := int(d.uint16LE())
	if d.err == nil && n != len(d.b) {
		return nil, fmt.Errorf("%w: output length %d, have %d", ErrMalformedOutput, n, len(d.b))
	}

	res := &pace.ChannelResult{}
	res.MSESetATStatus = binary.BigEndian.Uint16(d.bytes(2))
	res.EFCardAccess = d.bytes(int(d.uint16LE()))
	res.RecentCAR = d.bytes(int(d.uint8()))
	res.PreviousCAR = d.bytes(int(d.uint8()))
	res.IDICC = d.bytes(int(d.uint16LE()))
	if d.err != nil {
		return nil, d.err
	}
	return res, nil
}

// decoder reads little-endian fields and records the first short read.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if len(d.b) < n {
		d.err = fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedOutput, n, len(d.b))
		return make([]byte, n)
	}
	v := append([]byte(nil), d.b[:n]...)
	d.b = d.b[n:]
	return v
}

func (d *decoder) uint8() uint8 {
	return d.bytes(1)[0]
}

func (d *decoder) uint16LE() uint16 {
	return binary.LittleEndian.Uint16(d.bytes(2))
}

func (d *decoder) uint32LE() uint32 {
	return binary.LittleEndian.Uint32(d.bytes(4))
}

var _ pace.Establisher = (*ReaderPACE)(nil)
