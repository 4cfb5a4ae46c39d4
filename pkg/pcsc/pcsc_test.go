package pcsc

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/ebfe/scard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pace-tool/pace-go/pkg/log"
	"github.com/pace-tool/pace-go/pkg/pace"
	"github.com/pace-tool/pace-go/pkg/secret"
)

type stubCard struct {
	mock.Mock
}

func (s *stubCard) Transmit(cmd []byte) ([]byte, error) {
	args := s.Called(cmd)
	resp, _ := args.Get(0).([]byte)
	return resp, args.Error(1)
}

func (s *stubCard) Control(ioctl uint32, in []byte) ([]byte, error) {
	args := s.Called(ioctl, in)
	resp, _ := args.Get(0).([]byte)
	return resp, args.Error(1)
}

func (s *stubCard) Disconnect(d scard.Disposition) error {
	return s.Called(d).Error(0)
}

type recordingTrace struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingTrace) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTrace) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.StateChange != nil {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

func featureTLV(tag byte, code uint32) []byte {
	b := []byte{tag, 4}
	return binary.BigEndian.AppendUint32(b, code)
}

// establishOutput builds a successful EstablishPACEChannel response.
func establishOutput(sw uint16, efca, car, carPrev, idicc []byte) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint16(out, sw)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(efca)))
	out = append(out, efca...)
	out = append(out, byte(len(car)))
	out = append(out, car...)
	out = append(out, byte(len(carPrev)))
	out = append(out, carPrev...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(idicc)))
	out = append(out, idicc...)

	b := binary.LittleEndian.AppendUint32(nil, 0)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(out)))
	return append(b, out...)
}

func TestSelectReader(t *testing.T) {
	readers := []string{"Reader A", "Reader B", "Reader C"}
	present := func(name string) bool { return name == "Reader B" }

	t.Run("explicit index", func(t *testing.T) {
		name, err := selectReader(readers, 2, present)
		require.NoError(t, err)
		assert.Equal(t, "Reader C", name)
	})

	t.Run("first with card", func(t *testing.T) {
		name, err := selectReader(readers, -1, present)
		require.NoError(t, err)
		assert.Equal(t, "Reader B", name)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := selectReader(readers, 3, present)
		assert.ErrorIs(t, err, ErrNoReader)
	})

	t.Run("no card", func(t *testing.T) {
		_, err := selectReader(readers, -1, func(string) bool { return false })
		assert.ErrorIs(t, err, ErrNoCard)
	})

	t.Run("no readers", func(t *testing.T) {
		_, err := selectReader(nil, -1, present)
		assert.ErrorIs(t, err, ErrNoReader)
	})
}

func TestParseFeatures(t *testing.T) {
	var b []byte
	b = append(b, featureTLV(FeatureVerifyPINDirect, 0x42330006)...)
	b = append(b, featureTLV(FeatureExecutePACE, 0x42330020)...)

	f, err := parseFeatures(b)
	require.NoError(t, err)
	assert.Contains(t, f, FeatureExecutePACE)
	assert.NotContains(t, f, FeatureModifyPINDirect)
	assert.Equal(t, uint32(0x42330020), f[FeatureExecutePACE])

	f, err = parseFeatures(nil)
	require.NoError(t, err)
	assert.Empty(t, f)

	_, err = parseFeatures([]byte{0x20})
	assert.ErrorIs(t, err, ErrMalformedFeatures)

	_, err = parseFeatures([]byte{0x20, 2, 0, 0})
	assert.ErrorIs(t, err, ErrMalformedFeatures)
}

func TestReaderTransmitTracesFrames(t *testing.T) {
	card := &stubCard{}
	card.On("Transmit", []byte{0x00, 0xA4, 0x00, 0x0C}).Return([]byte{0x90, 0x00}, nil)
	trace := &recordingTrace{}
	r := newReader("Reader A", card, nil, trace, nil)

	resp, err := r.Transmit(context.Background(), []byte{0x00, 0xA4, 0x00, 0x0C})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, resp)

	require.Len(t, trace.events, 2)
	assert.Equal(t, log.DirectionOut, trace.events[0].Direction)
	assert.Equal(t, log.DirectionIn, trace.events[1].Direction)
	assert.Equal(t, log.LayerTransport, trace.events[1].Layer)
	assert.Equal(t, "Reader A", trace.events[1].Reader)
	assert.Equal(t, []byte{0x90, 0x00}, trace.events[1].Frame.Data)
	card.AssertExpectations(t)
}

func TestReaderTransmitError(t *testing.T) {
	card := &stubCard{}
	card.On("Transmit", mock.Anything).Return(nil, errors.New("card removed"))
	r := newReader("Reader A", card, nil, nil, nil)

	_, err := r.Transmit(context.Background(), []byte{0x00, 0xB0, 0x00, 0x00})
	require.Error(t, err)
	assert.Equal(t, pace.CodeReader, pace.Code(err))
}

func TestReaderTransmitCanceled(t *testing.T) {
	card := &stubCard{}
	r := newReader("Reader A", card, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Transmit(ctx, []byte{0x00, 0xB0, 0x00, 0x00})
	assert.ErrorIs(t, err, context.Canceled)
	card.AssertNotCalled(t, "Transmit", mock.Anything)
}

func TestReaderChangePINKeepsPINOutOfTrace(t *testing.T) {
	card := &stubCard{}
	card.On("Transmit", []byte{0x00, 0x2C, 0x02, 0x03, 0x06, '6', '5', '4', '3', '2', '1'}).
		Return([]byte{0x90, 0x00}, nil).Once()
	trace := &recordingTrace{}
	r := newReader("Reader A", card, nil, trace, nil)

	adm := pace.NewAdmin(pace.NewMessenger(r))
	s := pace.NewSession(secret.KindPIN, pace.PlainCipher{})
	require.NoError(t, adm.ChangeSecret(context.Background(), s, []byte("654321")))
	card.AssertExpectations(t)

	require.Len(t, trace.events, 2)
	out := trace.events[0].Frame
	require.NotNil(t, out)
	assert.True(t, out.Redacted)
	assert.Equal(t, 11, out.Size)
	assert.Equal(t, []byte{0x00, 0x2C, 0x02, 0x03, 0x06}, out.Data)
	for _, e := range trace.events {
		assert.NotContains(t, string(e.Frame.Data), "654321")
	}
}

func TestReaderCloseIdempotent(t *testing.T) {
	card := &stubCard{}
	card.On("Disconnect", scard.ResetCard).Return(nil).Once()
	releases := 0
	trace := &recordingTrace{}
	r := newReader("Reader A", card, func() error { releases++; return nil }, trace, nil)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, releases)
	assert.Equal(t, []string{"RESET"}, trace.states())
	card.AssertExpectations(t)

	_, err := r.Transmit(context.Background(), []byte{0x00, 0xB0, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrReaderClosed)
	assert.Equal(t, pace.CodeReader, pace.Code(err))
}

func TestReaderPACENotSupported(t *testing.T) {
	card := &stubCard{}
	card.On("Control", ctlCode(getFeatureRequest), []byte(nil)).
		Return(featureTLV(FeatureVerifyPINDirect, 0x42330006), nil)
	r := newReader("Reader A", card, nil, nil, nil)

	_, err := r.PACE()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPACENotSupported)
	assert.Equal(t, pace.CodeNotSupported, pace.Code(err))
}

func TestReaderPACEFeatureQueryFails(t *testing.T) {
	card := &stubCard{}
	card.On("Control", mock.Anything, mock.Anything).Return(nil, errors.New("not supported by driver"))
	r := newReader("Reader A", card, nil, nil, nil)

	_, err := r.PACE()
	require.Error(t, err)
	assert.Equal(t, pace.CodeReader, pace.Code(err))
}

func TestEncodeEstablishInput(t *testing.T) {
	req := pace.ChannelRequest{
		Secret:                 secret.New(secret.KindPIN, "123456"),
		CHAT:                   []byte{0x7F, 0x4C},
		CertificateDescription: []byte{0x30, 0x01, 0x00},
		TRVersion:              2,
	}

	b, err := encodeEstablishInput(req)
	require.NoError(t, err)

	want := []byte{
		0x02,       // function
		0x10, 0x00, // input length
		0x03,             // PIN
		0x02, 0x7F, 0x4C, // CHAT
		0x06, '1', '2', '3', '4', '5', '6', // PIN
		0x03, 0x00, 0x30, 0x01, 0x00, // certificate description
	}
	assert.Equal(t, want, b)
}

func TestEncodeEstablishInputLengthLimit(t *testing.T) {
	req := func(certDescLen int) pace.ChannelRequest {
		return pace.ChannelRequest{
			Secret:                 secret.New(secret.KindPIN, "123456"),
			CHAT:                   make([]byte, 255),
			CertificateDescription: make([]byte, certDescLen),
			TRVersion:              2,
		}
	}
	// PinID, lenCHAT, CHAT, lenPIN, PIN and lenCertDesc take 266 bytes.
	fits := 0xFFFF - 266

	b, err := encodeEstablishInput(req(fits))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF}, b[1:3])
	assert.Len(t, b, 3+0xFFFF)

	_, err = encodeEstablishInput(req(fits + 1))
	assert.ErrorIs(t, err, ErrInputTooLong)

	_, err = encodeEstablishInput(req(0xFFFF))
	assert.ErrorIs(t, err, ErrInputTooLong)
}

func TestReaderPACEEstablishRejectsOversizedInput(t *testing.T) {
	card := &stubCard{}
	p := &ReaderPACE{ctl: newReader("Reader A", card, nil, nil, nil), ioctl: 0x42330020, name: "Reader A", trace: log.NoopLogger{}}

	_, err := p.EstablishChannel(context.Background(), nil, pace.ChannelRequest{
		Secret:                 secret.New(secret.KindPIN, "123456"),
		CHAT:                   make([]byte, 255),
		CertificateDescription: make([]byte, 0xFFFF),
		TRVersion:              2,
	})
	assert.ErrorIs(t, err, ErrInputTooLong)
	assert.Equal(t, pace.CodeInvalidArguments, pace.Code(err))
	card.AssertNotCalled(t, "Control", mock.Anything, mock.Anything)
}

func TestEncodeEstablishInputTRVersion1(t *testing.T) {
	req := pace.ChannelRequest{
		Secret:                 secret.New(secret.KindCAN, "654321"),
		CHAT:                   []byte{0x7F, 0x4C},
		CertificateDescription: []byte{0x30, 0x01, 0x00},
		TRVersion:              1,
	}

	b, err := encodeEstablishInput(req)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, 0x0B, 0x00,
		0x02,
		0x00,
		0x06, '6', '5', '4', '3', '2', '1',
		0x00, 0x00,
	}, b)
}

func TestEncodeEstablishInputPINPad(t *testing.T) {
	req := pace.ChannelRequest{Secret: secret.Interactive(secret.KindPIN), TRVersion: 2}

	b, err := encodeEstablishInput(req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x05, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00}, b)
}

func TestDecodeEstablishOutput(t *testing.T) {
	out := establishOutput(0x9000,
		[]byte{0x31, 0x14},
		[]byte("DECVCAeID00102"),
		nil,
		[]byte{0x01, 0x02, 0x03},
	)

	res, err := decodeEstablishOutput(out)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x9000), res.MSESetATStatus)
	assert.Equal(t, []byte{0x31, 0x14}, res.EFCardAccess)
	assert.Equal(t, []byte("DECVCAeID00102"), res.RecentCAR)
	assert.Empty(t, res.PreviousCAR)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, res.IDICC)
}

func TestDecodeEstablishOutputMalformed(t *testing.T) {
	out := establishOutput(0x9000, []byte{0x31, 0x14}, nil, nil, nil)

	_, err := decodeEstablishOutput(out[:len(out)-1])
	assert.ErrorIs(t, err, ErrMalformedOutput)

	_, err = decodeEstablishOutput([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestDecodeEstablishOutputResult(t *testing.T) {
	_, err := decodeEstablishOutput(binary.LittleEndian.AppendUint32(nil, 0xF00663C2))

	var re *ResultError
	require.ErrorAs(t, err, &re)
	sw, ok := re.StatusWord()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x63C2), sw)
}

func readerPACE(t *testing.T, card *stubCard) *ReaderPACE {
	t.Helper()
	card.On("Control", ctlCode(getFeatureRequest), []byte(nil)).
		Return(featureTLV(FeatureExecutePACE, 0x42330020), nil)
	r := newReader("Reader A", card, nil, nil, nil)
	p, err := r.PACE()
	require.NoError(t, err)
	return p
}

func TestReaderPACEEstablish(t *testing.T) {
	card := &stubCard{}
	p := readerPACE(t, card)
	card.On("Control", uint32(0x42330020), mock.Anything).
		Return(establishOutput(0x9000, []byte{0x31}, []byte("CAR"), nil, []byte{0xAA}), nil)

	req := pace.ChannelRequest{Secret: secret.New(secret.KindPIN, "123456"), TRVersion: 2}
	res, err := p.EstablishChannel(context.Background(), nil, req)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, secret.KindPIN, res.Session.Kind())
	assert.Equal(t, []byte("CAR"), res.RecentCAR)
	card.AssertExpectations(t)
}

func TestReaderPACEEstablishWrongPIN(t *testing.T) {
	card := &stubCard{}
	p := readerPACE(t, card)
	card.On("Control", uint32(0x42330020), mock.Anything).
		Return(binary.LittleEndian.AppendUint32(nil, 0xF00663C2), nil)

	req := pace.ChannelRequest{Secret: secret.New(secret.KindPIN, "000000"), TRVersion: 2}
	_, err := p.EstablishChannel(context.Background(), nil, req)
	require.Error(t, err)
	assert.Equal(t, pace.CodeAuthenticationFailed, pace.Code(err))
}

func TestReaderPACEEstablishCardError(t *testing.T) {
	card := &stubCard{}
	p := readerPACE(t, card)
	card.On("Control", uint32(0x42330020), mock.Anything).
		Return(binary.LittleEndian.AppendUint32(nil, 0xF0066A80), nil)

	req := pace.ChannelRequest{Secret: secret.New(secret.KindCAN, "123456"), TRVersion: 2}
	_, err := p.EstablishChannel(context.Background(), nil, req)
	require.Error(t, err)
	assert.Equal(t, pace.CodeCardCommandFailed, pace.Code(err))
}

func TestReaderPACEEstablishControlFails(t *testing.T) {
	card := &stubCard{}
	p := readerPACE(t, card)
	card.On("Control", uint32(0x42330020), mock.Anything).Return(nil, errors.New("timeout"))

	req := pace.ChannelRequest{Secret: secret.New(secret.KindCAN, "123456"), TRVersion: 2}
	_, err := p.EstablishChannel(context.Background(), nil, req)
	require.Error(t, err)
	assert.Equal(t, pace.CodeReader, pace.Code(err))
}

func TestReaderPACEEstablishReleasedPrior(t *testing.T) {
	card := &stubCard{}
	p := readerPACE(t, card)
	card.On("Control", uint32(0x42330020), mock.Anything).
		Return(establishOutput(0x9000, nil, nil, nil, nil), nil)
	trace := &recordingTrace{}
	ch := pace.NewChannel(p, pace.NewLifecycle(), trace)

	req := pace.ChannelRequest{Secret: secret.New(secret.KindCAN, "123456"), TRVersion: 2}
	first, err := ch.Establish(context.Background(), nil, req)
	require.NoError(t, err)
	first.Session.Release()

	_, err = ch.Establish(context.Background(), first.Session, req.WithSecret(secret.New(secret.KindPIN, "123456")))
	assert.ErrorIs(t, err, pace.ErrSessionReleased)
}
