package log

import (
	"time"
)

// MaxFrameData is the number of APDU bytes kept in a FrameEvent.
const MaxFrameData = 1024

// Event represents a protocol trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// RunID identifies one pace-tool invocation (UUID).
	RunID string `cbor:"2,keyasint"`

	// Direction indicates APDU flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Reader is the PC/SC reader name.
	Reader string `cbor:"6,keyasint,omitempty"`

	// SessionID identifies the PACE session (populated after establishment).
	SessionID string `cbor:"7,keyasint,omitempty"`

	// SecretKind is the PACE password kind the event relates to.
	SecretKind string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // APDU bytes
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Workflow/session state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of APDU flow.
type Direction uint8

const (
	// DirectionIn indicates a response from the card.
	DirectionIn Direction = 0
	// DirectionOut indicates a command to the card.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the reader layer (raw APDU bytes).
	LayerTransport Layer = 0
	// LayerSecureMessaging is the plaintext side of the secure channel.
	LayerSecureMessaging Layer = 1
	// LayerWorkflow is the orchestration layer.
	LayerWorkflow Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSecureMessaging:
		return "SM"
	case LayerWorkflow:
		return "WORKFLOW"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryAPDU indicates a command or response APDU.
	CategoryAPDU Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryAPDU:
		return "APDU"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures APDU bytes.
type FrameEvent struct {
	// Size is the APDU size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the APDU (may be truncated for large APDUs).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Redacted indicates Data holds only the command header and length.
	Redacted bool `cbor:"4,keyasint,omitempty"`
}

// NewFrame copies data into a FrameEvent, truncating to MaxFrameData.
func NewFrame(data []byte) *FrameEvent {
	f := &FrameEvent{Size: len(data)}
	n := len(data)
	if n > MaxFrameData {
		n = MaxFrameData
		f.Truncated = true
	}
	f.Data = append([]byte(nil), data[:n]...)
	return f
}

// NewRedactedFrame keeps the header and Lc of a command APDU and drops its
// body. Extended Lc (00 XX XX) is kept whole.
func NewRedactedFrame(cmd []byte) *FrameEvent {
	n := min(len(cmd), 5)
	if len(cmd) >= 7 && cmd[4] == 0x00 {
		n = 7
	}
	return &FrameEvent{
		Size:     len(cmd),
		Data:     append([]byte(nil), cmd[:n]...),
		Redacted: true,
	}
}

// StateChangeEvent captures workflow and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityWorkflow indicates a workflow state machine transition.
	StateEntityWorkflow StateEntity = 0
	// StateEntitySession indicates a PACE session was created or released.
	StateEntitySession StateEntity = 1
	// StateEntityCard indicates a card connection change.
	StateEntityCard StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityWorkflow:
		return "WORKFLOW"
	case StateEntitySession:
		return "SESSION"
	case StateEntityCard:
		return "CARD"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the result code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
