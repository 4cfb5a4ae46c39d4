// Package log provides the structured protocol trace for pace-tool.
//
// This package defines the Logger interface and Event types for capturing
// card-level events at three layers (transport, secure messaging, workflow).
// It is separate from operational logging (slog): the trace is a complete
// machine-readable record of what was sent to the card and how each workflow
// moved through its states.
//
// # Basic Usage
//
//	// For development: trace to console via slog
//	trace := log.NewSlogAdapter(slog.Default())
//
//	// For later analysis: write to binary file
//	trace, _ := log.NewFileLogger("/tmp/run.ptrace")
//
//	// Both: use MultiLogger
//	trace := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: raw APDU bytes exchanged with the reader (FrameEvent)
//   - Secure messaging: plaintext APDUs before wrapping and after
//     unwrapping (FrameEvent)
//   - Workflow: state machine transitions and session lifecycle
//     (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// Secret values never appear in events. Administrative commands that carry
// a new PIN are not traced at the secure messaging layer.
//
// # File Format
//
// Trace files use CBOR encoding with .plog extension. The pace-log CLI
// provides viewing and statistics.
package log
