// Package pace manages PACE (Password Authenticated Connection Establishment)
// sessions with a smart card.
//
// # Overview
//
// PACE binds a short password (PIN, CAN, PUK or MRZ) to a fresh session key
// and starts secure messaging between terminal and card. The key agreement
// itself and the secure messaging cipher are provided by an Establisher and
// the Cipher it returns; this package owns what happens around them:
//
//   - Channel invokes the Establisher once per call, optionally chained onto
//     a previous session, and registers every new session with the run's
//     Lifecycle.
//   - Session is the owning handle over cipher state. Release zeroizes the
//     cipher exactly once; further calls are no-ops.
//   - Lifecycle is the single cleanup point of a run. Close releases every
//     result that was tracked, whichever workflow branch produced it.
//   - Messenger wraps, transmits and unwraps APDUs through a session.
//   - Admin issues the PIN management commands through a session.
//
// # Result Codes
//
// Protocol failures are reported as *Error carrying a negative result code.
// The process exit status is the negated code of the last failing operation.
//
// # Session Lifecycle
//
//  1. Channel.Establish returns a ChannelResult owning a new Session
//  2. The result is tracked by the Lifecycle
//  3. Workflows use the session (chaining, admin commands, relay)
//  4. Lifecycle.Close releases every tracked result on every exit path
package pace
