// Package secret resolves which PACE secret authenticates a channel.
//
// # Secret Kinds
//
// PACE binds a low-entropy password to a fresh session key. The card accepts
// four passwords, identified by their PinID:
//
//   - MRZ (1): derived from the machine-readable zone of the document
//   - CAN (2): card access number printed on the card
//   - PIN (3): the holder's secret PIN (or transport PIN)
//   - PUK (4): personal unblocking key
//
// # Interactive Entry
//
// A Secret without a value has length zero. The channel establishment
// collaborator then sources the password itself, either from the reader's
// PIN pad or from a host prompt.
//
// # Selection
//
// The Selector is built once from command-line options and the environment.
// A kind that was requested without a value falls back to the environment
// variable of the same name (PIN, CAN, PUK, MRZ). An empty variable counts as
// absent.
package secret
