// Package pcsc connects to smart cards through the PC/SC service.
//
// Reader is the card transport: it selects a reader, transmits raw APDUs and
// resets the card on Close. ReaderPACE runs PACE inside readers that
// implement the EstablishPACEChannel feature of PC/SC part 10 amendment 1.
// Such readers terminate secure messaging themselves, so sessions created
// by ReaderPACE use pace.PlainCipher.
package pcsc
