//go:build !windows

package pcsc

// ctlCode mirrors SCARD_CTL_CODE of pcsc-lite.
func ctlCode(code uint32) uint32 {
	return 0x42000000 + code
}
