//go:build windows

package pcsc

// ctlCode mirrors SCARD_CTL_CODE of the Windows smart card subsystem.
func ctlCode(code uint32) uint32 {
	return (0x31 << 16) | (code << 2)
}
