//go:build windows

package network

import (
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

// ReuseAddrListenConfig returns a listen config that sets SO_REUSEADDR so the
// API port can be rebound after a restart.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddrControl}
}

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
