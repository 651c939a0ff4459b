//go:build !windows

package platform

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsAddrInUse reports whether err is the bind collision errno, which the
// SSDP port fallback treats the same as a privilege refusal.
func IsAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

func setReuseAddr(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
