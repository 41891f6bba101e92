package engine

import (
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenControl sets SO_REUSEADDR on stream listeners so a restarted
// server can rebind past TIME_WAIT, plus the socket buffer sizes when
// configured. SO_REUSEPORT is never set: a second server on a held port
// must fail to bind. Datagram sockets get no reuse option at all, since
// SO_REUSEADDR lets two udp sockets share a port on linux.
func listenControl(sockBuf int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var err error
		errCtl := c.Control(func(fd uintptr) {
			if strings.HasPrefix(network, "tcp") {
				err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if err != nil {
					return
				}
			}
			err = setBufSize(fd, sockBuf)
		})
		if errCtl != nil {
			return errCtl
		}
		return err
	}
}

// dialControl only applies the socket buffer sizes.
func dialControl(sockBuf int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var err error
		errCtl := c.Control(func(fd uintptr) {
			err = setBufSize(fd, sockBuf)
		})
		if errCtl != nil {
			return errCtl
		}
		return err
	}
}

func setBufSize(fd uintptr, size int) error {
	if size <= 0 {
		return nil
	}
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size); err != nil {
		return errors.Wrap(err, "SO_SNDBUF")
	}
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return errors.Wrap(err, "SO_RCVBUF")
	}
	return nil
}

// classifyListenErr separates failures to claim the address from other
// listen failures.
func classifyListenErr(err error) error {
	if errors.Is(err, unix.EADDRINUSE) || errors.Is(err, unix.EADDRNOTAVAIL) || errors.Is(err, unix.EACCES) {
		return withKind(ErrBind, err)
	}
	return withKind(ErrListen, err)
}
