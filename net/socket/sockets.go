// +build linux

package socket

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Create opens a nonblocking close-on-exec TCP socket for family.
func Create(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, errors.Wrap(err, "create socket")
	}
	return fd, nil
}

// Bind ...
func Bind(fd int, addr *InetAddr) error {
	if err := unix.Bind(fd, addr.Sockaddr()); err != nil {
		return errors.Wrapf(err, "bind %s", addr.IPPort())
	}
	return nil
}

// Listen uses the largest backlog the kernel accepts.
func Listen(fd int) error {
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// Accept returns a nonblocking close-on-exec connected fd and the peer.
// The raw errno is returned unwrapped so callers can switch on it.
func Accept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// Connect starts a nonblocking connect; the raw errno comes back unwrapped.
func Connect(fd int, addr *InetAddr) error {
	return unix.Connect(fd, addr.Sockaddr())
}

// ShutdownWrite half-closes the sending side.
func ShutdownWrite(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		return errors.Wrap(err, "shutdown write")
	}
	return nil
}

// Close ...
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return errors.Wrapf(err, "close fd %d", fd)
	}
	return nil
}

func SetReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func SetReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// SetNoDelay toggles Nagle's algorithm.
func SetNoDelay(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

// SetKeepAlivePeriod enables keep-alive with the probe interval in seconds.
func SetKeepAlivePeriod(fd, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}

// GetSocketError drains SO_ERROR; nil means the socket carries no error.
func GetSocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrap(err, "getsockopt SO_ERROR")
	}
	if v == 0 {
		return nil
	}
	return syscall.Errno(v)
}

// GetLocalAddr ...
func GetLocalAddr(fd int) unix.Sockaddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return sa
}

// GetPeerAddr ...
func GetPeerAddr(fd int) unix.Sockaddr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return sa
}

// IsSelfConnect reports the rare simultaneous-open case where the kernel
// connected the socket to itself.
func IsSelfConnect(fd int) bool {
	local := GetLocalAddr(fd)
	peer := GetPeerAddr(fd)
	if local == nil || peer == nil {
		return false
	}
	switch l := local.(type) {
	case *unix.SockaddrInet4:
		p, ok := peer.(*unix.SockaddrInet4)
		return ok && l.Port == p.Port && l.Addr == p.Addr
	case *unix.SockaddrInet6:
		p, ok := peer.(*unix.SockaddrInet6)
		return ok && l.Port == p.Port && l.Addr == p.Addr
	}
	return false
}
