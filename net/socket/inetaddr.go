package socket

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// InetAddr is an IPv4/IPv6 address+port value type, convertible to and from
// the sockaddr the kernel speaks.
type InetAddr struct {
	ip   net.IP
	port int
}

// NewInetAddr parses ip (empty means 0.0.0.0) and pairs it with port.
func NewInetAddr(ip string, port int) (*InetAddr, error) {
	if len(ip) == 0 {
		ip = "0.0.0.0"
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, errors.Errorf("bad ip %q", ip)
	}
	return &InetAddr{ip: parsed, port: port}, nil
}

// ParseInetAddr splits "ip:port" and parses both halves.
func ParseInetAddr(ipPort string) (*InetAddr, error) {
	host, portStr, err := net.SplitHostPort(ipPort)
	if err != nil {
		return nil, errors.Wrap(err, "split ip:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrap(err, "parse port")
	}
	return NewInetAddr(host, port)
}

// FromSockaddr converts a kernel sockaddr.
func FromSockaddr(sa unix.Sockaddr) *InetAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &InetAddr{ip: ip, port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &InetAddr{ip: ip, port: sa.Port}
	default:
		return &InetAddr{ip: net.IPv4zero, port: 0}
	}
}

// Family is unix.AF_INET or unix.AF_INET6.
func (this *InetAddr) Family() int {
	if this.ip.To4() != nil {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func (this *InetAddr) IP() string {
	return this.ip.String()
}

func (this *InetAddr) Port() int {
	return this.port
}

// IPPort is the "ip:port" form ("[ip]:port" for v6).
func (this *InetAddr) IPPort() string {
	return net.JoinHostPort(this.ip.String(), strconv.Itoa(this.port))
}

func (this *InetAddr) String() string {
	return this.IPPort()
}

// Sockaddr converts to the kernel form.
func (this *InetAddr) Sockaddr() unix.Sockaddr {
	if ip4 := this.ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: this.port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: this.port}
	copy(sa.Addr[:], this.ip.To16())
	return sa
}

// SockaddrToString formats without building an InetAddr.
func SockaddrToString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	default:
		return fmt.Sprintf("(unknown - %T)", sa)
	}
}
